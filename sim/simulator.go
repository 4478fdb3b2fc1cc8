// sim/simulator.go
package sim

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Simulator is the discrete-event kernel that every protocol runs on.
// It holds simulation time, the event queue, the signal bus and the
// partitioned RNG. Execution is single-threaded: an event handler runs to
// completion before the next event is popped.
//
// Thread-safety: NOT thread-safe. All methods must be called from the same goroutine.
type Simulator struct {
	Clock   int64
	Horizon int64
	// EventCount is the number of events executed so far.
	EventCount int64

	queue   EventQueue
	nextSeq int64
	halted  bool
	rng     *PartitionedRNG
	bus     *Bus
}

// NewSimulator creates a Simulator that stops once the clock passes horizon.
// A horizon <= 0 means no horizon.
func NewSimulator(horizon int64, seed int64) *Simulator {
	if horizon <= 0 {
		horizon = math.MaxInt64
	}
	s := &Simulator{
		Horizon: horizon,
		queue:   make(EventQueue, 0),
		rng:     NewPartitionedRNG(NewSimulationKey(seed)),
	}
	s.bus = newBus(s)
	return s
}

// Bus returns the process-wide signal bus.
func (s *Simulator) Bus() *Bus { return s.bus }

// RNG returns the partitioned RNG for this run.
func (s *Simulator) RNG() *PartitionedRNG { return s.rng }

// Schedule pushes an event into the queue.
// Panics if the event is in the past: the clock never goes backwards.
func (s *Simulator) Schedule(ev Event) {
	if ev.Timestamp() < s.Clock {
		panic(fmt.Sprintf("Simulator.Schedule: event at %d is before clock %d", ev.Timestamp(), s.Clock))
	}
	heap.Push(&s.queue, eventEntry{event: ev, seqID: s.nextSeq})
	s.nextSeq++
}

// After schedules fn to run delay ticks from now with the given priority class.
func (s *Simulator) After(delay int64, priority int, fn func()) *Timer {
	if delay < 0 {
		panic(fmt.Sprintf("Simulator.After: negative delay %d", delay))
	}
	t := &Timer{time: s.Clock + delay, priority: priority, fn: fn}
	s.Schedule(t)
	return t
}

// HasPendingEvents reports whether a live event is queued.
func (s *Simulator) HasPendingEvents() bool {
	s.dropCanceled()
	return len(s.queue) > 0
}

// PeekNextEventTime returns the timestamp of the next live event.
// Panics if the queue is empty.
func (s *Simulator) PeekNextEventTime() int64 {
	s.dropCanceled()
	return s.queue[0].event.Timestamp()
}

// Step executes the next event. Returns false when nothing was executed
// because the queue is empty, the horizon was reached or Halt was called.
func (s *Simulator) Step() bool {
	s.dropCanceled()
	if s.halted || len(s.queue) == 0 {
		return false
	}
	if s.queue[0].event.Timestamp() > s.Horizon {
		return false
	}
	entry := heap.Pop(&s.queue).(eventEntry)
	s.Clock = entry.event.Timestamp()
	s.EventCount++
	logrus.Debugf("[tick %07d] Executing %T", s.Clock, entry.event)
	entry.event.Execute(s)
	return true
}

// dropCanceled discards cancelled timers at the head of the queue so they
// never advance the clock.
func (s *Simulator) dropCanceled() {
	for len(s.queue) > 0 {
		t, ok := s.queue[0].event.(*Timer)
		if !ok || !t.canceled {
			return
		}
		heap.Pop(&s.queue)
	}
}

// Run executes events until the queue drains, the horizon is passed or Halt is called.
func (s *Simulator) Run() {
	for s.Step() {
	}
	logrus.Infof("[tick %07d] Simulation ended after %d events", s.Clock, s.EventCount)
}

// RunUntil executes events with timestamps <= t, leaving later ones queued.
func (s *Simulator) RunUntil(t int64) {
	for !s.halted && s.HasPendingEvents() && s.queue[0].event.Timestamp() <= t {
		if !s.Step() {
			return
		}
	}
	if s.Clock < t && t <= s.Horizon {
		s.Clock = t
	}
}

// Halt stops Run after the current event completes.
func (s *Simulator) Halt() {
	s.halted = true
}

// Halted reports whether Halt was called.
func (s *Simulator) Halted() bool { return s.halted }
