package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SignalName names a signal raised by an emitter.
type SignalName string

// Signals exposed by protocols and memories.
const (
	SignalWaiting   SignalName = "WAITING"
	SignalBusy      SignalName = "BUSY"
	SignalSuccess   SignalName = "SUCCESS"
	SignalFail      SignalName = "FAIL"
	SignalSlotFreed SignalName = "SLOT_FREED"
)

// Emitter is anything that can raise signals on the bus.
// IDs are unique per Bus.
type Emitter interface {
	ID() string
}

// Signal is one emission: who raised it, what, when, and the bus sequence
// number that orders it against every other emission.
type Signal struct {
	Source  string
	Name    SignalName
	Payload any
	Time    int64
	Seq     int64
}

type signalKey struct {
	source string
	name   SignalName
}

type subscription struct {
	fn     func(Signal)
	active bool
}

// Bus is the process-wide signal mechanism. An emission overwrites the
// visible result for its (source, name) pair and is delivered, in a
// zero-delay event, to the subscribers registered at the moment of emission.
type Bus struct {
	sim       *Simulator
	ids       map[string]bool
	last      map[signalKey]Signal
	subs      map[signalKey][]*subscription
	observers []func(Signal)
	seq       int64
}

func newBus(s *Simulator) *Bus {
	return &Bus{
		sim:  s,
		ids:  make(map[string]bool),
		last: make(map[signalKey]Signal),
		subs: make(map[signalKey][]*subscription),
	}
}

// Register reserves an emitter ID. Duplicate IDs are a construction error.
func (b *Bus) Register(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty emitter id", ErrConstruction)
	}
	if b.ids[id] {
		return fmt.Errorf("%w: duplicate emitter id %q", ErrConstruction, id)
	}
	b.ids[id] = true
	return nil
}

// Seq returns the sequence number of the most recent emission (0 if none).
func (b *Bus) Seq() int64 { return b.seq }

// Observe registers fn to see every emission synchronously, in emission order.
// Observers must not drive protocol logic; they exist for tracing.
func (b *Bus) Observe(fn func(Signal)) {
	b.observers = append(b.observers, fn)
}

// Emit raises a signal from src.
func (b *Bus) Emit(src Emitter, name SignalName, payload any) Signal {
	b.seq++
	sig := Signal{
		Source:  src.ID(),
		Name:    name,
		Payload: payload,
		Time:    b.sim.Clock,
		Seq:     b.seq,
	}
	key := signalKey{source: sig.Source, name: name}
	b.last[key] = sig
	logrus.Debugf("[tick %07d] signal %s.%s payload=%v", sig.Time, sig.Source, name, payload)
	for _, obs := range b.observers {
		obs(sig)
	}

	live := b.subs[key][:0]
	for _, sub := range b.subs[key] {
		if sub.active {
			live = append(live, sub)
		}
	}
	b.subs[key] = live
	if len(live) == 0 {
		return sig
	}
	snapshot := make([]*subscription, len(live))
	copy(snapshot, live)
	b.sim.After(0, PrioritySignal, func() {
		for _, sub := range snapshot {
			if sub.active {
				sub.fn(sig)
			}
		}
	})
	return sig
}

// Subscribe calls fn for every emission of (src, name) raised after this call
// until the returned cancel func is invoked.
func (b *Bus) Subscribe(src Emitter, name SignalName, fn func(Signal)) (cancel func()) {
	key := signalKey{source: src.ID(), name: name}
	sub := &subscription{fn: fn, active: true}
	b.subs[key] = append(b.subs[key], sub)
	return func() { sub.active = false }
}

// Last returns the visible result for (src, name): the most recent emission.
func (b *Bus) Last(src Emitter, name SignalName) (Signal, bool) {
	sig, ok := b.last[signalKey{source: src.ID(), name: name}]
	return sig, ok
}
