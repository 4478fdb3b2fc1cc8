package sim

// Event defines the interface for all simulation events.
// Each event must have a Timestamp (in ticks), a Priority class used to order
// simultaneous events, and an Execute method that advances simulation state.
type Event interface {
	Timestamp() int64
	Priority() int
	Execute(*Simulator)
}

// Priority classes for events sharing a timestamp. Lower values run first,
// so messages land in port queues before awaiters observe them.
const (
	PriorityDelivery = 0 // port arrivals
	PrioritySignal   = 1 // signal delivery and level-triggered wakeups
	PriorityTimer    = 2 // timers and processor completions
)

// eventEntry wraps an Event with a sequence ID for deterministic FIFO
// tie-breaking when timestamp and priority are equal.
type eventEntry struct {
	event Event
	seqID int64
}

// EventQueue is a min-heap ordered by (Timestamp, Priority, seqID).
// Implements heap.Interface.
type EventQueue []eventEntry

func (q EventQueue) Len() int { return len(q) }

func (q EventQueue) Less(i, j int) bool {
	if q[i].event.Timestamp() != q[j].event.Timestamp() {
		return q[i].event.Timestamp() < q[j].event.Timestamp()
	}
	if q[i].event.Priority() != q[j].event.Priority() {
		return q[i].event.Priority() < q[j].event.Priority()
	}
	return q[i].seqID < q[j].seqID
}

func (q EventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *EventQueue) Push(x any) {
	*q = append(*q, x.(eventEntry))
}

func (q *EventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Timer is a cancellable callback scheduled at a fixed simulation time.
type Timer struct {
	time     int64
	priority int
	fn       func()
	canceled bool
}

// Timestamp returns the scheduled time of the Timer.
func (t *Timer) Timestamp() int64 { return t.time }

// Priority returns the Timer's priority class.
func (t *Timer) Priority() int { return t.priority }

// Execute runs the callback unless the Timer was cancelled.
func (t *Timer) Execute(*Simulator) {
	if t.canceled {
		return
	}
	t.fn()
}

// Cancel prevents the callback from running. Safe to call more than once.
func (t *Timer) Cancel() { t.canceled = true }

// Canceled reports whether Cancel was called.
func (t *Timer) Canceled() bool { return t.canceled }
