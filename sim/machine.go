// sim/machine.go
package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Status is the lifecycle state of a Machine.
type Status int

const (
	StatusConstructed Status = iota
	StatusWaiting
	StatusBusy
	StatusSuccess
	StatusFail
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusConstructed:
		return "constructed"
	case StatusWaiting:
		return "waiting"
	case StatusBusy:
		return "busy"
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Body is the protocol logic a Machine drives.
//
// Ready is the readiness predicate checked by Start. Run begins the body; it
// suspends by calling Machine.Await with a continuation and must not block.
type Body interface {
	Ready() error
	Run(m *Machine)
}

// Resetter is implemented by bodies that clear local counters on Start.
type Resetter interface {
	Reset()
}

// Stopper is implemented by bodies that tear down extra state on Stop,
// such as child machines.
type Stopper interface {
	OnStop()
}

// Machine is a named, resumable protocol instance. Its body runs as a chain
// of continuations, each one executed atomically inside an event handler.
// At most one await is pending at a time.
type Machine struct {
	id   string
	sim  *Simulator
	body Body

	status   Status
	running  bool
	pending  func()
	memories []*Memory
	parent   *Group
}

// NewMachine registers id on the bus and returns a constructed machine.
func NewMachine(s *Simulator, id string, body Body) (*Machine, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: machine %q has no body", ErrConstruction, id)
	}
	if err := s.Bus().Register(id); err != nil {
		return nil, err
	}
	return &Machine{id: id, sim: s, body: body}, nil
}

// ID returns the machine's emitter ID.
func (m *Machine) ID() string { return m.id }

// Sim returns the simulator the machine runs on.
func (m *Machine) Sim() *Simulator { return m.sim }

// Bus returns the simulator's signal bus.
func (m *Machine) Bus() *Bus { return m.sim.Bus() }

// Body returns the protocol logic.
func (m *Machine) Body() Body { return m.body }

// Status returns the current lifecycle state.
func (m *Machine) Status() Status { return m.status }

// IsRunning reports whether the machine was started and not stopped since.
func (m *Machine) IsRunning() bool { return m.running }

// Suspended reports whether an await is pending.
func (m *Machine) Suspended() bool { return m.pending != nil }

// Start releases stale claims, resets the body and runs it.
// Starting a running machine is a no-op.
func (m *Machine) Start() error {
	if m.running {
		return nil
	}
	if err := m.body.Ready(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReady, m.id, err)
	}
	m.releaseAll()
	if r, ok := m.body.(Resetter); ok {
		r.Reset()
	}
	m.running = true
	m.setStatus(StatusWaiting, SignalWaiting)
	logrus.Debugf("[tick %07d] %s started", m.sim.Clock, m.id)
	m.step(func() { m.body.Run(m) })
	return nil
}

// Stop cancels the pending await, stops the body and releases every claim
// the machine holds. Safe from any state and safe to call twice.
func (m *Machine) Stop() {
	if m.pending != nil {
		cancel := m.pending
		m.pending = nil
		cancel()
	}
	wasRunning := m.running
	m.running = false
	if s, ok := m.body.(Stopper); ok && wasRunning {
		s.OnStop()
	}
	m.releaseAll()
	if m.status != StatusStopped {
		m.status = StatusStopped
		logrus.Debugf("[tick %07d] %s stopped", m.sim.Clock, m.id)
	}
}

// Await suspends the machine on expr; k runs with the result once expr
// resolves. Awaiting while another await is pending, or awaiting a consumed
// expression, is a coordination bug and panics.
// Await on a stopped machine is ignored.
func (m *Machine) Await(expr *Expr, k func(Result)) {
	if !m.running {
		logrus.Debugf("[tick %07d] %s: await on stopped machine ignored", m.sim.Clock, m.id)
		return
	}
	if m.pending != nil {
		panic(fmt.Sprintf("Machine.Await: %s already suspended", m.id))
	}
	cancel, err := expr.Await(m.sim, func(r Result) {
		m.pending = nil
		m.setStatus(StatusBusy, SignalBusy)
		m.step(func() { k(r) })
	})
	if err != nil {
		panic(fmt.Sprintf("Machine.Await: %s: %v", m.id, err))
	}
	m.pending = cancel
	m.setStatus(StatusWaiting, SignalWaiting)
}

// Succeed sets status Success and raises SUCCESS(payload).
func (m *Machine) Succeed(payload any) {
	m.status = StatusSuccess
	m.sim.Bus().Emit(m, SignalSuccess, payload)
}

// Fail sets status Fail and raises FAIL(payload).
func (m *Machine) Fail(payload any) {
	m.status = StatusFail
	m.sim.Bus().Emit(m, SignalFail, payload)
}

func (m *Machine) setStatus(s Status, sig SignalName) {
	if m.status == s {
		return
	}
	m.status = s
	m.sim.Bus().Emit(m, sig, nil)
}

// step runs one continuation. A running body that ends a step without
// awaiting has finished and is stopped.
func (m *Machine) step(fn func()) {
	fn()
	if m.running && m.pending == nil {
		logrus.Debugf("[tick %07d] %s finished", m.sim.Clock, m.id)
		m.Stop()
	}
}

// Track records mem so its claims are released when the machine stops.
func (m *Machine) Track(mem *Memory) {
	for _, t := range m.memories {
		if t == mem {
			return
		}
	}
	m.memories = append(m.memories, mem)
}

// Claim reserves count slots in mem with the machine as owner.
func (m *Machine) Claim(mem *Memory, count int) ([]int, error) {
	m.Track(mem)
	return mem.Claim(m.id, count)
}

// ClaimAt reserves the given slots in mem with the machine as owner.
func (m *Machine) ClaimAt(mem *Memory, ids ...int) error {
	m.Track(mem)
	return mem.ClaimAt(m.id, ids...)
}

// Release frees slots the machine holds in mem.
func (m *Machine) Release(mem *Memory, ids ...int) {
	mem.Release(m.id, ids...)
}

// Adopt takes over slots, content included, currently held by another owner.
func (m *Machine) Adopt(mem *Memory, from string, ids ...int) error {
	m.Track(mem)
	return mem.Transfer(from, m.id, ids...)
}

// Claimed returns the slots the machine holds in mem.
func (m *Machine) Claimed(mem *Memory) []int {
	return mem.Claimed(m.id)
}

func (m *Machine) releaseAll() {
	for _, mem := range m.memories {
		mem.ReleaseAll(m.id)
	}
}
