package qproc

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
)

// ErrEmptySlot is returned when an operation targets a slot with no unit in it.
var ErrEmptySlot = errors.New("empty slot")

// Processor executes local operations on one node's memory, one at a time.
// Each operation takes effect on the memory when issued; its result is
// delivered through a Completion once the gate duration has elapsed, queued
// behind any operation still in progress.
type Processor struct {
	name      string
	sim       *sim.Simulator
	mem       *sim.Memory
	gate      int64
	busyUntil int64
	rng       *rand.Rand

	// Ops counts issued operations.
	Ops int
}

// NewProcessor creates a processor over node's memory with a fixed gate
// duration. Its randomness comes from the node's RNG subsystem.
func NewProcessor(s *sim.Simulator, node *sim.Node, gate int64) *Processor {
	if gate < 0 {
		panic(fmt.Sprintf("NewProcessor: negative gate duration %d", gate))
	}
	return &Processor{
		name: node.Name,
		sim:  s,
		mem:  node.Memory,
		gate: gate,
		rng:  s.RNG().ForSubsystem(sim.SubsystemNode(node.Name)),
	}
}

// Busy reports whether an operation is still in progress.
func (p *Processor) Busy() bool { return p.busyUntil > p.sim.Clock }

// GateDuration returns the per-operation duration.
func (p *Processor) GateDuration() int64 { return p.gate }

func (p *Processor) unit(owner string, slot int) (*Unit, error) {
	if p.mem.Owner(slot) != owner {
		return nil, fmt.Errorf("%w: %s slot %d is not held by %q", sim.ErrSlotNotOwned, p.mem.ID(), slot, owner)
	}
	v, ok := p.mem.Peek(slot)
	if !ok {
		return nil, fmt.Errorf("%w: %s slot %d", ErrEmptySlot, p.mem.ID(), slot)
	}
	u, ok := v.(*Unit)
	if !ok {
		return nil, fmt.Errorf("%s slot %d holds %T, not a unit", p.mem.ID(), slot, v)
	}
	return u, nil
}

func (p *Processor) schedule(op string, value any) *sim.Completion {
	p.Ops++
	start := max(p.sim.Clock, p.busyUntil)
	done := start + p.gate
	p.busyUntil = done
	c := sim.NewCompletion(p.name + "." + op)
	p.sim.After(done-p.sim.Clock, sim.PriorityTimer, func() { c.Resolve(value) })
	logrus.Debugf("[tick %07d] %s: %s completes at %d", p.sim.Clock, p.name, op, done)
	return c
}

// BellMeasure jointly measures the units in slots a and b, consuming both and
// joining their partners into one pair. The completion carries the two-bit
// outcome as an int.
func (p *Processor) BellMeasure(owner string, a, b int) (*sim.Completion, error) {
	ua, err := p.unit(owner, a)
	if err != nil {
		return nil, err
	}
	ub, err := p.unit(owner, b)
	if err != nil {
		return nil, err
	}
	outcome := uint8(p.rng.Intn(4))
	Swap(ua, ub, outcome)
	if _, err := p.mem.Pop(owner, a); err != nil {
		return nil, err
	}
	if _, err := p.mem.Pop(owner, b); err != nil {
		return nil, err
	}
	return p.schedule("bell", int(outcome)), nil
}

// Compare checks the goal unit against the measurement unit, consuming the
// latter. The completion carries the local one-bit result as an int. Peers
// comparing the two ends of the same pairs get equal bits iff the pairs
// carry the same frame.
func (p *Processor) Compare(owner string, role Role, goal, meas int) (*sim.Completion, error) {
	ug, err := p.unit(owner, goal)
	if err != nil {
		return nil, err
	}
	um, err := p.unit(owner, meas)
	if err != nil {
		return nil, err
	}
	mp := um.Pair
	if !mp.coinSet {
		mp.coin = uint8(p.rng.Intn(2))
		mp.coinSet = true
	}
	bit := CompareBit(role, ug.Pair, mp, mp.coin)
	if _, err := p.mem.Pop(owner, meas); err != nil {
		return nil, err
	}
	return p.schedule("compare", int(bit)), nil
}

// Correct applies X and/or Z to the unit in slot.
func (p *Processor) Correct(owner string, slot int, x, z bool) (*sim.Completion, error) {
	u, err := p.unit(owner, slot)
	if err != nil {
		return nil, err
	}
	Correct(u, x, z)
	return p.schedule("correct", nil), nil
}
