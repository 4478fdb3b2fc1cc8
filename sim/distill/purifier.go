package distill

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// Kind tells how a purifier acquires its two units.
type Kind int

const (
	// KindLeaf takes two fresh pairs from its generator.
	KindLeaf Kind = iota
	// KindInner takes the surviving pairs of its two child blocks.
	KindInner
)

func (k Kind) String() string {
	if k == KindInner {
		return "inner"
	}
	return "leaf"
}

type phase int

const (
	phaseAcquire phase = iota
	phaseCompare
	phaseExchange
	phaseDecided
)

// report is one side's result for a round.
type report struct {
	round int
	bit   int
}

// Decision records how a purifier concluded a round.
type Decision struct {
	Round    int   `json:"round"`
	Success  bool  `json:"success"`
	Time     int64 `json:"time"`
	TimedOut bool  `json:"timed_out,omitempty"`
}

// Purifier is one end of a purification block. Once it holds a goal and a
// measurement unit it compares them, sends [round, bit] to its peer under the
// block's tag and decides: SUCCESS(goal slot) when the peer reports the same
// round and bit, FAIL(round) otherwise, discarding the goal unit.
//
// Leaf blocks are fed by a Generator. Inner blocks start once both child
// blocks on the same node have decided; a failed child fails the block
// without a comparison.
type Purifier struct {
	node    *sim.Node
	proc    *qproc.Processor
	port    *sim.Port
	role    qproc.Role
	kind    Kind
	layer   int
	block   int
	goal    int
	meas    int
	tag     string
	timeout int64

	gen      *sim.Machine
	children [2]*sim.Machine

	round    int
	cursor   int64
	phase    phase
	haveGoal bool
	local    *report
	remote   *report
	deadline int64

	// Decisions lists every decision in order.
	Decisions []Decision
}

// Tag is the message tag of the block at (layer, block).
func Tag(layer, block int) string {
	return fmt.Sprintf("purify/L%d/B%d", layer, block)
}

// Slots returns the goal and measurement slots of the block at (layer, block).
// The goal slot of block b in layer l is b*2^(l+1); its measurement slot is
// the goal slot of the second child, 2^l further.
func Slots(layer, block int) (goal, meas int) {
	span := 1 << layer
	goal = block * 2 * span
	return goal, goal + span
}

func newPurifier(node *sim.Node, proc *qproc.Processor, port *sim.Port, role qproc.Role, kind Kind, layer, block int, timeout int64) *Purifier {
	goal, meas := Slots(layer, block)
	return &Purifier{
		node: node, proc: proc, port: port, role: role, kind: kind,
		layer: layer, block: block, goal: goal, meas: meas,
		tag: Tag(layer, block), timeout: timeout,
	}
}

// NewLeaf returns a leaf purifier fed by gen.
func NewLeaf(node *sim.Node, proc *qproc.Processor, port *sim.Port, role qproc.Role, block int, gen *sim.Machine, timeout int64) *Purifier {
	p := newPurifier(node, proc, port, role, KindLeaf, 0, block, timeout)
	p.gen = gen
	return p
}

// NewInner returns a purifier at layer >= 1 over two child blocks.
func NewInner(node *sim.Node, proc *qproc.Processor, port *sim.Port, role qproc.Role, layer, block int, first, second *sim.Machine, timeout int64) *Purifier {
	p := newPurifier(node, proc, port, role, KindInner, layer, block, timeout)
	p.children = [2]*sim.Machine{first, second}
	return p
}

func (p *Purifier) Ready() error {
	if p.node == nil {
		return fmt.Errorf("no node assigned")
	}
	if p.port == nil || !p.port.Connected() {
		return fmt.Errorf("node %s: classical port not connected", p.node.Name)
	}
	if p.proc == nil {
		return fmt.Errorf("node %s: no processor", p.node.Name)
	}
	if p.node.Memory.Size() < 2 || p.meas >= p.node.Memory.Size() {
		return fmt.Errorf("node %s: memory too small for %s", p.node.Name, p.tag)
	}
	switch p.kind {
	case KindLeaf:
		if p.gen == nil {
			return fmt.Errorf("%s: no generator", p.tag)
		}
	case KindInner:
		if p.children[0] == nil || p.children[1] == nil {
			return fmt.Errorf("%s: missing child block", p.tag)
		}
	}
	return nil
}

// Reset clears per-round state. The round number is set by the parent.
func (p *Purifier) Reset() {
	p.phase = phaseAcquire
	p.haveGoal = false
	p.local = nil
	p.remote = nil
	p.deadline = 0
}

// SetRound sets the round number reported to the peer.
func (p *Purifier) SetRound(r int) { p.round = r }

// Round returns the current round number.
func (p *Purifier) Round() int { return p.round }

// Kind returns the block kind.
func (p *Purifier) Kind() Kind { return p.kind }

// Goal returns the slot holding the surviving unit.
func (p *Purifier) Goal() int { return p.goal }

func (p *Purifier) Run(m *sim.Machine) {
	if p.kind == KindLeaf {
		if err := m.ClaimAt(p.node.Memory, p.goal, p.meas); err != nil {
			logrus.Errorf("%s: %v", m.ID(), err)
			return
		}
	}
	p.cursor = m.Bus().Seq()
	p.wait(m)
}

// wait suspends on the peer's message, or'd with whatever the current phase
// also needs: the next input during acquisition, the timeout during the
// exchange.
func (p *Purifier) wait(m *sim.Machine) {
	var other *sim.Expr
	switch {
	case p.phase == phaseAcquire && p.kind == KindLeaf:
		other = sim.SucceededSince(p.gen, p.cursor)
	case p.phase == phaseAcquire:
		other = sim.And(sim.DoneSince(p.children[0], p.cursor), sim.DoneSince(p.children[1], p.cursor))
	case p.phase == phaseExchange && p.timeout > 0:
		other = sim.When(sim.AfterDelay(max(0, p.deadline-m.Sim().Clock)))
	}
	msg := sim.When(sim.OnPortInputTag(p.port, p.tag))
	if other == nil {
		m.Await(msg, func(sim.Result) {
			p.receive(m)
			p.check(m)
		})
		return
	}
	m.Await(sim.Or(msg, other), func(r sim.Result) {
		if r.Fired(sim.BranchFirst) {
			p.receive(m)
			p.check(m)
			return
		}
		switch p.phase {
		case phaseAcquire:
			if p.kind == KindLeaf {
				p.onPair(m, *r.Second)
			} else {
				p.onChildren(m, *r.Second)
			}
		case phaseExchange:
			logrus.Debugf("[tick %07d] %s: no answer from peer for round %d", m.Sim().Clock, m.ID(), p.round)
			p.decide(m, false, true)
		}
	})
}

// receive takes every queued message for this block. Messages from earlier
// rounds are stale and dropped.
func (p *Purifier) receive(m *sim.Machine) {
	for {
		msg, ok := p.port.ReceiveTag(p.tag)
		if !ok {
			return
		}
		r, ok := parseReport(msg)
		if !ok {
			logrus.Debugf("[tick %07d] %s: ignoring malformed message %+v", m.Sim().Clock, m.ID(), msg)
			continue
		}
		if r.round < p.round {
			logrus.Debugf("[tick %07d] %s: dropping stale report for round %d", m.Sim().Clock, m.ID(), r.round)
			continue
		}
		p.remote = &r
	}
}

func parseReport(msg sim.Message) (report, bool) {
	if len(msg.Items) != 2 {
		return report{}, false
	}
	round, ok1 := msg.Items[0].(int)
	bit, ok2 := msg.Items[1].(int)
	if !ok1 || !ok2 || (bit != 0 && bit != 1) {
		return report{}, false
	}
	return report{round: round, bit: bit}, true
}

// onPair moves a delivered unit out of the generator's input slot into the
// goal slot, or the measurement slot once the goal is held.
func (p *Purifier) onPair(m *sim.Machine, r sim.Result) {
	sig, _ := r.Signal()
	p.cursor = sig.Seq
	slot, ok := sig.Payload.(int)
	if !ok {
		p.wait(m)
		return
	}
	mem := p.node.Memory
	if err := m.Adopt(mem, p.gen.ID(), slot); err != nil {
		logrus.Warnf("[tick %07d] %s: %v", m.Sim().Clock, m.ID(), err)
		p.wait(m)
		return
	}
	dst := p.goal
	if p.haveGoal {
		dst = p.meas
	}
	if err := mem.Move(m.ID(), slot, dst); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	m.Release(mem, slot)
	if !p.haveGoal {
		p.haveGoal = true
		p.wait(m)
		return
	}
	p.compare(m)
}

// onChildren takes over the children's surviving units, or fails the block
// when either child failed.
func (p *Purifier) onChildren(m *sim.Machine, r sim.Result) {
	first, _ := sim.Outcome(*r.First)
	second, _ := sim.Outcome(*r.Second)
	if first.Name != sim.SignalSuccess || second.Name != sim.SignalSuccess {
		logrus.Debugf("[tick %07d] %s: child block failed", m.Sim().Clock, m.ID())
		p.decide(m, false, false)
		return
	}
	mem := p.node.Memory
	if err := m.Adopt(mem, p.children[0].ID(), p.goal); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	if err := m.Adopt(mem, p.children[1].ID(), p.meas); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	p.compare(m)
}

func (p *Purifier) compare(m *sim.Machine) {
	done, err := p.proc.Compare(m.ID(), p.role, p.goal, p.meas)
	if err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		p.decide(m, false, false)
		return
	}
	p.phase = phaseCompare
	m.Await(sim.When(done), func(r sim.Result) {
		bit := r.Value.(int)
		p.local = &report{round: p.round, bit: bit}
		p.port.Send(sim.Message{Tag: p.tag, Items: []any{p.round, bit}})
		p.deadline = m.Sim().Clock + p.timeout
		p.phase = phaseExchange
		p.receive(m)
		p.check(m)
	})
}

// check decides once both reports are in, otherwise keeps waiting.
func (p *Purifier) check(m *sim.Machine) {
	if p.phase != phaseExchange || p.local == nil || p.remote == nil {
		p.wait(m)
		return
	}
	ok := p.remote.round == p.local.round && p.remote.bit == p.local.bit
	p.decide(m, ok, false)
}

func (p *Purifier) decide(m *sim.Machine, ok, timedOut bool) {
	p.Decisions = append(p.Decisions, Decision{Round: p.round, Success: ok, Time: m.Sim().Clock, TimedOut: timedOut})
	if ok {
		m.Succeed(p.goal)
	} else {
		if p.node.Memory.Owner(p.goal) == m.ID() {
			if _, err := p.node.Memory.Pop(m.ID(), p.goal); err != nil {
				logrus.Errorf("%s: %v", m.ID(), err)
			}
		}
		m.Fail(p.round)
	}
	p.local = nil
	p.remote = nil
	p.phase = phaseDecided
	p.wait(m)
}
