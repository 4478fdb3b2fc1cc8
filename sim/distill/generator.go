package distill

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// Generator delivers fresh pair units into the node's input slot, one at a
// time. The source side triggers the shared source; the receiving side only
// collects. Each delivered unit is announced with SUCCESS(slot) and the next
// one is produced once the consumer has freed the slot.
type Generator struct {
	node   *sim.Node
	qin    *sim.Port
	source *qproc.Source
	input  int
	pairs  int
	after  *sim.Machine

	// Produced counts units delivered since the last start.
	Produced int
}

// NewGenerator binds a generator. source is nil on the receiving side.
// When after is set, generation starts only once after has decided.
func NewGenerator(node *sim.Node, qin *sim.Port, source *qproc.Source, input, pairs int, after *sim.Machine) *Generator {
	return &Generator{node: node, qin: qin, source: source, input: input, pairs: pairs, after: after}
}

func (g *Generator) Ready() error {
	if g.node == nil {
		return fmt.Errorf("no node assigned")
	}
	if g.qin == nil || !g.qin.Connected() {
		return fmt.Errorf("node %s: quantum input not connected", g.node.Name)
	}
	if g.input < 0 || g.input >= g.node.Memory.Size() {
		return fmt.Errorf("node %s: no input slot %d", g.node.Name, g.input)
	}
	if g.pairs < 1 {
		return fmt.Errorf("node %s: generator needs at least one pair", g.node.Name)
	}
	return nil
}

func (g *Generator) Reset() { g.Produced = 0 }

func (g *Generator) Run(m *sim.Machine) {
	if g.after == nil {
		g.produce(m)
		return
	}
	m.Await(sim.DoneSince(g.after, m.Bus().Seq()), func(sim.Result) { g.produce(m) })
}

// produce claims the input slot and collects one unit. A held slot is not
// an error: the generator retries after the next SLOT_FREED.
func (g *Generator) produce(m *sim.Machine) {
	if g.Produced >= g.pairs {
		logrus.Debugf("[tick %07d] %s: produced %d pairs", m.Sim().Clock, m.ID(), g.Produced)
		return
	}
	if err := m.ClaimAt(g.node.Memory, g.input); err != nil {
		if errors.Is(err, sim.ErrOutOfResources) {
			logrus.Debugf("[tick %07d] %s: %v, retrying", m.Sim().Clock, m.ID(), err)
			g.awaitFree(m, m.Bus().Seq())
			return
		}
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	if g.source != nil {
		g.source.Trigger()
	}
	g.collect(m)
}

func (g *Generator) collect(m *sim.Machine) {
	m.Await(sim.When(sim.OnPortInputTag(g.qin, qproc.PairTag)), func(sim.Result) {
		msg, _ := g.qin.ReceiveTag(qproc.PairTag)
		u, ok := qproc.UnitOf(msg)
		if !ok {
			logrus.Debugf("[tick %07d] %s: ignoring malformed pair message", m.Sim().Clock, m.ID())
			g.collect(m)
			return
		}
		if err := g.node.Memory.Put(m.ID(), g.input, u); err != nil {
			logrus.Errorf("%s: %v", m.ID(), err)
			return
		}
		g.Produced++
		m.Succeed(g.input)
		g.awaitFree(m, m.Bus().Seq())
	})
}

// awaitFree waits until the input slot is unclaimed, then produces again.
func (g *Generator) awaitFree(m *sim.Machine, cursor int64) {
	mem := g.node.Memory
	if mem.IsFree(g.input) {
		g.produce(m)
		return
	}
	m.Await(sim.When(sim.OnSignalSince(m.Bus(), mem, sim.SignalSlotFreed, cursor)), func(r sim.Result) {
		sig, _ := r.Signal()
		g.awaitFree(m, sig.Seq)
	})
}
