package chain

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// CorrectionTag marks the classical message carrying a swap outcome.
const CorrectionTag = "swap/outcome"

// Memory positions used on every chain node.
const (
	SlotLeft  = 0 // unit of the pair shared with the left neighbour
	SlotRight = 1 // unit of the pair shared with the right neighbour
)

// latestUnit drains port and returns the most recent unit it carried.
func latestUnit(p *sim.Port) (*qproc.Unit, bool) {
	var last *qproc.Unit
	for {
		msg, ok := p.Receive()
		if !ok {
			break
		}
		u, ok := qproc.UnitOf(msg)
		if !ok {
			logrus.Debugf("%s: ignoring non-pair message %q", p.Name(), msg.Tag)
			continue
		}
		last = u
	}
	return last, last != nil
}

func checkPorts(node *sim.Node, ports ...*sim.Port) error {
	if node == nil {
		return fmt.Errorf("no node assigned")
	}
	for _, p := range ports {
		if p == nil || !p.Connected() {
			return fmt.Errorf("node %s: port not connected", node.Name)
		}
	}
	return nil
}

// Swap runs on interior nodes: once both neighbouring pairs have arrived it
// joins them with a Bell measurement and reports the outcome to the right.
type Swap struct {
	node   *sim.Node
	proc   *qproc.Processor
	qLeft  *sim.Port
	qRight *sim.Port
	out    *sim.Port

	// Measured counts completed swaps.
	Measured int
}

// NewSwap binds a swap to its node, processor and ports.
func NewSwap(node *sim.Node, proc *qproc.Processor, qLeft, qRight, out *sim.Port) *Swap {
	return &Swap{node: node, proc: proc, qLeft: qLeft, qRight: qRight, out: out}
}

func (sw *Swap) Ready() error {
	if err := checkPorts(sw.node, sw.qLeft, sw.qRight, sw.out); err != nil {
		return err
	}
	if sw.proc == nil {
		return fmt.Errorf("node %s: no processor", sw.node.Name)
	}
	if sw.node.Memory.Size() < 2 {
		return fmt.Errorf("node %s: memory needs 2 slots", sw.node.Name)
	}
	return nil
}

func (sw *Swap) Reset() { sw.Measured = 0 }

func (sw *Swap) Run(m *sim.Machine) {
	if err := m.ClaimAt(sw.node.Memory, SlotLeft, SlotRight); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	sw.wait(m)
}

func (sw *Swap) wait(m *sim.Machine) {
	ready := sim.And(sim.When(sim.OnPortInput(sw.qLeft)), sim.When(sim.OnPortInput(sw.qRight)))
	m.Await(ready, func(sim.Result) {
		left, okL := latestUnit(sw.qLeft)
		right, okR := latestUnit(sw.qRight)
		if !okL || !okR {
			sw.wait(m)
			return
		}
		mem := sw.node.Memory
		if err := mem.Put(m.ID(), SlotLeft, left); err != nil {
			logrus.Errorf("%s: %v", m.ID(), err)
			return
		}
		if err := mem.Put(m.ID(), SlotRight, right); err != nil {
			logrus.Errorf("%s: %v", m.ID(), err)
			return
		}
		done, err := sw.proc.BellMeasure(m.ID(), SlotLeft, SlotRight)
		if err != nil {
			logrus.Errorf("%s: %v", m.ID(), err)
			return
		}
		m.Await(sim.When(done), func(r sim.Result) {
			outcome := r.Value.(int)
			sw.Measured++
			sw.out.Send(sim.Message{Tag: CorrectionTag, Items: []any{outcome}})
			logrus.Debugf("[tick %07d] %s: outcome %02b sent", m.Sim().Clock, m.ID(), outcome)
			sw.wait(m)
		})
	})
}

// Terminal holds the left end of the chain's end-to-end pair: it keeps the
// most recent unit arriving on its quantum port.
type Terminal struct {
	node *sim.Node
	qin  *sim.Port
	slot int

	// Received counts stored units.
	Received int
}

// NewTerminal binds a terminal to its node and inbound quantum port.
func NewTerminal(node *sim.Node, qin *sim.Port, slot int) *Terminal {
	return &Terminal{node: node, qin: qin, slot: slot}
}

func (t *Terminal) Ready() error {
	if err := checkPorts(t.node, t.qin); err != nil {
		return err
	}
	if t.slot < 0 || t.slot >= t.node.Memory.Size() {
		return fmt.Errorf("node %s: no slot %d", t.node.Name, t.slot)
	}
	return nil
}

func (t *Terminal) Reset() { t.Received = 0 }

func (t *Terminal) Run(m *sim.Machine) {
	if err := m.ClaimAt(t.node.Memory, t.slot); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	t.wait(m)
}

func (t *Terminal) wait(m *sim.Machine) {
	m.Await(sim.When(sim.OnPortInput(t.qin)), func(sim.Result) {
		if u, ok := latestUnit(t.qin); ok {
			if err := t.node.Memory.Put(m.ID(), t.slot, u); err != nil {
				logrus.Errorf("%s: %v", m.ID(), err)
				return
			}
			t.Received++
		}
		t.wait(m)
	})
}

// Held returns the unit currently stored, if any.
func (t *Terminal) Held() (*qproc.Unit, bool) {
	v, ok := t.node.Memory.Peek(t.slot)
	if !ok {
		return nil, false
	}
	u, ok := v.(*qproc.Unit)
	return u, ok
}
