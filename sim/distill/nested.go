package distill

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// RoundResult is the joint outcome of one end-to-end round, carried as the
// payload of the root's SUCCESS or FAIL.
type RoundResult struct {
	Round    int   `json:"round"`
	Success  bool  `json:"success"`
	Start    int64 `json:"start"`
	Duration int64 `json:"duration"`

	// Surviving slots on each node; -1 when that side failed.
	PosA int `json:"pos_a"`
	PosB int `json:"pos_b"`

	// FailedAt is the round number a failing root reported, 0 on success.
	FailedAt int `json:"failed_at,omitempty"`

	// Frame of the surviving pair, and whether the two surviving units are
	// the two ends of one pair.
	Frame    uint8 `json:"frame"`
	EndToEnd bool  `json:"end_to_end"`
}

// Nested is the root of a purification run. Each round it starts every
// generator and block on both nodes, waits until both roots have decided,
// success or failure, reports the joint result and stops all children,
// which releases every slot they hold, before the next round.
type Nested struct {
	net    *Network
	group  *sim.Group
	rounds int
	round  int

	// Results lists completed rounds in order.
	Results []RoundResult
}

func (p *Nested) Ready() error {
	if p.group.Len() == 0 {
		return fmt.Errorf("distill tree has no blocks")
	}
	return p.group.Ready()
}

func (p *Nested) Reset() {
	p.round = 0
	p.Results = nil
}

func (p *Nested) Run(m *sim.Machine) { p.next(m) }

func (p *Nested) next(m *sim.Machine) {
	if p.round >= p.rounds {
		logrus.Infof("[tick %07d] %s: %d rounds done", m.Sim().Clock, m.ID(), p.round)
		return
	}
	p.round++
	for _, side := range p.net.Sides {
		for _, layer := range side.Purifiers {
			for _, pur := range layer {
				pur.SetRound(p.round)
			}
		}
		if dropped := side.Node.Port(PortQuantum).Drain(); dropped > 0 {
			logrus.Warnf("[tick %07d] %s: dropped %d stale pair units", m.Sim().Clock, side.Node.Name, dropped)
		}
	}
	start, cursor := m.Sim().Clock, m.Bus().Seq()
	if err := p.group.StartChildren(); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	rootA, rootB := p.net.Sides[SideA].Root(), p.net.Sides[SideB].Root()
	m.Await(sim.And(sim.DoneSince(rootA, cursor), sim.DoneSince(rootB, cursor)), func(r sim.Result) {
		sa, _ := sim.Outcome(*r.First)
		sb, _ := sim.Outcome(*r.Second)
		res := p.result(sa, sb)
		res.Start = start
		res.Duration = m.Sim().Clock - start
		p.Results = append(p.Results, res)
		if res.Success {
			m.Succeed(res)
		} else {
			m.Fail(res)
		}
		logrus.Infof("[tick %07d] %s: round %d success=%v frame=%02b", m.Sim().Clock, m.ID(), res.Round, res.Success, res.Frame)
		p.group.StopChildren()
		p.next(m)
	})
}

func (p *Nested) result(sa, sb sim.Signal) RoundResult {
	res := RoundResult{Round: p.round, PosA: -1, PosB: -1}
	okA := sa.Name == sim.SignalSuccess
	okB := sb.Name == sim.SignalSuccess
	if okA {
		res.PosA, _ = sa.Payload.(int)
	} else {
		res.FailedAt, _ = sa.Payload.(int)
	}
	if okB {
		res.PosB, _ = sb.Payload.(int)
	} else if res.FailedAt == 0 {
		res.FailedAt, _ = sb.Payload.(int)
	}
	res.Success = okA && okB
	if !res.Success {
		return res
	}
	ua, okUA := unitAt(p.net.Sides[SideA].Node, res.PosA)
	ub, okUB := unitAt(p.net.Sides[SideB].Node, res.PosB)
	if okUA && okUB {
		res.Frame = ua.Pair.Frame
		res.EndToEnd = ua.Partner() == ub
	}
	return res
}

func unitAt(node *sim.Node, slot int) (*qproc.Unit, bool) {
	v, ok := node.Memory.Peek(slot)
	if !ok {
		return nil, false
	}
	u, ok := v.(*qproc.Unit)
	return u, ok
}

// OnStop stops every generator and block.
func (p *Nested) OnStop() { p.group.StopChildren() }

// Round returns the number of the round in progress or last completed.
func (p *Nested) Round() int { return p.round }
