package chain

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// Round is the record of one completed correction round.
type Round struct {
	Time     int64 `json:"time"`
	X        bool  `json:"x"`
	Z        bool  `json:"z"`
	Held     bool  `json:"held"`                // a unit was in the correction slot
	Frame    uint8 `json:"frame"`               // frame of the held pair after correction
	EndToEnd bool  `json:"end_to_end"`          // held pair's partner sits at the left terminal
	Applied  int   `json:"corrections_applied"` // single-qubit gates applied, 0 to 2
}

// Correct runs at the right end. It folds every swap outcome into an X and
// a Z parity and, once one outcome per interior node has arrived, applies the
// pending correction to its held unit, raises SUCCESS and starts over.
type Correct struct {
	node     *sim.Node
	proc     *qproc.Processor
	ccon     *sim.Port
	qin      *sim.Port
	numSwaps int

	// partner, when set, identifies the left terminal's unit.
	partner func() (*qproc.Unit, bool)

	received int
	xParity  bool
	zParity  bool

	// Rounds lists completed rounds in order.
	Rounds []Round
}

// NewCorrect binds the correction role. numSwaps is the number of interior
// nodes, N-2.
func NewCorrect(node *sim.Node, proc *qproc.Processor, ccon, qin *sim.Port, numSwaps int) *Correct {
	return &Correct{node: node, proc: proc, ccon: ccon, qin: qin, numSwaps: numSwaps}
}

func (c *Correct) Ready() error {
	if err := checkPorts(c.node, c.ccon, c.qin); err != nil {
		return err
	}
	if c.proc == nil {
		return fmt.Errorf("node %s: no processor", c.node.Name)
	}
	if c.numSwaps < 1 {
		return fmt.Errorf("node %s: expects %d swaps", c.node.Name, c.numSwaps)
	}
	return nil
}

// Reset zeroes the counters. Completed rounds are kept.
func (c *Correct) Reset() {
	c.received = 0
	c.xParity = false
	c.zParity = false
}

// Counters returns the outcomes received this round and the pending parities.
func (c *Correct) Counters() (received int, x, z bool) {
	return c.received, c.xParity, c.zParity
}

func (c *Correct) Run(m *sim.Machine) {
	if err := m.ClaimAt(c.node.Memory, SlotLeft); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	c.wait(m)
}

func (c *Correct) wait(m *sim.Machine) {
	expr := sim.Or(sim.When(sim.OnPortInput(c.ccon)), sim.When(sim.OnPortInput(c.qin)))
	m.Await(expr, func(r sim.Result) {
		if r.Fired(sim.BranchSecond) {
			if u, ok := latestUnit(c.qin); ok {
				if err := c.node.Memory.Put(m.ID(), SlotLeft, u); err != nil {
					logrus.Errorf("%s: %v", m.ID(), err)
					return
				}
			}
			c.wait(m)
			return
		}
		msg, _ := c.ccon.Receive()
		outcome, ok := parseOutcome(msg)
		if !ok {
			logrus.Debugf("[tick %07d] %s: ignoring malformed message %+v", m.Sim().Clock, m.ID(), msg)
			c.wait(m)
			return
		}
		c.accumulate(outcome)
		if c.received < c.numSwaps {
			c.wait(m)
			return
		}
		c.apply(m)
	})
}

// accumulate folds one outcome into the parities. Order does not matter and
// an outcome seen twice cancels.
func (c *Correct) accumulate(outcome int) {
	x, z := qproc.DecodeOutcome(outcome)
	c.xParity = c.xParity != x
	c.zParity = c.zParity != z
	c.received++
}

func parseOutcome(msg sim.Message) (int, bool) {
	if msg.Tag != CorrectionTag || len(msg.Items) != 1 {
		return 0, false
	}
	v, ok := msg.Items[0].(int)
	if !ok || v < 0 || v > 3 {
		return 0, false
	}
	return v, true
}

func (c *Correct) apply(m *sim.Machine) {
	x, z := c.xParity, c.zParity
	if !x && !z {
		c.finish(m, x, z, 0)
		return
	}
	done, err := c.proc.Correct(m.ID(), SlotLeft, x, z)
	if err != nil {
		logrus.Warnf("[tick %07d] %s: correction skipped: %v", m.Sim().Clock, m.ID(), err)
		c.finish(m, x, z, 0)
		return
	}
	applied := 0
	if x {
		applied++
	}
	if z {
		applied++
	}
	m.Await(sim.When(done), func(sim.Result) { c.finish(m, x, z, applied) })
}

// finish records the round, raises SUCCESS and zeroes the counters in the
// same step, so an outcome already queued for the next round is counted
// toward that round.
func (c *Correct) finish(m *sim.Machine, x, z bool, applied int) {
	round := Round{Time: m.Sim().Clock, X: x, Z: z, Applied: applied}
	if v, ok := c.node.Memory.Peek(SlotLeft); ok {
		if u, ok := v.(*qproc.Unit); ok {
			round.Held = true
			round.Frame = u.Pair.Frame
			if c.partner != nil {
				if p, ok := c.partner(); ok && p == u.Partner() {
					round.EndToEnd = true
				}
			}
		}
	}
	c.Rounds = append(c.Rounds, round)
	m.Succeed(nil)
	c.Reset()
	c.wait(m)
}
