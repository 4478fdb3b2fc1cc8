// Package chain is the linear repeater chain: a terminal at the left end,
// entanglement swaps on every interior node and parity corrections at the
// right end.
package chain

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// Port names on every chain node.
const (
	PortQLeft  = "qin0" // pair unit from the left link
	PortQRight = "qin1" // pair unit from the right link
	PortCLeft  = "ccon_L"
	PortCRight = "ccon_R"
)

// Network is a built chain ready to start.
type Network struct {
	Sim     *sim.Simulator
	Config  Config
	Nodes   []*sim.Node
	Procs   []*qproc.Processor
	Sources []*qproc.Source

	Terminal *Terminal
	Swaps    []*Swap
	Correct  *Correct

	// Root owns every node protocol; Machines maps node index to its protocol.
	Root     *sim.Machine
	Machines []*sim.Machine
	root     *Protocol
}

// Build wires nodes, link sources, quantum and classical connections and the
// per-node protocols. Interior nodes relay outcomes from their left
// neighbour to the right.
func Build(s *sim.Simulator, cfg Config) (*Network, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{Sim: s, Config: cfg}
	for i := 0; i < cfg.Nodes; i++ {
		node, err := sim.NewNode(s, fmt.Sprintf("node_%d", i), 2)
		if err != nil {
			return nil, err
		}
		if err := node.AddPort(PortQLeft, PortQRight, PortCLeft, PortCRight); err != nil {
			return nil, err
		}
		n.Nodes = append(n.Nodes, node)
		n.Procs = append(n.Procs, qproc.NewProcessor(s, node, cfg.GateDuration))
	}
	for i := 0; i+1 < cfg.Nodes; i++ {
		left, right := n.Nodes[i], n.Nodes[i+1]
		src, err := qproc.NewSource(s, fmt.Sprintf("source_%d", i), cfg.ErrorProb)
		if err != nil {
			return nil, err
		}
		if err := sim.Connect(src.Port(0), left.Port(PortQRight), 0); err != nil {
			return nil, err
		}
		if err := sim.Connect(src.Port(1), right.Port(PortQLeft), cfg.QuantumDelay); err != nil {
			return nil, err
		}
		if err := sim.Connect(left.Port(PortCRight), right.Port(PortCLeft), cfg.ClassicalDelay); err != nil {
			return nil, err
		}
		n.Sources = append(n.Sources, src)
	}

	last := cfg.Nodes - 1
	n.Terminal = NewTerminal(n.Nodes[0], n.Nodes[0].Port(PortQRight), SlotRight)
	n.Correct = NewCorrect(n.Nodes[last], n.Procs[last], n.Nodes[last].Port(PortCLeft), n.Nodes[last].Port(PortQLeft), cfg.Nodes-2)
	n.Correct.partner = n.Terminal.Held

	n.root = &Protocol{net: n, group: sim.NewGroup("chain"), rounds: cfg.Rounds}
	root, err := sim.NewMachine(s, "chain", n.root)
	if err != nil {
		return nil, err
	}
	n.Root = root

	add := func(name string, body sim.Body) (*sim.Machine, error) {
		m, err := sim.NewMachine(s, name, body)
		if err != nil {
			return nil, err
		}
		if err := n.root.group.Add(m); err != nil {
			return nil, err
		}
		n.Machines = append(n.Machines, m)
		return m, nil
	}
	if _, err := add(n.Nodes[0].Name+".terminal", n.Terminal); err != nil {
		return nil, err
	}
	for i := 1; i < last; i++ {
		node := n.Nodes[i]
		node.Port(PortCLeft).Forward(node.Port(PortCRight))
		sw := NewSwap(node, n.Procs[i], node.Port(PortQLeft), node.Port(PortQRight), node.Port(PortCRight))
		if _, err := add(node.Name+".swap", sw); err != nil {
			return nil, err
		}
		n.Swaps = append(n.Swaps, sw)
	}
	correct, err := add(n.Nodes[last].Name+".correct", n.Correct)
	if err != nil {
		return nil, err
	}
	n.root.correct = correct
	logrus.Infof("chain: built %d nodes, source period %d", cfg.Nodes, cfg.SourcePeriod)
	return n, nil
}

// Protocol is the chain's root: it starts the node protocols and the link
// sources, counts Correct's successes and tears everything down after the
// configured number of rounds.
type Protocol struct {
	net     *Network
	group   *sim.Group
	correct *sim.Machine
	rounds  int
	done    int
}

func (p *Protocol) Ready() error {
	if p.correct == nil {
		return fmt.Errorf("chain has no correction protocol")
	}
	return p.group.Ready()
}

func (p *Protocol) Reset() { p.done = 0 }

func (p *Protocol) Run(m *sim.Machine) {
	if err := p.group.StartChildren(); err != nil {
		logrus.Errorf("%s: %v", m.ID(), err)
		return
	}
	for _, src := range p.net.Sources {
		src.Start(p.net.Config.SourcePeriod)
	}
	p.wait(m, m.Bus().Seq())
}

// wait counts SUCCESS signals raised after cursor, so two rounds finishing
// in the same tick are both seen.
func (p *Protocol) wait(m *sim.Machine, cursor int64) {
	m.Await(sim.SucceededSince(p.correct, cursor), func(r sim.Result) {
		sig, _ := r.Signal()
		p.done++
		if p.rounds > 0 && p.done >= p.rounds {
			m.Succeed(p.done)
			m.Sim().Halt()
			return
		}
		p.wait(m, sig.Seq)
	})
}

// OnStop stops the sources and every node protocol.
func (p *Protocol) OnStop() {
	for _, src := range p.net.Sources {
		src.Stop()
	}
	p.group.StopChildren()
}

// Start starts the root protocol.
func (n *Network) Start() error { return n.Root.Start() }

// Completed returns the number of correction rounds completed so far.
func (n *Network) Completed() int { return len(n.Correct.Rounds) }
