// Package distill is nested entanglement purification between two nodes:
// a perfect binary tree of purification blocks per node, leaves fed by pair
// generators, looped for a number of end-to-end rounds.
package distill

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// Port names on both nodes.
const (
	PortClassical = "cc"
	PortQuantum   = "qin"
)

// Sides of the link. The source sits at SideA.
const (
	SideA = 0
	SideB = 1
)

// Side holds one node's half of the tree.
type Side struct {
	Node *sim.Node
	Proc *qproc.Processor
	Role qproc.Role

	// Generators[b] feeds leaf block b.
	Generators []*sim.Machine
	// Blocks[l][b] is block b of layer l; layer 0 holds the leaves.
	Blocks    [][]*sim.Machine
	Purifiers [][]*Purifier
}

// Root returns the single block of the top layer.
func (s *Side) Root() *sim.Machine { return s.Blocks[len(s.Blocks)-1][0] }

// Count returns the number of purification blocks on this side.
func (s *Side) Count() int {
	n := 0
	for _, layer := range s.Blocks {
		n += len(layer)
	}
	return n
}

// Network is a built two-node purification tree.
type Network struct {
	Sim    *sim.Simulator
	Config Config
	Source *qproc.Source
	Sides  [2]*Side

	Root   *sim.Machine
	nested *Nested
}

// Build wires both nodes, the pair source, the classical link and the tree
// of generators and purifiers under one Nested root.
func Build(s *sim.Simulator, cfg Config) (*Network, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{Sim: s, Config: cfg}
	for i, name := range []string{"A", "B"} {
		node, err := sim.NewNode(s, "node_"+name, cfg.Positions())
		if err != nil {
			return nil, err
		}
		if err := node.AddPort(PortClassical, PortQuantum); err != nil {
			return nil, err
		}
		role, err := qproc.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sim.ErrConstruction, err)
		}
		n.Sides[i] = &Side{Node: node, Proc: qproc.NewProcessor(s, node, cfg.GateDuration), Role: role}
	}
	a, b := n.Sides[SideA].Node, n.Sides[SideB].Node
	if err := sim.Connect(a.Port(PortClassical), b.Port(PortClassical), cfg.ClassicalDelay); err != nil {
		return nil, err
	}
	src, err := qproc.NewSource(s, "source", cfg.ErrorProb)
	if err != nil {
		return nil, err
	}
	if err := sim.Connect(src.Port(0), a.Port(PortQuantum), 0); err != nil {
		return nil, err
	}
	if err := sim.Connect(src.Port(1), b.Port(PortQuantum), cfg.QuantumDelay); err != nil {
		return nil, err
	}
	n.Source = src

	n.nested = &Nested{net: n, group: sim.NewGroup("distill"), rounds: cfg.Rounds}
	root, err := sim.NewMachine(s, "distill", n.nested)
	if err != nil {
		return nil, err
	}
	n.Root = root
	for i, side := range n.Sides {
		var source *qproc.Source
		if i == SideA {
			source = src
		}
		if err := n.buildSide(side, source); err != nil {
			return nil, err
		}
	}
	logrus.Infof("distill: built %d layers, %d blocks per node", cfg.Layers, n.Sides[SideA].Count())
	return n, nil
}

func (n *Network) add(name string, body sim.Body) (*sim.Machine, error) {
	m, err := sim.NewMachine(n.Sim, name, body)
	if err != nil {
		return nil, err
	}
	if err := n.nested.group.Add(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (n *Network) buildSide(side *Side, src *qproc.Source) error {
	cfg := n.Config
	node := side.Node
	cc, qin := node.Port(PortClassical), node.Port(PortQuantum)
	side.Blocks = make([][]*sim.Machine, cfg.Layers)
	side.Purifiers = make([][]*Purifier, cfg.Layers)

	for blk := 0; blk < cfg.Leaves(); blk++ {
		var after *sim.Machine
		if blk > 0 {
			after = side.Blocks[0][blk-1]
		}
		gen, err := n.add(fmt.Sprintf("%s.gen/%d", node.Name, blk), NewGenerator(node, qin, src, cfg.InputSlot(), 2, after))
		if err != nil {
			return err
		}
		leaf := NewLeaf(node, side.Proc, cc, side.Role, blk, gen, cfg.Timeout)
		m, err := n.add(fmt.Sprintf("%s.%s", node.Name, leaf.tag), leaf)
		if err != nil {
			return err
		}
		side.Generators = append(side.Generators, gen)
		side.Blocks[0] = append(side.Blocks[0], m)
		side.Purifiers[0] = append(side.Purifiers[0], leaf)
	}
	for l := 1; l < cfg.Layers; l++ {
		below := side.Blocks[l-1]
		for blk := 0; blk < len(below)/2; blk++ {
			p := NewInner(node, side.Proc, cc, side.Role, l, blk, below[2*blk], below[2*blk+1], cfg.Timeout)
			m, err := n.add(fmt.Sprintf("%s.%s", node.Name, p.tag), p)
			if err != nil {
				return err
			}
			side.Blocks[l] = append(side.Blocks[l], m)
			side.Purifiers[l] = append(side.Purifiers[l], p)
		}
	}
	return nil
}

// Start starts the nested root.
func (n *Network) Start() error { return n.Root.Start() }

// Results returns the completed end-to-end rounds.
func (n *Network) Results() []RoundResult { return n.nested.Results }
