package sim

import (
	"fmt"
	"sort"
)

// Node groups a memory and named ports. Protocols run on nodes.
type Node struct {
	Name   string
	Memory *Memory

	sim   *Simulator
	ports map[string]*Port
}

// NewNode creates a node with a memory of the given size and no ports.
// The memory registers on the bus as "<name>.memory".
func NewNode(s *Simulator, name string, memorySize int) (*Node, error) {
	mem, err := NewMemory(s, name+".memory", memorySize)
	if err != nil {
		return nil, err
	}
	return &Node{Name: name, Memory: mem, sim: s, ports: make(map[string]*Port)}, nil
}

// AddPort creates the named ports. Adding an existing port is a construction error.
func (n *Node) AddPort(names ...string) error {
	for _, name := range names {
		if _, ok := n.ports[name]; ok {
			return fmt.Errorf("%w: node %s already has port %q", ErrConstruction, n.Name, name)
		}
		n.ports[name] = NewPort(n.sim, n.Name+"."+name)
	}
	return nil
}

// Port returns the named port, or nil if the node has none.
func (n *Node) Port(name string) *Port { return n.ports[name] }

// MustPort returns the named port and panics if it does not exist.
func (n *Node) MustPort(name string) *Port {
	p, ok := n.ports[name]
	if !ok {
		panic(fmt.Sprintf("node %s: no port %q", n.Name, name))
	}
	return p
}

// PortNames returns the node's port names sorted.
func (n *Node) PortNames() []string {
	names := make([]string, 0, len(n.ports))
	for name := range n.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
