package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Group is the ordered set of child machines a parent protocol owns.
// A machine belongs to at most one group. Children start in insertion order
// and stop in reverse order.
type Group struct {
	owner    string
	children []*Machine
	byID     map[string]*Machine
}

// NewGroup returns an empty group owned by the named parent.
func NewGroup(owner string) *Group {
	return &Group{owner: owner, byID: make(map[string]*Machine)}
}

// Add appends child. Adding a machine that already has a parent is a
// construction error.
func (g *Group) Add(child *Machine) error {
	if child.parent != nil {
		return fmt.Errorf("%w: %s already owned by %s", ErrConstruction, child.id, child.parent.owner)
	}
	child.parent = g
	g.children = append(g.children, child)
	g.byID[child.id] = child
	return nil
}

// Child returns the child with the given ID, or nil.
func (g *Group) Child(id string) *Machine { return g.byID[id] }

// Children returns the children in insertion order.
func (g *Group) Children() []*Machine { return g.children }

// Len returns the number of children.
func (g *Group) Len() int { return len(g.children) }

// Ready checks every child body's readiness without starting anything.
func (g *Group) Ready() error {
	for _, c := range g.children {
		if err := c.body.Ready(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNotReady, c.id, err)
		}
	}
	return nil
}

// StartChildren starts every child in insertion order. On the first failure
// the children already started are stopped in reverse order, so the group
// starts as a unit or not at all.
func (g *Group) StartChildren() error {
	for i, c := range g.children {
		if err := c.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				g.children[j].Stop()
			}
			return fmt.Errorf("%s: starting children: %w", g.owner, err)
		}
	}
	logrus.Debugf("%s: started %d children", g.owner, len(g.children))
	return nil
}

// StopChildren stops every child in reverse insertion order.
func (g *Group) StopChildren() {
	for i := len(g.children) - 1; i >= 0; i-- {
		g.children[i].Stop()
	}
}

// Succeeded is a fresh expression resolving on p's next SUCCESS.
func Succeeded(p *Machine) *Expr {
	return When(OnSignal(p.Bus(), p, SignalSuccess))
}

// Failed is a fresh expression resolving on p's next FAIL.
func Failed(p *Machine) *Expr {
	return When(OnSignal(p.Bus(), p, SignalFail))
}

// Done is a fresh expression resolving on p's next SUCCESS or FAIL.
func Done(p *Machine) *Expr {
	return Or(Succeeded(p), Failed(p))
}

// SucceededSince resolves on a SUCCESS of p with a bus sequence number after cursor.
func SucceededSince(p *Machine, cursor int64) *Expr {
	return When(OnSignalSince(p.Bus(), p, SignalSuccess, cursor))
}

// DoneSince resolves on a SUCCESS or FAIL of p raised after cursor,
// including one raised before the expression is armed.
func DoneSince(p *Machine, cursor int64) *Expr {
	return Or(
		When(OnSignalSince(p.Bus(), p, SignalSuccess, cursor)),
		When(OnSignalSince(p.Bus(), p, SignalFail, cursor)),
	)
}

// Outcome returns the signal that resolved a leaf or OR-of-signals result
// such as the one produced by Done.
func Outcome(r Result) (Signal, bool) {
	for {
		switch r.Op {
		case OpLeaf:
			return r.Signal()
		case OpOr:
			if r.First != nil {
				r = *r.First
			} else if r.Second != nil {
				r = *r.Second
			} else {
				return Signal{}, false
			}
		default:
			return Signal{}, false
		}
	}
}
