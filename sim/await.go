package sim

import "fmt"

// Condition is a primitive awaitable: port input, signal, timer or an
// externally resolved completion.
//
// Arm starts watching and returns a func that stops watching. fire must be
// invoked at most once, and never synchronously from inside Arm: a condition
// that is already satisfied schedules a zero-delay event instead.
type Condition interface {
	Arm(s *Simulator, fire func(value any)) (cancel func())
	String() string
}

// Op discriminates the shape of an expression or result.
type Op int

const (
	OpLeaf Op = iota
	OpAnd
	OpOr
)

func (o Op) String() string {
	switch o {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	default:
		return "leaf"
	}
}

// Branch identifies a child of a composite expression.
type Branch int

const (
	BranchNone Branch = iota
	BranchFirst
	BranchSecond
)

// Result is the tagged outcome of a resolved expression.
//
// Leaf results carry the condition's Value. AND results carry both children.
// OR results carry only the child that fired, and Branch says which one.
type Result struct {
	Op     Op
	Source string
	Value  any
	Branch Branch
	First  *Result
	Second *Result
}

// Fired reports whether the given branch of a composite result resolved.
func (r Result) Fired(b Branch) bool {
	switch b {
	case BranchFirst:
		return r.First != nil
	case BranchSecond:
		return r.Second != nil
	}
	return false
}

// Signal returns the leaf value as a Signal, if it is one.
func (r Result) Signal() (Signal, bool) {
	sig, ok := r.Value.(Signal)
	return sig, ok
}

type exprState int

const (
	exprFresh exprState = iota
	exprArmed
	exprResolved
)

// Expr is a single-use tree of conditions combined with AND / OR.
// Once armed it can never be armed again; build a new one to wait again.
type Expr struct {
	op     Op
	cond   Condition
	first  *Expr
	second *Expr

	state     exprState
	cancel    func()
	firstRes  *Result
	secondRes *Result
}

// When wraps a primitive condition in an expression.
func When(c Condition) *Expr {
	return &Expr{op: OpLeaf, cond: c}
}

// And resolves once both a and b have resolved, in either order.
func And(a, b *Expr) *Expr {
	return &Expr{op: OpAnd, first: a, second: b}
}

// Or resolves on whichever of a and b resolves first; the other is discarded.
func Or(a, b *Expr) *Expr {
	return &Expr{op: OpOr, first: a, second: b}
}

// And is shorthand for And(e, o).
func (e *Expr) And(o *Expr) *Expr { return And(e, o) }

// Or is shorthand for Or(e, o).
func (e *Expr) Or(o *Expr) *Expr { return Or(e, o) }

// Resolved reports whether the expression has resolved or was cancelled.
func (e *Expr) Resolved() bool { return e.state == exprResolved }

func (e *Expr) String() string {
	switch e.op {
	case OpLeaf:
		return e.cond.String()
	default:
		return fmt.Sprintf("(%s %s %s)", e.first, e.op, e.second)
	}
}

// Await arms the expression and calls fn with the result once it resolves.
// The returned cancel func deregisters every pending listener.
// Awaiting an expression that was already armed fails with ErrReuse.
func (e *Expr) Await(s *Simulator, fn func(Result)) (cancel func(), err error) {
	if err := e.checkFresh(make(map[*Expr]bool)); err != nil {
		return nil, err
	}
	e.arm(s, fn)
	return e.abort, nil
}

func (e *Expr) checkFresh(seen map[*Expr]bool) error {
	if e.state != exprFresh || seen[e] {
		return fmt.Errorf("%w: %s", ErrReuse, e)
	}
	seen[e] = true
	if e.op == OpLeaf {
		return nil
	}
	if err := e.first.checkFresh(seen); err != nil {
		return err
	}
	return e.second.checkFresh(seen)
}

func (e *Expr) arm(s *Simulator, notify func(Result)) {
	e.state = exprArmed
	switch e.op {
	case OpLeaf:
		e.cancel = e.cond.Arm(s, func(v any) {
			if e.state != exprArmed {
				return
			}
			e.state = exprResolved
			e.cancel = nil
			notify(Result{Op: OpLeaf, Source: e.cond.String(), Value: v})
		})
	case OpAnd:
		e.first.arm(s, func(r Result) {
			e.firstRes = &r
			e.tryAnd(notify)
		})
		e.second.arm(s, func(r Result) {
			e.secondRes = &r
			e.tryAnd(notify)
		})
	case OpOr:
		e.first.arm(s, func(r Result) {
			if e.state != exprArmed {
				return
			}
			e.second.abort()
			e.state = exprResolved
			notify(Result{Op: OpOr, Branch: BranchFirst, First: &r})
		})
		e.second.arm(s, func(r Result) {
			if e.state != exprArmed {
				return
			}
			e.first.abort()
			e.state = exprResolved
			notify(Result{Op: OpOr, Branch: BranchSecond, Second: &r})
		})
	}
}

func (e *Expr) tryAnd(notify func(Result)) {
	if e.state != exprArmed || e.firstRes == nil || e.secondRes == nil {
		return
	}
	e.state = exprResolved
	notify(Result{Op: OpAnd, First: e.firstRes, Second: e.secondRes})
}

// abort deregisters all listeners below e and marks it consumed.
func (e *Expr) abort() {
	if e.state != exprArmed {
		e.state = exprResolved
		return
	}
	e.state = exprResolved
	if e.op == OpLeaf {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		return
	}
	e.first.abort()
	e.second.abort()
}
