package sim

import "fmt"

// timerCond fires after a fixed delay. Value is the firing time.
type timerCond struct {
	delay int64
}

// AfterDelay is a condition satisfied delay ticks after it is armed.
func AfterDelay(delay int64) Condition {
	if delay < 0 {
		panic(fmt.Sprintf("AfterDelay: negative delay %d", delay))
	}
	return timerCond{delay: delay}
}

func (c timerCond) Arm(s *Simulator, fire func(any)) func() {
	t := s.After(c.delay, PriorityTimer, func() { fire(s.Clock) })
	return t.Cancel
}

func (c timerCond) String() string { return fmt.Sprintf("timer(%d)", c.delay) }

// signalCond fires on an emission of (source, name). With since < 0 only
// emissions strictly after arming count; otherwise any emission whose Seq is
// greater than since counts, including one raised before arming.
type signalCond struct {
	bus   *Bus
	src   Emitter
	name  SignalName
	since int64
}

// OnSignal is satisfied by the next emission of name by src.
// Emissions raised before the condition is armed are not seen.
func OnSignal(bus *Bus, src Emitter, name SignalName) Condition {
	return signalCond{bus: bus, src: src, name: name, since: -1}
}

// OnSignalSince is satisfied by any emission of name by src whose sequence
// number is greater than cursor. Capture the cursor with Bus.Seq before a
// wait that may be interrupted, so a signal raised in between is not lost.
func OnSignalSince(bus *Bus, src Emitter, name SignalName, cursor int64) Condition {
	if cursor < 0 {
		cursor = 0
	}
	return signalCond{bus: bus, src: src, name: name, since: cursor}
}

func (c signalCond) Arm(s *Simulator, fire func(any)) func() {
	if c.since >= 0 {
		if last, ok := c.bus.Last(c.src, c.name); ok && last.Seq > c.since {
			t := s.After(0, PrioritySignal, func() { fire(last) })
			return t.Cancel
		}
	}
	var cancel func()
	cancel = c.bus.Subscribe(c.src, c.name, func(sig Signal) {
		cancel()
		fire(sig)
	})
	return cancel
}

func (c signalCond) String() string {
	return fmt.Sprintf("signal(%s.%s)", c.src.ID(), c.name)
}

// portCond fires when the port holds an input message matching tag.
// It is level-triggered: input already queued at arm time fires in a
// zero-delay event. Value is the *Port.
type portCond struct {
	port *Port
	tag  string
}

// OnPortInput is satisfied when port has a pending input message.
func OnPortInput(port *Port) Condition {
	return portCond{port: port}
}

// OnPortInputTag is satisfied when port has a pending input message with the given tag.
func OnPortInputTag(port *Port, tag string) Condition {
	return portCond{port: port, tag: tag}
}

func (c portCond) Arm(s *Simulator, fire func(any)) func() {
	if c.port.hasInput(c.tag) {
		t := s.After(0, PrioritySignal, func() { fire(c.port) })
		return t.Cancel
	}
	return c.port.watch(c.tag, func() { fire(c.port) })
}

func (c portCond) String() string {
	if c.tag == "" {
		return fmt.Sprintf("input(%s)", c.port.Name())
	}
	return fmt.Sprintf("input(%s#%s)", c.port.Name(), c.tag)
}

// Completion is a one-shot condition resolved by a collaborator outside the
// await machinery, such as a processor finishing an operation.
type Completion struct {
	name  string
	done  bool
	value any
	fire  func(any)
}

// NewCompletion returns an unresolved completion.
func NewCompletion(name string) *Completion {
	return &Completion{name: name}
}

// Resolve completes c with value. Must be called from an event handler.
// Later calls are ignored.
func (c *Completion) Resolve(value any) {
	if c.done {
		return
	}
	c.done = true
	c.value = value
	if fire := c.fire; fire != nil {
		c.fire = nil
		fire(value)
	}
}

// Done reports whether Resolve was called.
func (c *Completion) Done() bool { return c.done }

// Value returns the resolved value, or nil before resolution.
func (c *Completion) Value() any { return c.value }

func (c *Completion) Arm(s *Simulator, fire func(any)) func() {
	if c.done {
		t := s.After(0, PrioritySignal, func() { fire(c.value) })
		return t.Cancel
	}
	c.fire = fire
	return func() { c.fire = nil }
}

func (c *Completion) String() string { return "completion(" + c.name + ")" }
