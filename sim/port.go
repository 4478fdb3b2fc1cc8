package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Message is a classical or quantum payload travelling between ports.
// Tag lets a receiver tell independent exchanges on one channel apart.
type Message struct {
	Tag   string
	Items []any
}

type portWatcher struct {
	tag    string
	fn     func()
	active bool
}

// Port is one end of a fixed-delay point-to-point connection.
// Received messages queue until taken with Receive or ReceiveTag.
type Port struct {
	name  string
	sim   *Simulator
	peer  *Port
	delay int64

	queue    []Message
	watchers []*portWatcher
	handler  func(Message) bool
}

// NewPort returns an unconnected port.
func NewPort(s *Simulator, name string) *Port {
	return &Port{name: name, sim: s}
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

// Connect links a and b in both directions with the given one-way delay.
func Connect(a, b *Port, delay int64) error {
	if delay < 0 {
		return fmt.Errorf("%w: negative delay %d connecting %s and %s", ErrConstruction, delay, a.name, b.name)
	}
	if a.peer != nil || b.peer != nil {
		return fmt.Errorf("%w: port already connected (%s, %s)", ErrConstruction, a.name, b.name)
	}
	a.peer, a.delay = b, delay
	b.peer, b.delay = a, delay
	return nil
}

// Connected reports whether the port has a peer.
func (p *Port) Connected() bool { return p.peer != nil }

// Send transmits msg to the peer, arriving after the connection delay.
// Messages on an unconnected port are dropped.
func (p *Port) Send(msg Message) {
	if p.peer == nil {
		logrus.Warnf("[tick %07d] port %s: dropped message %q, not connected", p.sim.Clock, p.name, msg.Tag)
		return
	}
	peer := p.peer
	p.sim.After(p.delay, PriorityDelivery, func() { peer.deliver(msg) })
}

// Bind installs a handler that sees every arriving message before it is
// queued. A handler returning true consumes the message.
func (p *Port) Bind(handler func(Message) bool) {
	p.handler = handler
}

// Forward relays every message arriving on p out through dst.
func (p *Port) Forward(dst *Port) {
	p.Bind(func(msg Message) bool {
		dst.Send(msg)
		return true
	})
}

func (p *Port) deliver(msg Message) {
	if p.handler != nil && p.handler(msg) {
		return
	}
	p.queue = append(p.queue, msg)
	watchers := p.watchers
	p.watchers = nil
	for _, w := range watchers {
		if !w.active {
			continue
		}
		if w.tag != "" && w.tag != msg.Tag {
			p.watchers = append(p.watchers, w)
			continue
		}
		w.active = false
		w.fn()
	}
}

func (p *Port) watch(tag string, fn func()) func() {
	w := &portWatcher{tag: tag, fn: fn, active: true}
	p.watchers = append(p.watchers, w)
	return func() { w.active = false }
}

func (p *Port) hasInput(tag string) bool {
	if tag == "" {
		return len(p.queue) > 0
	}
	for _, m := range p.queue {
		if m.Tag == tag {
			return true
		}
	}
	return false
}

// Pending returns the number of queued messages.
func (p *Port) Pending() int { return len(p.queue) }

// Receive removes and returns the oldest queued message.
func (p *Port) Receive() (Message, bool) {
	if len(p.queue) == 0 {
		return Message{}, false
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	return msg, true
}

// ReceiveTag removes and returns the oldest queued message with the given tag.
func (p *Port) ReceiveTag(tag string) (Message, bool) {
	for i, m := range p.queue {
		if m.Tag == tag {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return m, true
		}
	}
	return Message{}, false
}

// Drain discards every queued message and returns how many were dropped.
func (p *Port) Drain() int {
	n := len(p.queue)
	p.queue = nil
	return n
}
