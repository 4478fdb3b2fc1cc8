package qproc

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
)

// PairTag is the message tag carrying a freshly emitted unit.
const PairTag = "pair"

// Source emits pairs, sending one unit out of each of its two ports.
// Connection delays on those ports model emission and channel latency.
type Source struct {
	name      string
	sim       *sim.Simulator
	out       [2]*sim.Port
	errorProb float64
	rng       *rand.Rand
	sampler   func() uint8
	timer     *sim.Timer
	nextID    int

	// Emitted counts emitted pairs.
	Emitted int
}

// NewSource creates a source whose pairs carry a random non-zero frame with
// probability errorProb.
func NewSource(s *sim.Simulator, name string, errorProb float64) (*Source, error) {
	if errorProb < 0 || errorProb > 1 {
		return nil, fmt.Errorf("%w: source %s error probability %v outside [0,1]", sim.ErrConstruction, name, errorProb)
	}
	src := &Source{
		name:      name,
		sim:       s,
		errorProb: errorProb,
		rng:       s.RNG().ForSubsystem(sim.SubsystemSource),
	}
	src.out[0] = sim.NewPort(s, name+".qout0")
	src.out[1] = sim.NewPort(s, name+".qout1")
	src.sampler = src.sampleFrame
	return src, nil
}

// Port returns output port 0 or 1.
func (src *Source) Port(i int) *sim.Port { return src.out[i] }

// SetSampler replaces the frame draw, for scripted scenarios.
func (src *Source) SetSampler(fn func() uint8) { src.sampler = fn }

func (src *Source) sampleFrame() uint8 {
	if src.errorProb > 0 && src.rng.Float64() < src.errorProb {
		return uint8(1 + src.rng.Intn(3))
	}
	return 0
}

// Trigger emits one pair now.
func (src *Source) Trigger() *Pair {
	p := NewPair(src.nextID, src.sampler())
	src.nextID++
	src.Emitted++
	logrus.Debugf("[tick %07d] %s: emitted pair %d frame=%02b", src.sim.Clock, src.name, p.ID, p.Frame)
	src.out[0].Send(sim.Message{Tag: PairTag, Items: []any{p.Ends[0]}})
	src.out[1].Send(sim.Message{Tag: PairTag, Items: []any{p.Ends[1]}})
	return p
}

// Start emits a pair now and then every period ticks until Stop.
func (src *Source) Start(period int64) {
	if period <= 0 {
		panic(fmt.Sprintf("Source.Start: non-positive period %d", period))
	}
	src.Stop()
	var tick func()
	tick = func() {
		src.Trigger()
		src.timer = src.sim.After(period, sim.PriorityTimer, tick)
	}
	src.timer = src.sim.After(0, sim.PriorityTimer, tick)
}

// Stop cancels periodic emission.
func (src *Source) Stop() {
	if src.timer != nil {
		src.timer.Cancel()
		src.timer = nil
	}
}

// UnitOf extracts the unit carried by a pair message.
func UnitOf(msg sim.Message) (*Unit, bool) {
	if msg.Tag != PairTag || len(msg.Items) != 1 {
		return nil, false
	}
	u, ok := msg.Items[0].(*Unit)
	return u, ok
}
