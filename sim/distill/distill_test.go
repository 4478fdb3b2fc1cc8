package distill

import (
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func build(t *testing.T, cfg Config, seed int64) (*sim.Simulator, *Network) {
	t.Helper()
	s := sim.NewSimulator(0, seed)
	net, err := Build(s, cfg)
	require.NoError(t, err)
	return s, net
}

// scripted returns a sampler replaying frames in order, then ideal pairs.
func scripted(frames ...uint8) func() uint8 {
	i := 0
	return func() uint8 {
		if i >= len(frames) {
			return 0
		}
		f := frames[i]
		i++
		return f
	}
}

func TestBuild_TreeShape(t *testing.T) {
	for layers := 1; layers <= 4; layers++ {
		cfg := DefaultConfig()
		cfg.Layers = layers
		_, net := build(t, cfg, 1)

		for _, side := range net.Sides {
			// THEN 2^L - 1 blocks per node, halving layer by layer
			assert.Equal(t, 1<<layers-1, side.Count(), "layers=%d", layers)
			assert.Len(t, side.Generators, 1<<(layers-1))
			for l, blocks := range side.Blocks {
				assert.Len(t, blocks, 1<<(layers-1-l), "layers=%d layer=%d", layers, l)
			}
			// AND every inner block compares the goal units of its two children
			for l := 1; l < layers; l++ {
				for b, p := range side.Purifiers[l] {
					c0 := side.Purifiers[l-1][2*b]
					c1 := side.Purifiers[l-1][2*b+1]
					assert.Equal(t, c0.goal, p.goal)
					assert.Equal(t, c1.goal, p.meas)
					assert.Equal(t, KindInner, p.Kind())
				}
			}
			assert.Equal(t, 0, side.Purifiers[layers-1][0].Goal())
		}
		assert.Equal(t, 1<<(layers+1), net.Sides[SideA].Node.Memory.Size())
	}
}

func TestSlots(t *testing.T) {
	tests := []struct {
		layer, block, goal, meas int
	}{
		{0, 0, 0, 1},
		{0, 3, 6, 7},
		{1, 0, 0, 2},
		{1, 1, 4, 6},
		{2, 0, 0, 4},
		{2, 1, 8, 12},
	}
	for _, tc := range tests {
		goal, meas := Slots(tc.layer, tc.block)
		assert.Equal(t, tc.goal, goal, "L%d B%d", tc.layer, tc.block)
		assert.Equal(t, tc.meas, meas, "L%d B%d", tc.layer, tc.block)
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		topology bool
	}{
		{"zero layers", func(c *Config) { c.Layers = 0 }, true},
		{"too many layers", func(c *Config) { c.Layers = maxLayers + 1 }, false},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, false},
		{"error prob", func(c *Config) { c.ErrorProb = -0.1 }, false},
		{"negative rounds", func(c *Config) { c.Rounds = -2 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := Build(sim.NewSimulator(0, 1), cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sim.ErrConstruction))
			assert.Equal(t, tc.topology, errors.Is(err, sim.ErrInvalidTopology))
		})
	}
}

func TestNested_ErrorFree_EveryRoundSucceeds(t *testing.T) {
	// GIVEN a 3-layer tree over ideal pairs
	cfg := DefaultConfig()
	cfg.Rounds = 3
	s, net := build(t, cfg, 7)

	// WHEN run to completion
	require.NoError(t, net.Start())
	s.Run()

	// THEN every round ends with one ideal pair shared by both goal slots
	require.Len(t, net.Results(), 3)
	for i, r := range net.Results() {
		assert.Equal(t, i+1, r.Round)
		assert.True(t, r.Success, "round %d", r.Round)
		assert.Equal(t, 0, r.PosA)
		assert.Equal(t, 0, r.PosB)
		assert.True(t, r.EndToEnd, "round %d", r.Round)
		assert.Equal(t, uint8(0), r.Frame)
		assert.Positive(t, r.Duration)
	}
	// AND each round consumed 2^L pairs
	assert.Equal(t, 3*8, net.Source.Emitted)

	// AND the root stopped everything and no slot stays claimed
	assert.Equal(t, sim.StatusStopped, net.Root.Status())
	for _, side := range net.Sides {
		assert.Equal(t, 0, side.Node.Memory.UsedCount(), side.Node.Name)
	}
}

func TestNested_ScenarioC_BothRootsFailTogether(t *testing.T) {
	// GIVEN one layer and a measurement pair whose frame differs from the goal pair
	cfg := DefaultConfig()
	cfg.Layers = 1
	cfg.Rounds = 1
	s, net := build(t, cfg, 3)
	net.Source.SetSampler(scripted(0, qproc.FrameX))

	var fails []sim.Signal
	roots := map[string]bool{net.Sides[SideA].Root().ID(): true, net.Sides[SideB].Root().ID(): true}
	s.Bus().Observe(func(sig sim.Signal) {
		if roots[sig.Source] && sig.Name == sim.SignalFail {
			fails = append(fails, sig)
		}
	})

	// WHEN the round runs
	require.NoError(t, net.Start())
	s.Run()

	// THEN both roots raised FAIL with the same round counter
	require.Len(t, fails, 2)
	assert.Equal(t, 1, fails[0].Payload)
	assert.Equal(t, fails[0].Payload, fails[1].Payload)
	assert.NotEqual(t, fails[0].Source, fails[1].Source)

	// AND the parent still completed the round as a failure
	require.Len(t, net.Results(), 1)
	r := net.Results()[0]
	assert.False(t, r.Success)
	assert.Equal(t, 1, r.FailedAt)
	assert.Equal(t, -1, r.PosA)
	assert.Equal(t, -1, r.PosB)

	// AND no slot is left claimed on either side
	for _, side := range net.Sides {
		assert.Equal(t, 0, side.Node.Memory.UsedCount(), side.Node.Name)
	}
}

func TestNested_FailedRoundIsRetried(t *testing.T) {
	// GIVEN three rounds where only the second sees mismatched pairs
	cfg := DefaultConfig()
	cfg.Layers = 1
	cfg.Rounds = 3
	s, net := build(t, cfg, 3)
	net.Source.SetSampler(scripted(0, 0, qproc.FrameZ, 0, 0, 0))

	require.NoError(t, net.Start())
	s.Run()

	// THEN the failure stays confined to its round
	require.Len(t, net.Results(), 3)
	assert.True(t, net.Results()[0].Success)
	assert.False(t, net.Results()[1].Success)
	assert.Equal(t, 2, net.Results()[1].FailedAt)
	assert.True(t, net.Results()[2].Success)
	assert.True(t, net.Results()[2].EndToEnd)
}

func TestNested_FailPropagatesUpTheTree(t *testing.T) {
	// GIVEN two layers where the second leaf's pairs disagree
	cfg := DefaultConfig()
	cfg.Layers = 2
	cfg.Rounds = 1
	s, net := build(t, cfg, 11)
	net.Source.SetSampler(scripted(0, 0, 0, qproc.FrameX))

	require.NoError(t, net.Start())
	s.Run()

	// THEN the inner block fails without comparing and the round fails
	for _, side := range net.Sides {
		leaves := side.Purifiers[0]
		require.Len(t, leaves[0].Decisions, 1)
		require.Len(t, leaves[1].Decisions, 1)
		assert.True(t, leaves[0].Decisions[0].Success)
		assert.False(t, leaves[1].Decisions[0].Success)
		root := side.Purifiers[1][0]
		require.Len(t, root.Decisions, 1)
		assert.False(t, root.Decisions[0].Success)
	}
	require.Len(t, net.Results(), 1)
	assert.False(t, net.Results()[0].Success)
	assert.Equal(t, 1, net.Results()[0].FailedAt)
}

func TestNested_NoLayerSkipping(t *testing.T) {
	// GIVEN a 3-layer tree over noisy pairs
	cfg := DefaultConfig()
	cfg.ErrorProb = 0.4
	cfg.Rounds = 1
	s, net := build(t, cfg, 99)

	order := map[string]int64{}
	s.Bus().Observe(func(sig sim.Signal) {
		if sig.Name == sim.SignalSuccess || sig.Name == sim.SignalFail {
			if _, seen := order[sig.Source]; !seen {
				order[sig.Source] = sig.Seq
			}
		}
	})

	require.NoError(t, net.Start())
	s.Run()

	// THEN every block decided only after both of its children decided
	for _, side := range net.Sides {
		for l := 1; l < len(side.Blocks); l++ {
			for b, m := range side.Blocks[l] {
				seq, ok := order[m.ID()]
				require.True(t, ok, m.ID())
				for _, child := range side.Blocks[l-1][2*b : 2*b+2] {
					childSeq, ok := order[child.ID()]
					require.True(t, ok, child.ID())
					assert.Greater(t, seq, childSeq, "%s before %s", m.ID(), child.ID())
				}
			}
		}
	}
	require.Len(t, net.Results(), 1)
}

func TestNested_ExchangeTimeout(t *testing.T) {
	// GIVEN a timeout shorter than the classical delay
	cfg := DefaultConfig()
	cfg.Layers = 1
	cfg.Rounds = 1
	cfg.Timeout = 50
	s, net := build(t, cfg, 5)

	require.NoError(t, net.Start())
	s.Run()

	// THEN A, comparing first, gives up before B's report arrives
	a := net.Sides[SideA].Purifiers[0][0]
	require.Len(t, a.Decisions, 1)
	assert.False(t, a.Decisions[0].Success)
	assert.True(t, a.Decisions[0].TimedOut)

	// AND B, whose report from A was already in flight, still matches it
	b := net.Sides[SideB].Purifiers[0][0]
	require.Len(t, b.Decisions, 1)
	assert.True(t, b.Decisions[0].Success)

	// AND the parent unblocks with a failed round
	require.Len(t, net.Results(), 1)
	r := net.Results()[0]
	assert.False(t, r.Success)
	assert.Equal(t, -1, r.PosA)
	assert.Equal(t, 0, r.PosB)
}

func TestNested_SameSeed_SameResults(t *testing.T) {
	run := func() []RoundResult {
		cfg := DefaultConfig()
		cfg.ErrorProb = 0.25
		cfg.Rounds = 4
		s, net := build(t, cfg, 2024)
		require.NoError(t, net.Start())
		s.Run()
		return net.Results()
	}
	assert.Equal(t, run(), run())
}

func TestParseReport(t *testing.T) {
	tests := []struct {
		name  string
		items []any
		want  report
		ok    bool
	}{
		{"valid", []any{3, 1}, report{round: 3, bit: 1}, true},
		{"empty", nil, report{}, false},
		{"one item", []any{3}, report{}, false},
		{"bit out of range", []any{3, 2}, report{}, false},
		{"wrong type", []any{"3", 1}, report{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseReport(sim.Message{Tag: Tag(0, 0), Items: tc.items})
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGenerator_WaitsForHeldInputSlot(t *testing.T) {
	// GIVEN an input slot held by another owner
	s := sim.NewSimulator(0, 1)
	node, err := sim.NewNode(s, "n", 4)
	require.NoError(t, err)
	require.NoError(t, node.AddPort(PortQuantum))
	feed := sim.NewPort(s, "feed")
	require.NoError(t, sim.Connect(feed, node.Port(PortQuantum), 0))
	mem := node.Memory
	require.NoError(t, mem.ClaimAt("intruder", 2))

	g := NewGenerator(node, node.Port(PortQuantum), nil, 2, 1, nil)
	m, err := sim.NewMachine(s, "n.gen/0", g)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	pair := qproc.NewPair(0, 0)
	feed.Send(sim.Message{Tag: qproc.PairTag, Items: []any{pair.Ends[1]}})
	s.Run()

	// THEN nothing is delivered while the slot is held
	assert.Equal(t, 0, g.Produced)
	assert.Equal(t, "intruder", mem.Owner(2))

	// WHEN the slot is freed
	mem.Release("intruder", 2)
	s.Run()

	// THEN the queued unit is delivered into it
	assert.Equal(t, 1, g.Produced)
	assert.Equal(t, m.ID(), mem.Owner(2))
	v, ok := mem.Peek(2)
	require.True(t, ok)
	assert.Same(t, pair.Ends[1], v)
	assert.True(t, m.IsRunning())

	// WHEN a consumer takes the unit and frees the slot
	require.NoError(t, mem.Transfer(m.ID(), "consumer", 2))
	mem.Release("consumer", 2)
	s.Run()

	// THEN the generator is done
	assert.Equal(t, sim.StatusStopped, m.Status())
	assert.True(t, mem.IsFree(2))
}

func TestGenerator_NotReady(t *testing.T) {
	s := sim.NewSimulator(0, 1)
	node, err := sim.NewNode(s, "n", 2)
	require.NoError(t, err)
	require.NoError(t, node.AddPort(PortQuantum))

	m, err := sim.NewMachine(s, "n.gen/0", NewGenerator(node, node.Port(PortQuantum), nil, 0, 1, nil))
	require.NoError(t, err)
	assert.True(t, errors.Is(m.Start(), sim.ErrNotReady))
}

func TestNested_Start_UnboundPurifier_ReturnsNotReady(t *testing.T) {
	// GIVEN a tree whose first leaf on node A lost its processor after wiring
	s, net := build(t, DefaultConfig(), 1)
	net.Sides[SideA].Purifiers[0][0].proc = nil

	// WHEN the network is started
	err := net.Start()

	// THEN Start reports the unbound block and nothing runs
	assert.True(t, errors.Is(err, sim.ErrNotReady))
	assert.False(t, net.Root.IsRunning())
	for _, side := range net.Sides {
		for _, layer := range side.Blocks {
			for _, m := range layer {
				assert.False(t, m.IsRunning(), m.ID())
			}
		}
	}
	s.RunUntil(5000)
	assert.Empty(t, net.Results())
	assert.Equal(t, 0, net.Source.Emitted)
}
