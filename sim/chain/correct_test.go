package chain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/qproc"
)

// correctHarness runs a Correct role on its own node, fed by test ports.
type correctHarness struct {
	s         *sim.Simulator
	node      *sim.Node
	feed      *sim.Port
	body      *Correct
	held      *qproc.Pair
	successes int
}

func newCorrectHarness(t *testing.T, numSwaps int) *correctHarness {
	t.Helper()
	s := sim.NewSimulator(0, 1)
	node, err := sim.NewNode(s, "end", 2)
	require.NoError(t, err)
	require.NoError(t, node.AddPort(PortCLeft, PortQLeft))
	feed, qfeed := sim.NewPort(s, "feed"), sim.NewPort(s, "qfeed")
	require.NoError(t, sim.Connect(feed, node.Port(PortCLeft), 1))
	require.NoError(t, sim.Connect(qfeed, node.Port(PortQLeft), 1))

	body := NewCorrect(node, qproc.NewProcessor(s, node, 5), node.Port(PortCLeft), node.Port(PortQLeft), numSwaps)
	m, err := sim.NewMachine(s, "end.correct", body)
	require.NoError(t, err)
	h := &correctHarness{s: s, node: node, feed: feed, body: body, held: qproc.NewPair(0, 0)}
	s.Bus().Observe(func(sig sim.Signal) {
		if sig.Source == m.ID() && sig.Name == sim.SignalSuccess {
			h.successes++
		}
	})
	require.NoError(t, m.Start())

	qfeed.Send(sim.Message{Tag: qproc.PairTag, Items: []any{h.held.Ends[1]}})
	s.Run()
	return h
}

func (h *correctHarness) send(outcomes ...int) {
	for _, o := range outcomes {
		h.feed.Send(sim.Message{Tag: CorrectionTag, Items: []any{o}})
	}
	h.s.Run()
}

func TestCorrect_ScenarioA_ThreeXOutcomes_OneXCorrection(t *testing.T) {
	// GIVEN a 5-node chain's right end (3 interior nodes)
	h := newCorrectHarness(t, 3)

	// WHEN each interior node reports outcome 01
	h.send(0b01, 0b01, 0b01)

	// THEN X parity is odd, exactly one X correction is applied and SUCCESS fires once
	require.Equal(t, 1, h.successes)
	require.Len(t, h.body.Rounds, 1)
	r := h.body.Rounds[0]
	assert.True(t, r.X)
	assert.False(t, r.Z)
	assert.Equal(t, 1, r.Applied)
	assert.Equal(t, qproc.FrameX, h.held.Frame)

	// AND the counters are back to zero
	received, x, z := h.body.Counters()
	assert.Equal(t, 0, received)
	assert.False(t, x)
	assert.False(t, z)
}

func TestCorrect_ScenarioB_ThirdOutcomeBelongsToNextRound(t *testing.T) {
	// GIVEN a 4-node chain's right end (2 interior nodes)
	h := newCorrectHarness(t, 2)

	// WHEN outcomes 10, 11 and 01 arrive back to back
	h.send(0b10, 0b11, 0b01)

	// THEN SUCCESS fires after the first two: Z toggled twice cancels, X toggled once
	require.Equal(t, 1, h.successes)
	r := h.body.Rounds[0]
	assert.True(t, r.X)
	assert.False(t, r.Z)

	// AND the third outcome, queued while the correction ran, opens the next round
	received, x, z := h.body.Counters()
	assert.Equal(t, 1, received)
	assert.True(t, x)
	assert.False(t, z)
}

func TestCorrect_SelfCancellingOutcomes_NoCorrection(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []int
	}{
		{name: "10 11 01 in one round", outcomes: []int{0b10, 0b11, 0b01}},
		{name: "11 twice", outcomes: []int{0b11, 0b11}},
		{name: "all zero", outcomes: []int{0, 0, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newCorrectHarness(t, len(tc.outcomes))
			h.send(tc.outcomes...)

			require.Equal(t, 1, h.successes)
			r := h.body.Rounds[0]
			assert.False(t, r.X)
			assert.False(t, r.Z)
			assert.Equal(t, 0, r.Applied)
			assert.Equal(t, uint8(0), h.held.Frame)
		})
	}
}

func TestCorrect_ParityDependsOnlyOnToggleCounts(t *testing.T) {
	// GIVEN random multisets of outcomes
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 20; trial++ {
		k := 1 + rng.Intn(6)
		outcomes := make([]int, k)
		xCount, zCount := 0, 0
		for i := range outcomes {
			outcomes[i] = rng.Intn(4)
			if outcomes[i]&1 == 1 {
				xCount++
			}
			if outcomes[i]&2 == 2 {
				zCount++
			}
		}

		// WHEN one round consumes them
		h := newCorrectHarness(t, k)
		h.send(outcomes...)

		// THEN the correction is the parity of each toggle count
		require.Len(t, h.body.Rounds, 1, "trial %d", trial)
		assert.Equal(t, xCount%2 == 1, h.body.Rounds[0].X, "trial %d outcomes %v", trial, outcomes)
		assert.Equal(t, zCount%2 == 1, h.body.Rounds[0].Z, "trial %d outcomes %v", trial, outcomes)
	}
}

func TestCorrect_MalformedMessagesIgnored(t *testing.T) {
	// GIVEN a single-swap chain end
	h := newCorrectHarness(t, 1)

	// WHEN malformed messages arrive
	h.feed.Send(sim.Message{Tag: CorrectionTag})
	h.feed.Send(sim.Message{Tag: CorrectionTag, Items: []any{7}})
	h.feed.Send(sim.Message{Tag: CorrectionTag, Items: []any{"1"}})
	h.feed.Send(sim.Message{Tag: "other", Items: []any{1}})
	h.feed.Send(sim.Message{Tag: CorrectionTag, Items: []any{1, 2}})
	h.s.Run()

	// THEN nothing was counted
	assert.Equal(t, 0, h.successes)
	received, _, _ := h.body.Counters()
	assert.Equal(t, 0, received)

	// AND a well-formed one still completes the round
	h.send(0b10)
	assert.Equal(t, 1, h.successes)
	assert.True(t, h.body.Rounds[0].Z)
}

func TestCorrect_ThreeNodeBoundary_BackToBackRoundsStaySeparate(t *testing.T) {
	// GIVEN N=3, so every outcome completes a round
	h := newCorrectHarness(t, 1)

	// WHEN two outcomes from consecutive rounds land in the same tick
	h.send(0b01, 0b10)

	// THEN each produced its own SUCCESS with its own parity
	require.Equal(t, 2, h.successes)
	require.Len(t, h.body.Rounds, 2)
	assert.True(t, h.body.Rounds[0].X)
	assert.False(t, h.body.Rounds[0].Z)
	assert.False(t, h.body.Rounds[1].X)
	assert.True(t, h.body.Rounds[1].Z)
	received, x, z := h.body.Counters()
	assert.Equal(t, 0, received)
	assert.False(t, x)
	assert.False(t, z)
	assert.Equal(t, qproc.FrameX|qproc.FrameZ, h.held.Frame)
}
