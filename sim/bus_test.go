package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_Register_RejectsDuplicateAndEmptyIDs(t *testing.T) {
	bus := NewSimulator(0, 1).Bus()
	require.NoError(t, bus.Register("alice"))

	err := bus.Register("alice")
	assert.True(t, errors.Is(err, ErrConstruction))

	err = bus.Register("")
	assert.True(t, errors.Is(err, ErrConstruction))
}

func TestBus_Emit_DeliversInZeroDelayEvent(t *testing.T) {
	// GIVEN a subscriber on (src, SUCCESS)
	s := NewSimulator(0, 1)
	src := testEmitter("src")
	var got []Signal
	s.Bus().Subscribe(src, SignalSuccess, func(sig Signal) { got = append(got, sig) })

	// WHEN the source emits
	sig := s.Bus().Emit(src, SignalSuccess, 7)

	// THEN nothing is delivered synchronously
	assert.Empty(t, got)

	// AND the delivery lands at the same simulated time once events run
	s.Run()
	require.Len(t, got, 1)
	assert.Equal(t, sig, got[0])
	assert.Equal(t, 7, got[0].Payload)
	assert.Equal(t, int64(0), got[0].Time)
}

func TestBus_Subscribe_SeesOnlyEmissionsAfterRegistration(t *testing.T) {
	// GIVEN an emission that happens before anyone subscribes
	s := NewSimulator(0, 1)
	src := testEmitter("src")
	s.Bus().Emit(src, SignalSuccess, "early")

	// WHEN a subscriber registers before the early delivery event runs
	var got []any
	s.Bus().Subscribe(src, SignalSuccess, func(sig Signal) { got = append(got, sig.Payload) })
	s.Run()

	// THEN the early emission is not seen
	assert.Empty(t, got)

	// WHEN a later emission happens
	s.Bus().Emit(src, SignalSuccess, "late")
	s.Run()

	// THEN it is seen
	assert.Equal(t, []any{"late"}, got)
}

func TestBus_Cancel_BeforeDelivery_SuppressesCallback(t *testing.T) {
	s := NewSimulator(0, 1)
	src := testEmitter("src")
	called := false
	cancel := s.Bus().Subscribe(src, SignalFail, func(Signal) { called = true })
	s.Bus().Emit(src, SignalFail, nil)
	cancel()
	s.Run()
	assert.False(t, called)
}

func TestBus_Last_OverwritesPerSourceAndName(t *testing.T) {
	s := NewSimulator(0, 1)
	a, b := testEmitter("a"), testEmitter("b")
	bus := s.Bus()

	_, ok := bus.Last(a, SignalSuccess)
	assert.False(t, ok)

	bus.Emit(a, SignalSuccess, 1)
	bus.Emit(b, SignalSuccess, 2)
	bus.Emit(a, SignalSuccess, 3)
	bus.Emit(a, SignalFail, 4)

	last, ok := bus.Last(a, SignalSuccess)
	require.True(t, ok)
	assert.Equal(t, 3, last.Payload)
	assert.Equal(t, int64(3), last.Seq)
	last, _ = bus.Last(b, SignalSuccess)
	assert.Equal(t, 2, last.Payload)
	assert.Equal(t, int64(4), bus.Seq())
}

func TestBus_Observe_SeesEveryEmissionInOrder(t *testing.T) {
	s := NewSimulator(0, 1)
	var seqs []int64
	s.Bus().Observe(func(sig Signal) { seqs = append(seqs, sig.Seq) })
	src := testEmitter("x")
	s.Bus().Emit(src, SignalWaiting, nil)
	s.Bus().Emit(src, SignalBusy, nil)
	assert.Equal(t, []int64{1, 2}, seqs)
}
