package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/link/sim"
)

func TestErrorState_Empty(t *testing.T) {
	var state ErrorState
	_, _, ok := state.Last()
	assert.False(t, ok)
}

func TestErrorState_OverwrittenByEachFailure(t *testing.T) {
	var state ErrorState

	_, err := NewSequencer(sim.New(sim.WithFault(2, shtmon.StatusAddrWriteNACK))).Measure(context.Background())
	require.True(t, state.Record(err))
	rec, at, ok := state.Last()
	require.True(t, ok)
	assert.False(t, at.IsZero())
	assert.Equal(t, FailureRecord{Step: StepAddressWrite, Status: shtmon.StatusAddrWriteNACK, Kind: KindAddressNACK}, rec)

	_, err = NewSequencer(sim.New(sim.WithFault(7, shtmon.StatusArbitrationLost))).Measure(context.Background())
	require.True(t, state.Record(err))
	rec, _, _ = state.Last()
	assert.Equal(t, FailureRecord{Step: StepPrimaryHigh, Status: shtmon.StatusArbitrationLost, Kind: KindRead}, rec)
}

func TestErrorState_IgnoresOtherErrors(t *testing.T) {
	var state ErrorState
	assert.False(t, state.Record(nil))
	assert.False(t, state.Record(errors.New("something else")))
	_, _, ok := state.Last()
	assert.False(t, ok)
}
