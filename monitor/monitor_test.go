package monitor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/display"
	"github.com/mklimuk/shtmon/link/sim"
	"github.com/mklimuk/shtmon/publish"
	"github.com/mklimuk/shtmon/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, s publish.Sample) error {
	return m.Called(ctx, s).Error(0)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(transaction.NewSequencer(sim.New()), WithInterval(0))
	require.Error(t, err)
}

func TestPollOnceReading(t *testing.T) {
	term := display.NewTerminal(&bytes.Buffer{})
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(s publish.Sample) bool {
		return s.Reading != nil && s.Failure == nil
	})).Return(nil).Once()
	m, err := New(transaction.NewSequencer(sim.New(sim.WithReading(0x6666, 0x6666))),
		WithScreen(display.NewScreen(term, display.Fahrenheit)),
		WithPublisher(pub),
	)
	require.NoError(t, err)

	sample := m.PollOnce(context.Background())
	require.NotNil(t, sample.Reading)
	assert.Equal(t, float32(77.0), sample.Reading.Fahrenheit)
	assert.Empty(t, sample.Error)
	assert.Equal(t, "T   77.00 F   ", term.Lines()[2])
	_, _, set := m.State().Last()
	assert.False(t, set)
	pub.AssertExpectations(t)
}

func TestPollOnceFailure(t *testing.T) {
	term := display.NewTerminal(&bytes.Buffer{})
	state := &transaction.ErrorState{}
	m, err := New(transaction.NewSequencer(sim.New(sim.WithAddress(0x45))),
		WithScreen(display.NewScreen(term, display.Fahrenheit)),
		WithErrorState(state),
	)
	require.NoError(t, err)

	sample := m.PollOnce(context.Background())
	assert.Nil(t, sample.Reading)
	require.NotNil(t, sample.Failure)
	assert.Equal(t, transaction.StepAddressWrite, sample.Failure.Step)
	assert.Contains(t, sample.Error, "step 2")

	rec, at, set := state.Last()
	require.True(t, set)
	assert.Equal(t, *sample.Failure, rec)
	assert.False(t, at.IsZero())
	assert.Equal(t, "ERR step 2    ", term.Lines()[2])
	assert.Equal(t, "st 0x20       ", term.Lines()[3])
}

func TestPollOnceRecovers(t *testing.T) {
	// only the very first operation on the device faults
	dev := sim.New(sim.WithFault(1, shtmon.StatusBusError))
	m, err := New(transaction.NewSequencer(dev))
	require.NoError(t, err)

	first := m.PollOnce(context.Background())
	require.NotNil(t, first.Failure)
	assert.Equal(t, transaction.KindStart, first.Failure.Kind)

	second := m.PollOnce(context.Background())
	require.NotNil(t, second.Reading)
	// the slot keeps the last failure after a success
	rec, _, set := m.State().Last()
	assert.True(t, set)
	assert.Equal(t, transaction.StepStart, rec.Step)
}

func TestPublishErrorIsNotFatal(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	m, err := New(transaction.NewSequencer(sim.New()), WithPublisher(pub))
	require.NoError(t, err)

	sample := m.PollOnce(context.Background())
	assert.NotNil(t, sample.Reading)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestRun(t *testing.T) {
	m, err := New(transaction.NewSequencer(sim.New()), WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan publish.Sample)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, out)
		close(done)
	}()

	for range 3 {
		select {
		case s := <-out:
			assert.NotNil(t, s.Reading)
		case <-time.After(time.Second):
			t.Fatal("no sample")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
