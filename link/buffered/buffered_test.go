package buffered

import (
	"context"
	"errors"
	"testing"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(1).([]byte); ok {
		copy(buffer, data)
	}
	return args.Error(0)
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, append([]byte(nil), buffer...))
	return args.Error(0)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestMeasure(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("WriteToAddr", mock.Anything, byte(0x44), []byte{0x2C, 0x06}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x44), mock.Anything).
		Return(nil, []byte{0xDE, 0xAD, 0x98, 0xBE, 0xEF, 0x92}).Once()

	seq := transaction.NewSequencer(New(bus))
	reading, err := seq.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transaction.RawReading{Primary: 0xDEAD, Secondary: 0xBEEF}, reading)
	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "Release", mock.Anything)
}

func TestMeasureFailures(t *testing.T) {
	tests := []struct {
		name     string
		writeErr error
		readErr  error
		step     transaction.Step
		status   shtmon.Status
		kind     transaction.Kind
	}{
		{"command nack", shtmon.ErrAddressNACK, nil, transaction.StepCommandLow, shtmon.StatusDataWriteNACK, transaction.KindCommandNACK},
		{"write busy", shtmon.ErrBusBusy, nil, transaction.StepCommandLow, shtmon.StatusArbitrationLost, transaction.KindCommandNACK},
		{"read nack", nil, shtmon.ErrAddressNACK, transaction.StepAddressRead, shtmon.StatusAddrReadNACK, transaction.KindAddressNACK},
		{"read device error", nil, errors.New("usb gone"), transaction.StepAddressRead, shtmon.StatusBusError, transaction.KindLink},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := &MockI2CBus{}
			bus.On("WriteToAddr", mock.Anything, byte(0x44), []byte{0x2C, 0x06}).Return(test.writeErr).Once()
			bus.On("ReadFromAddr", mock.Anything, byte(0x44), mock.Anything).Return(test.readErr, nil).Maybe()
			bus.On("Release", mock.Anything).Return(nil).Once()

			_, err := transaction.NewSequencer(New(bus)).Measure(context.Background())
			require.Error(t, err)
			rec, ok := transaction.AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, test.step, rec.Step)
			assert.Equal(t, test.status, rec.Status)
			assert.Equal(t, test.kind, rec.Kind)
			bus.AssertExpectations(t)
		})
	}
}

func TestMeasureCancelledRead(t *testing.T) {
	bus := &MockI2CBus{}
	ctx, cancel := context.WithCancel(context.Background())
	bus.On("WriteToAddr", mock.Anything, byte(0x44), []byte{0x2C, 0x06}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x44), mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(errors.New("interrupted"), nil).Once()
	bus.On("Release", mock.Anything).Return(nil).Once()

	_, err := transaction.NewSequencer(New(bus)).Measure(ctx)
	require.Error(t, err)
	rec, ok := transaction.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, transaction.StepAddressRead, rec.Step)
	assert.Equal(t, transaction.KindTimeout, rec.Kind)
	assert.ErrorIs(t, err, shtmon.ErrBusTimeout)
	bus.AssertExpectations(t)
}

func TestDeferredWrite(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("WriteToAddr", mock.Anything, byte(0x70), []byte{0x35, 0x17}).Return(nil).Once()
	l := New(bus, WithWriteLength(0))
	ctx := context.Background()

	status, err := l.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusStart, status)
	status, err = l.Transmit(ctx, shtmon.AddressByte(0x70, shtmon.DirWrite))
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusAddrWriteACK, status)
	for _, b := range []byte{0x35, 0x17} {
		status, err = l.Transmit(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, shtmon.StatusDataWriteACK, status)
	}
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, shtmon.StatusNoInfo, l.Status())
	bus.AssertExpectations(t)
}

func TestRepeatedStartFlushes(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("WriteToAddr", mock.Anything, byte(0x44), []byte{0xF3}).Return(nil).Once()
	l := New(bus)
	ctx := context.Background()

	_, err := l.Start(ctx)
	require.NoError(t, err)
	_, err = l.Transmit(ctx, 0x88)
	require.NoError(t, err)
	_, err = l.Transmit(ctx, 0xF3)
	require.NoError(t, err)
	status, err := l.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusRepeatedStart, status)
	bus.AssertExpectations(t)
}

func TestReceiveOutOfFrame(t *testing.T) {
	l := New(&MockI2CBus{})
	ctx := context.Background()

	value, status, err := l.Receive(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), value)
	assert.Equal(t, shtmon.StatusBusError, status)

	status, err = l.Transmit(ctx, 0x88)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusBusError, status)
}

func TestShortRead(t *testing.T) {
	bus := &MockI2CBus{}
	bus.On("ReadFromAddr", mock.Anything, byte(0x44), mock.Anything).Return(nil, []byte{0x01, 0x02}).Once()
	bus.On("Release", mock.Anything).Return(nil).Once()
	l := New(bus, WithReadLength(2))
	ctx := context.Background()

	_, err := l.Start(ctx)
	require.NoError(t, err)
	status, err := l.Transmit(ctx, 0x89)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusAddrReadACK, status)
	value, status, err := l.Receive(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), value)
	assert.Equal(t, shtmon.StatusDataReadACK, status)
	value, _, err = l.Receive(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), value)
	_, status, err = l.Receive(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusBusError, status)

	require.NoError(t, l.Stop(ctx))
	bus.AssertExpectations(t)
}
