package bitbang

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slaveState int

const (
	slaveIdle slaveState = iota
	slaveRx
	slaveAckOut
	slaveTx
	slaveAckIn
)

// fakeBus is a wired-AND pair of lines with a target device reacting to
// clock edges and start/stop conditions.
type fakeBus struct {
	address byte
	payload []byte
	// stretch is the number of clock reads the device keeps SCL low after
	// acknowledging a read header; -1 holds it forever
	stretch  int
	readErr  error
	busyData bool

	masterSDA, masterSCL bool
	slaveSDA             bool
	hold                 int
	lastSDA, lastSCL     bool

	state     slaveState
	addrPhase bool
	read      bool
	shift     byte
	bits      int
	pos       int
	masterAck bool
	frame     []byte
	headers   []byte
	written   [][]byte
}

func newFakeBus(address byte, payload ...byte) *fakeBus {
	return &fakeBus{
		address:   address,
		payload:   payload,
		masterSDA: true,
		masterSCL: true,
		slaveSDA:  true,
		lastSDA:   true,
		lastSCL:   true,
	}
}

func (b *fakeBus) link() *Link {
	return New(fakeLine{bus: b}, fakeLine{bus: b, clock: true}, WithHalfPeriod(0))
}

func (b *fakeBus) sda() bool {
	return b.masterSDA && b.slaveSDA && !b.busyData
}

func (b *fakeBus) scl() bool {
	return b.masterSCL && b.hold == 0
}

func (b *fakeBus) drive(clock bool, high bool) {
	if clock {
		b.masterSCL = high
	} else {
		b.masterSDA = high
	}
	b.settle()
}

func (b *fakeBus) sample(clock bool) (bool, error) {
	if b.readErr != nil {
		return false, b.readErr
	}
	if !clock {
		return b.sda(), nil
	}
	if b.masterSCL && b.hold > 0 {
		b.hold--
		if b.hold == 0 {
			b.settle()
		}
	}
	return b.scl(), nil
}

func (b *fakeBus) settle() {
	sda, scl := b.sda(), b.scl()
	switch {
	case scl && b.lastSCL && sda != b.lastSDA:
		if sda {
			b.stop()
		} else {
			b.start()
		}
	case scl && !b.lastSCL:
		b.rising(sda)
	case !scl && b.lastSCL:
		b.falling()
	}
	b.lastSDA, b.lastSCL = b.sda(), b.scl()
}

func (b *fakeBus) flush() {
	if len(b.frame) > 0 {
		b.written = append(b.written, b.frame)
		b.frame = nil
	}
}

func (b *fakeBus) start() {
	b.flush()
	b.state = slaveRx
	b.addrPhase = true
	b.shift = 0
	b.bits = 0
	b.slaveSDA = true
}

func (b *fakeBus) stop() {
	b.flush()
	b.state = slaveIdle
	b.slaveSDA = true
}

func (b *fakeBus) rising(sda bool) {
	switch b.state {
	case slaveRx:
		b.shift <<= 1
		if sda {
			b.shift |= 0x01
		}
		b.bits++
	case slaveAckIn:
		b.masterAck = !sda
	}
}

func (b *fakeBus) falling() {
	switch b.state {
	case slaveRx:
		if b.bits < 8 {
			return
		}
		value := b.shift
		b.shift = 0
		b.bits = 0
		if b.addrPhase {
			b.addrPhase = false
			b.headers = append(b.headers, value)
			if value>>1 != b.address {
				b.state = slaveIdle
				return
			}
			b.read = value&0x01 == 1
		} else {
			b.frame = append(b.frame, value)
		}
		b.slaveSDA = false
		b.state = slaveAckOut
	case slaveAckOut:
		b.slaveSDA = true
		if !b.read {
			b.state = slaveRx
			return
		}
		b.state = slaveTx
		b.pos = 0
		b.bits = 0
		b.hold = b.stretch
		b.out()
	case slaveTx:
		b.bits++
		if b.bits < 8 {
			b.out()
			return
		}
		b.slaveSDA = true
		b.state = slaveAckIn
	case slaveAckIn:
		if !b.masterAck {
			b.state = slaveIdle
			return
		}
		b.pos++
		b.bits = 0
		b.state = slaveTx
		b.out()
	}
}

func (b *fakeBus) out() {
	value := byte(0xFF)
	if b.pos < len(b.payload) {
		value = b.payload[b.pos]
	}
	b.slaveSDA = value>>(7-b.bits)&0x01 == 1
}

type fakeLine struct {
	bus   *fakeBus
	clock bool
}

func (f fakeLine) Low() error {
	f.bus.drive(f.clock, false)
	return nil
}

func (f fakeLine) Release() error {
	f.bus.drive(f.clock, true)
	return nil
}

func (f fakeLine) Read() (bool, error) {
	return f.bus.sample(f.clock)
}

func TestMeasure(t *testing.T) {
	bus := newFakeBus(0x44, 0xDE, 0xAD, 0x98, 0xBE, 0xEF, 0x92)
	seq := transaction.NewSequencer(bus.link())

	reading, err := seq.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transaction.RawReading{Primary: 0xDEAD, Secondary: 0xBEEF}, reading)
	assert.Equal(t, []byte{0x88, 0x89}, bus.headers)
	assert.Equal(t, [][]byte{{0x2C, 0x06}}, bus.written)
	assert.Equal(t, slaveIdle, bus.state)
	assert.True(t, bus.sda())
	assert.True(t, bus.scl())
}

func TestMeasureAddressNACK(t *testing.T) {
	bus := newFakeBus(0x45)
	seq := transaction.NewSequencer(bus.link())

	_, err := seq.Measure(context.Background())
	require.Error(t, err)
	rec, ok := transaction.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, transaction.StepAddressWrite, rec.Step)
	assert.Equal(t, shtmon.StatusAddrWriteNACK, rec.Status)
	assert.True(t, bus.sda())
	assert.True(t, bus.scl())
}

func TestClockStretching(t *testing.T) {
	bus := newFakeBus(0x44, 0x66, 0x66, 0x93, 0x80, 0x00, 0xA2)
	bus.stretch = 25
	seq := transaction.NewSequencer(bus.link())

	reading, err := seq.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transaction.RawReading{Primary: 0x6666, Secondary: 0x8000}, reading)
	assert.Equal(t, 0, bus.hold)
}

func TestClockHeldLow(t *testing.T) {
	bus := newFakeBus(0x44, 0x66, 0x66, 0x93, 0x80, 0x00, 0xA2)
	bus.stretch = -1
	seq := transaction.NewSequencer(bus.link(), transaction.WithStepTimeout(10*time.Millisecond))

	_, err := seq.Measure(context.Background())
	require.Error(t, err)
	rec, ok := transaction.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, transaction.StepPrimaryHigh, rec.Step)
	assert.Equal(t, transaction.KindTimeout, rec.Kind)
	assert.ErrorIs(t, err, shtmon.ErrBusTimeout)
	// the link gives up the lines after the stop timed out
	assert.True(t, bus.masterSDA)
	assert.True(t, bus.masterSCL)
}

func TestStart(t *testing.T) {
	t.Run("first and repeated", func(t *testing.T) {
		bus := newFakeBus(0x44)
		l := bus.link()
		status, err := l.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, shtmon.StatusStart, status)
		assert.Equal(t, slaveRx, bus.state)

		status, err = l.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, shtmon.StatusRepeatedStart, status)
		assert.Equal(t, shtmon.StatusRepeatedStart, l.Status())

		require.NoError(t, l.Stop(context.Background()))
		assert.Equal(t, slaveIdle, bus.state)
		assert.Equal(t, shtmon.StatusNoInfo, l.Status())
	})
	t.Run("restart after stop", func(t *testing.T) {
		bus := newFakeBus(0x44)
		l := bus.link()
		_, err := l.Start(context.Background())
		require.NoError(t, err)
		status, err := l.Restart(context.Background())
		require.NoError(t, err)
		assert.Equal(t, shtmon.StatusStart, status)
	})
	t.Run("data line held", func(t *testing.T) {
		bus := newFakeBus(0x44)
		bus.busyData = true
		status, err := bus.link().Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, shtmon.StatusArbitrationLost, status)
	})
	t.Run("line error", func(t *testing.T) {
		bus := newFakeBus(0x44)
		bus.readErr = errors.New("gpio closed")
		status, err := bus.link().Start(context.Background())
		require.Error(t, err)
		assert.Equal(t, shtmon.StatusBusError, status)
		assert.Contains(t, err.Error(), "bitbang: scl: gpio closed")
	})
	t.Run("cancelled", func(t *testing.T) {
		bus := newFakeBus(0x44)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		status, err := bus.link().Start(ctx)
		assert.ErrorIs(t, err, shtmon.ErrBusTimeout)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, shtmon.StatusBusError, status)
	})
}

func TestTransmitWithoutStart(t *testing.T) {
	bus := newFakeBus(0x44)
	status, err := bus.link().Transmit(context.Background(), 0x88)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusBusError, status)
	assert.Empty(t, bus.headers)
}

func TestReceiveWithoutReadHeader(t *testing.T) {
	bus := newFakeBus(0x44)
	l := bus.link()
	_, err := l.Start(context.Background())
	require.NoError(t, err)
	status, err := l.Transmit(context.Background(), 0x88)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusAddrWriteACK, status)

	_, status, err = l.Receive(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusBusError, status)
}

func TestTransmitData(t *testing.T) {
	bus := newFakeBus(0x44)
	l := bus.link()
	_, err := l.Start(context.Background())
	require.NoError(t, err)
	_, err = l.Transmit(context.Background(), 0x88)
	require.NoError(t, err)
	status, err := l.Transmit(context.Background(), 0x24)
	require.NoError(t, err)
	assert.Equal(t, shtmon.StatusDataWriteACK, status)
	require.NoError(t, l.Stop(context.Background()))
	assert.Equal(t, [][]byte{{0x24}}, bus.written)
}
