// Package bitbang implements a two-wire bus controller on two open-drain
// GPIO lines.
//
// Status codes follow the two-wire interface status register so the
// sequencer sees the same values it would on a hardware controller. Clock
// stretching is honoured: releasing SCL waits until the line actually goes
// high, bounded by the operation's context.
package bitbang

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/mklimuk/shtmon"
)

// Line is one open-drain bus line with an external pull-up.
type Line interface {
	// Low drives the line low.
	Low() error
	// Release stops driving the line so the pull-up can take it high.
	Release() error
	// Read returns true when the line is high.
	Read() (bool, error)
}

// DefaultHalfPeriod gives roughly 100 kHz on the wire, less on slow GPIO.
const DefaultHalfPeriod = 5 * time.Microsecond

type Options struct {
	HalfPeriod time.Duration
	Logger     *slog.Logger
}

type Option func(*Options)

func WithHalfPeriod(d time.Duration) Option {
	return func(o *Options) {
		o.HalfPeriod = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

type Link struct {
	mx      sync.Mutex
	sda     Line
	scl     Line
	config  Options
	status  shtmon.Status
	started bool
	// address is set until the first byte after a start has been sent
	address bool
	reading bool
	// err holds the first line error of the running operation; once set
	// the remaining line accesses of that operation are skipped
	err error
}

var _ shtmon.Link = &Link{}

func New(sda, scl Line, opts ...Option) *Link {
	config := Options{
		HalfPeriod: DefaultHalfPeriod,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Link{sda: sda, scl: scl, config: config, status: shtmon.StatusNoInfo}
}

func (l *Link) Start(ctx context.Context) (shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if !l.begin(ctx) {
		return l.finish(shtmon.StatusBusError)
	}
	return l.finish(l.start(ctx))
}

func (l *Link) Restart(ctx context.Context) (shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if !l.begin(ctx) {
		return l.finish(shtmon.StatusBusError)
	}
	l.stop(ctx)
	if l.err != nil {
		return l.finish(shtmon.StatusBusError)
	}
	return l.finish(l.start(ctx))
}

func (l *Link) Transmit(ctx context.Context, value byte) (shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if !l.begin(ctx) {
		return l.finish(shtmon.StatusBusError)
	}
	if !l.started {
		return l.finish(shtmon.StatusBusError)
	}
	for i := 7; i >= 0; i-- {
		if !l.writeBit(ctx, value>>i&0x01 == 1) {
			l.started = false
			return l.finish(shtmon.StatusArbitrationLost)
		}
	}
	ack := !l.readBit(ctx)
	if l.address {
		l.address = false
		l.reading = value&shtmon.DirRead != 0
		switch {
		case l.reading && ack:
			return l.finish(shtmon.StatusAddrReadACK)
		case l.reading:
			return l.finish(shtmon.StatusAddrReadNACK)
		case ack:
			return l.finish(shtmon.StatusAddrWriteACK)
		}
		return l.finish(shtmon.StatusAddrWriteNACK)
	}
	if ack {
		return l.finish(shtmon.StatusDataWriteACK)
	}
	return l.finish(shtmon.StatusDataWriteNACK)
}

func (l *Link) Receive(ctx context.Context, more bool) (byte, shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if !l.begin(ctx) {
		status, err := l.finish(shtmon.StatusBusError)
		return 0, status, err
	}
	if !l.started || !l.reading {
		status, err := l.finish(shtmon.StatusBusError)
		return 0xFF, status, err
	}
	var value byte
	for range 8 {
		value <<= 1
		if l.readBit(ctx) {
			value |= 0x01
		}
	}
	// acknowledge by pulling SDA low, leave it high to end the transfer
	l.writeBit(ctx, !more)
	status := shtmon.StatusDataReadNACK
	if more {
		status = shtmon.StatusDataReadACK
	}
	status, err := l.finish(status)
	return value, status, err
}

// Stop issues a stop condition. The lines are released even when the clock
// is held low past the context deadline.
func (l *Link) Stop(ctx context.Context) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.begin(ctx)
	l.err = nil
	l.stop(ctx)
	if l.err != nil {
		_ = l.sda.Release()
		_ = l.scl.Release()
	}
	_, err := l.finish(shtmon.StatusNoInfo)
	return err
}

func (l *Link) Status() shtmon.Status {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.status
}

func (l *Link) start(ctx context.Context) shtmon.Status {
	repeated := l.started
	l.set(l.sda, true)
	l.delay()
	l.clockHigh(ctx)
	if !l.get(l.sda) {
		// somebody else holds the data line
		return shtmon.StatusArbitrationLost
	}
	l.set(l.sda, false)
	l.delay()
	l.set(l.scl, false)
	l.delay()
	l.started = true
	l.address = true
	l.reading = false
	if repeated {
		return shtmon.StatusRepeatedStart
	}
	return shtmon.StatusStart
}

func (l *Link) stop(ctx context.Context) {
	l.set(l.scl, false)
	l.set(l.sda, false)
	l.delay()
	l.clockHigh(ctx)
	l.delay()
	l.set(l.sda, true)
	l.delay()
	l.started = false
	l.address = false
	l.reading = false
}

// writeBit clocks out one bit and reports false when a released bit was
// overridden by another driver (lost arbitration).
func (l *Link) writeBit(ctx context.Context, bit bool) bool {
	l.set(l.sda, bit)
	l.delay()
	l.clockHigh(ctx)
	won := !bit || l.get(l.sda)
	l.delay()
	l.set(l.scl, false)
	return won
}

func (l *Link) readBit(ctx context.Context) bool {
	l.set(l.sda, true)
	l.delay()
	l.clockHigh(ctx)
	bit := l.get(l.sda)
	l.delay()
	l.set(l.scl, false)
	return bit
}

// clockHigh releases SCL and waits while a device stretches the clock.
func (l *Link) clockHigh(ctx context.Context) {
	l.set(l.scl, true)
	for !l.get(l.scl) {
		if err := ctx.Err(); err != nil {
			l.err = shtmon.Timeout("bitbang: clock stretching", err)
			return
		}
		if l.config.HalfPeriod > 0 {
			time.Sleep(l.config.HalfPeriod)
		} else {
			runtime.Gosched()
		}
	}
}

func (l *Link) set(line Line, high bool) {
	if l.err != nil {
		return
	}
	var err error
	if high {
		err = line.Release()
	} else {
		err = line.Low()
	}
	if err != nil {
		l.err = fmt.Errorf("bitbang: %s: %w", l.name(line), err)
	}
}

// get reads a line; after an error it reports high so wait loops end.
func (l *Link) get(line Line) bool {
	if l.err != nil {
		return true
	}
	high, err := line.Read()
	if err != nil {
		l.err = fmt.Errorf("bitbang: %s: %w", l.name(line), err)
		return true
	}
	return high
}

func (l *Link) name(line Line) string {
	if line == l.sda {
		return "sda"
	}
	return "scl"
}

func (l *Link) delay() {
	if l.config.HalfPeriod > 0 {
		time.Sleep(l.config.HalfPeriod)
	}
}

func (l *Link) begin(ctx context.Context) bool {
	l.err = nil
	if err := ctx.Err(); err != nil {
		l.err = shtmon.Timeout("bitbang", err)
		return false
	}
	return true
}

func (l *Link) finish(status shtmon.Status) (shtmon.Status, error) {
	err := l.err
	l.err = nil
	if err != nil {
		status = shtmon.StatusBusError
		l.config.Logger.Debug("bus operation failed", "error", err)
	}
	l.status = status
	return status, err
}
