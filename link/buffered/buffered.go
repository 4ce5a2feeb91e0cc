// Package buffered adapts a message-level bus (a USB bridge, a kernel i2c-dev
// bus) to the byte-level Link.
//
// Such buses cannot clock single bytes, so written bytes are collected and
// sent as one transfer once the write length is reached (or at the next
// restart or stop), and the read transfer of the whole read length happens
// when the read header is transmitted. Statuses are derived from the
// transfer outcome:
//
//	nil              -> ack
//	ErrAddressNACK   -> SLA+R nack, or data sent nack for a flushed write
//	ErrDataNACK      -> data sent nack
//	ErrBusBusy       -> arbitration lost
//	anything else    -> bus error, with the error returned
package buffered

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mklimuk/shtmon"
)

// Defaults match the SHT3x measurement exchange: a two byte command and two
// words with their checksums.
const (
	DefaultWriteLength = 2
	DefaultReadLength  = 6
)

type Options struct {
	WriteLength int
	ReadLength  int
	Logger      *slog.Logger
}

type Option func(*Options)

// WithWriteLength sets the number of data bytes after which a write transfer
// is sent. Zero defers every write to the next restart or stop.
func WithWriteLength(n int) Option {
	return func(o *Options) {
		o.WriteLength = n
	}
}

func WithReadLength(n int) Option {
	return func(o *Options) {
		o.ReadLength = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

type Link struct {
	mx      sync.Mutex
	bus     shtmon.I2CBus
	config  Options
	status  shtmon.Status
	started bool
	header  bool
	writing bool
	reading bool
	aborted bool
	address byte
	out     []byte
	in      []byte
	pos     int
}

var _ shtmon.Link = &Link{}

func New(bus shtmon.I2CBus, opts ...Option) *Link {
	config := Options{
		WriteLength: DefaultWriteLength,
		ReadLength:  DefaultReadLength,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Link{
		bus:    bus,
		config: config,
		status: shtmon.StatusNoInfo,
		in:     make([]byte, config.ReadLength),
	}
}

func (l *Link) Start(ctx context.Context) (shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return l.fail(shtmon.Timeout("buffered", err))
	}
	status := shtmon.StatusStart
	if l.started {
		if s, err := l.flush(ctx); err != nil || s != shtmon.StatusDataWriteACK {
			return l.result(s, err)
		}
		status = shtmon.StatusRepeatedStart
	}
	l.begin()
	return l.result(status, nil)
}

func (l *Link) Restart(ctx context.Context) (shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return l.fail(shtmon.Timeout("buffered", err))
	}
	if s, err := l.flush(ctx); err != nil || s != shtmon.StatusDataWriteACK {
		return l.result(s, err)
	}
	l.begin()
	return l.result(shtmon.StatusStart, nil)
}

func (l *Link) Transmit(ctx context.Context, value byte) (shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return l.fail(shtmon.Timeout("buffered", err))
	}
	if !l.started {
		return l.result(shtmon.StatusBusError, nil)
	}
	if l.header {
		l.header = false
		l.address = value >> 1
		if value&shtmon.DirRead == 0 {
			l.writing = true
			l.out = l.out[:0]
			return l.result(shtmon.StatusAddrWriteACK, nil)
		}
		return l.readTransfer(ctx)
	}
	if !l.writing {
		return l.result(shtmon.StatusBusError, nil)
	}
	l.out = append(l.out, value)
	if l.config.WriteLength > 0 && len(l.out) >= l.config.WriteLength {
		return l.result(l.flush(ctx))
	}
	return l.result(shtmon.StatusDataWriteACK, nil)
}

func (l *Link) Receive(ctx context.Context, more bool) (byte, shtmon.Status, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := ctx.Err(); err != nil {
		status, err := l.fail(shtmon.Timeout("buffered", err))
		return 0, status, err
	}
	if !l.reading || l.pos >= len(l.in) {
		status, err := l.result(shtmon.StatusBusError, nil)
		return 0xFF, status, err
	}
	value := l.in[l.pos]
	l.pos++
	if !more {
		l.reading = false
		status, err := l.result(shtmon.StatusDataReadNACK, nil)
		return value, status, err
	}
	status, err := l.result(shtmon.StatusDataReadACK, nil)
	return value, status, err
}

// Stop sends any pending write. When the frame did not complete, the bus is
// released so the bridge abandons a half-done transfer.
func (l *Link) Stop(ctx context.Context) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	var errs []error
	status, err := l.flush(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if status != shtmon.StatusDataWriteACK {
		l.aborted = true
	}
	if l.aborted || l.reading {
		l.config.Logger.Debug("releasing bus after incomplete transfer", "address", l.address)
		if err := l.bus.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	l.started = false
	l.header = false
	l.writing = false
	l.reading = false
	l.aborted = false
	l.status = shtmon.StatusNoInfo
	return errors.Join(errs...)
}

func (l *Link) Status() shtmon.Status {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.status
}

func (l *Link) begin() {
	l.started = true
	l.header = true
	l.writing = false
	l.reading = false
	l.out = l.out[:0]
}

func (l *Link) readTransfer(ctx context.Context) (shtmon.Status, error) {
	err := l.bus.ReadFromAddr(ctx, l.address, l.in)
	switch {
	case err == nil:
		l.reading = true
		l.pos = 0
		return l.result(shtmon.StatusAddrReadACK, nil)
	case errors.Is(err, shtmon.ErrAddressNACK):
		return l.result(shtmon.StatusAddrReadNACK, nil)
	case errors.Is(err, shtmon.ErrBusBusy):
		return l.result(shtmon.StatusArbitrationLost, nil)
	}
	return l.fail(l.wrap(ctx, err))
}

// flush sends the collected write bytes. Without pending bytes it reports a
// data ack.
func (l *Link) flush(ctx context.Context) (shtmon.Status, error) {
	if !l.writing || len(l.out) == 0 {
		return shtmon.StatusDataWriteACK, nil
	}
	err := l.bus.WriteToAddr(ctx, l.address, l.out)
	l.out = l.out[:0]
	switch {
	case err == nil:
		return shtmon.StatusDataWriteACK, nil
	case errors.Is(err, shtmon.ErrAddressNACK), errors.Is(err, shtmon.ErrDataNACK):
		l.writing = false
		return shtmon.StatusDataWriteNACK, nil
	case errors.Is(err, shtmon.ErrBusBusy):
		l.writing = false
		return shtmon.StatusArbitrationLost, nil
	}
	l.writing = false
	return shtmon.StatusBusError, l.wrap(ctx, err)
}

func (l *Link) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, shtmon.ErrBusTimeout) {
		return shtmon.Timeout("buffered", err)
	}
	return err
}

func (l *Link) fail(err error) (shtmon.Status, error) {
	return l.result(shtmon.StatusBusError, err)
}

func (l *Link) result(status shtmon.Status, err error) (shtmon.Status, error) {
	switch {
	case err != nil:
		status = shtmon.StatusBusError
		l.aborted = true
	case status.IsNACK(), status == shtmon.StatusBusError, status == shtmon.StatusArbitrationLost:
		l.aborted = true
	}
	l.status = status
	return status, err
}
