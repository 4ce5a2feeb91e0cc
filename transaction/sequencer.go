// Package transaction drives the single-shot measurement exchange of an
// SHT3x sensor over a byte-level bus link.
//
// One call to Sequencer.Measure performs, in order: start, address+W, the two
// command bytes, restart, address+R and six reads (two words each followed by
// its checksum). The first step that does not observe its expected status
// aborts the exchange; the bus is always released with a stop condition.
package transaction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/checksum"
)

// DefaultAddress is the 7-bit address of an SHT3x with ADDR tied low.
const DefaultAddress = 0x44

// CmdMeasureHighRepeatability triggers a single-shot, high repeatability
// measurement with clock stretching enabled.
const CmdMeasureHighRepeatability uint16 = 0x2C06

const DefaultStepTimeout = 100 * time.Millisecond

const stopTimeout = 50 * time.Millisecond

// RawReading holds the two unconverted words of a successful exchange.
type RawReading struct {
	Primary   uint16 `json:"primary" yaml:"primary"`
	Secondary uint16 `json:"secondary" yaml:"secondary"`
}

type Options struct {
	Address     byte
	Command     uint16
	StepTimeout time.Duration
	Logger      *slog.Logger
}

type Option func(*Options)

func WithAddress(address byte) Option {
	return func(o *Options) {
		o.Address = address
	}
}

func WithCommand(cmd uint16) Option {
	return func(o *Options) {
		o.Command = cmd
	}
}

// WithStepTimeout bounds every bus primitive. Zero disables the bound and
// leaves only the caller's context.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.StepTimeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Sequencer runs measurement exchanges on a Link. It is safe for concurrent
// use; exchanges are serialised.
type Sequencer struct {
	mx     sync.Mutex
	link   shtmon.Link
	config Options
}

func NewSequencer(link shtmon.Link, opts ...Option) *Sequencer {
	config := Options{
		Address:     DefaultAddress,
		Command:     CmdMeasureHighRepeatability,
		StepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Sequencer{link: link, config: config}
}

// Measure performs one exchange. On success it returns the two words read
// from the device, both checksum-validated. Otherwise the error is a
// *Failure naming the step that failed and the status it observed.
func (s *Sequencer) Measure(ctx context.Context) (RawReading, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	var payload [6]byte
	err := s.exchange(ctx, payload[:])
	// links reset their status on stop
	var last shtmon.Status
	if err == nil {
		last = s.link.Status()
	}
	s.stop(ctx)
	if err != nil {
		s.config.Logger.Debug("measurement failed", "error", err)
		return RawReading{}, err
	}
	if !checksum.Validate(payload[0], payload[1], payload[2]) {
		return RawReading{}, checksumFailure(StepPrimaryChecksum, last)
	}
	if !checksum.Validate(payload[3], payload[4], payload[5]) {
		return RawReading{}, checksumFailure(StepSecondaryChecksum, last)
	}
	reading := RawReading{
		Primary:   uint16(payload[0])<<8 | uint16(payload[1]),
		Secondary: uint16(payload[3])<<8 | uint16(payload[4]),
	}
	s.config.Logger.Debug("measurement done", "primary", reading.Primary, "secondary", reading.Secondary)
	return reading, nil
}

func (s *Sequencer) exchange(ctx context.Context, payload []byte) error {
	err := s.condition(ctx, StepStart, s.link.Start)
	if err != nil {
		return err
	}
	err = s.transmit(ctx, StepAddressWrite, shtmon.AddressByte(s.config.Address, shtmon.DirWrite))
	if err != nil {
		return err
	}
	err = s.transmit(ctx, StepCommandHigh, byte(s.config.Command>>8))
	if err != nil {
		return err
	}
	err = s.transmit(ctx, StepCommandLow, byte(s.config.Command))
	if err != nil {
		return err
	}
	err = s.condition(ctx, StepRestart, s.link.Restart)
	if err != nil {
		return err
	}
	err = s.transmit(ctx, StepAddressRead, shtmon.AddressByte(s.config.Address, shtmon.DirRead))
	if err != nil {
		return err
	}
	for i := range payload {
		step := StepPrimaryHigh + Step(i)
		// the last byte is not acknowledged which ends the read phase
		payload[i], err = s.receive(ctx, step, step != StepSecondaryChecksum)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) condition(ctx context.Context, step Step, op func(context.Context) (shtmon.Status, error)) error {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	status, err := op(stepCtx)
	return s.check(step, status, err)
}

func (s *Sequencer) transmit(ctx context.Context, step Step, value byte) error {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	status, err := s.link.Transmit(stepCtx, value)
	return s.check(step, status, err)
}

func (s *Sequencer) receive(ctx context.Context, step Step, more bool) (byte, error) {
	stepCtx, cancel := s.stepContext(ctx)
	defer cancel()
	value, status, err := s.link.Receive(stepCtx, more)
	return value, s.check(step, status, err)
}

func (s *Sequencer) check(step Step, status shtmon.Status, err error) error {
	if err != nil {
		return linkFailure(step, status, err)
	}
	if !step.Accepts(status) {
		return statusFailure(step, status)
	}
	return nil
}

// stop releases the bus even when ctx has already been cancelled.
func (s *Sequencer) stop(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := s.link.Stop(stopCtx); err != nil {
		s.config.Logger.Warn("could not release bus", "error", err)
	}
}

func (s *Sequencer) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.StepTimeout)
}

func checksumFailure(step Step, status shtmon.Status) *Failure {
	return &Failure{FailureRecord: FailureRecord{Step: step, Status: status, Kind: KindChecksum}}
}
