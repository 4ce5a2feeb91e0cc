// Package monitor runs the measurement loop: one exchange per tick, the
// outcome recorded, rendered and published. A failed exchange never stops
// the loop; the next tick simply tries again.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mklimuk/shtmon/display"
	"github.com/mklimuk/shtmon/environment"
	"github.com/mklimuk/shtmon/publish"
	"github.com/mklimuk/shtmon/transaction"
)

const DefaultInterval = time.Second

// Publisher receives every sample; *publish.MQTT implements it.
type Publisher interface {
	Publish(ctx context.Context, s publish.Sample) error
}

type Options struct {
	Interval  time.Duration
	Screen    *display.Screen
	Publisher Publisher
	State     *transaction.ErrorState
	Logger    *slog.Logger
}

type Option func(*Options)

func WithInterval(d time.Duration) Option {
	return func(o *Options) {
		o.Interval = d
	}
}

func WithScreen(s *display.Screen) Option {
	return func(o *Options) {
		o.Screen = s
	}
}

func WithPublisher(p Publisher) Option {
	return func(o *Options) {
		o.Publisher = p
	}
}

// WithErrorState shares the failure slot with another reader, e.g. the shell.
func WithErrorState(state *transaction.ErrorState) Option {
	return func(o *Options) {
		o.State = state
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

type Monitor struct {
	sensor environment.Measurer
	config Options
}

func New(sensor environment.Measurer, opts ...Option) (*Monitor, error) {
	config := Options{
		Interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if sensor == nil {
		return nil, errors.New("monitor: sensor required")
	}
	if config.Interval <= 0 {
		return nil, errors.New("monitor: interval must be > 0")
	}
	if config.State == nil {
		config.State = &transaction.ErrorState{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Monitor{sensor: sensor, config: config}, nil
}

// State returns the slot holding the latest failure.
func (m *Monitor) State() *transaction.ErrorState {
	return m.config.State
}

// PollOnce performs exactly one measurement cycle.
func (m *Monitor) PollOnce(ctx context.Context) publish.Sample {
	sample := publish.Sample{Time: time.Now()}
	raw, err := m.sensor.Measure(ctx)
	if err != nil {
		sample.Error = err.Error()
		if m.config.State.Record(err) {
			rec, _ := transaction.AsFailure(err)
			sample.Failure = &rec
		}
		m.config.Logger.Warn("measurement failed", "error", err)
	} else {
		reading := environment.Convert(raw)
		sample.Reading = &reading
		m.config.Logger.Debug("measurement", "fahrenheit", reading.Fahrenheit, "humidity", reading.Humidity)
	}
	m.render(sample)
	if m.config.Publisher != nil {
		if err := m.config.Publisher.Publish(ctx, sample); err != nil {
			m.config.Logger.Error("could not publish sample", "error", err)
		}
	}
	return sample
}

// Run polls right away and then on every interval until ctx is done. Samples
// are sent to out when it is not nil.
func (m *Monitor) Run(ctx context.Context, out chan<- publish.Sample) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		sample := m.PollOnce(ctx)
		if out != nil {
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) render(s publish.Sample) {
	screen := m.config.Screen
	if screen == nil {
		return
	}
	switch {
	case s.Reading != nil:
		screen.ShowReading(*s.Reading)
	case s.Failure != nil:
		screen.ShowFailure(*s.Failure)
	}
	if err := screen.Flush(); err != nil {
		m.config.Logger.Warn("could not refresh display", "error", err)
	}
}
