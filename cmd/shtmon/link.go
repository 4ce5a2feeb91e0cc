package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/adapter"
	"github.com/mklimuk/shtmon/config"
	"github.com/mklimuk/shtmon/environment"
	"github.com/mklimuk/shtmon/i2c"
	"github.com/mklimuk/shtmon/link/bitbang"
	"github.com/mklimuk/shtmon/link/buffered"
	"github.com/mklimuk/shtmon/link/sim"
	"github.com/mklimuk/shtmon/transaction"
)

// bridgeOptions configure every MCP2221 opened by the cli.
var bridgeOptions []adapter.Option

// session owns an open link and whatever has to be released with it. bus is
// the message-level bus behind link and stays nil for byte-level links.
type session struct {
	link    shtmon.Link
	bus     shtmon.I2CBus
	closers []func() error
}

func (s *session) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	return err
}

// sensor returns the measurer for the configured sensor model.
func (s *session) sensor(cfg config.SensorConfig) (environment.Measurer, error) {
	switch cfg.Kind {
	case config.SensorSHTC3:
		if s.bus == nil {
			return nil, fmt.Errorf("shtc3 needs a message-level bus")
		}
		return environment.NewSHTC3(s.bus), nil
	case config.SensorSHT3x, "":
		return s.sequencer(cfg), nil
	}
	return nil, fmt.Errorf("unknown sensor kind %q", cfg.Kind)
}

// sequencer builds the SHT3x measurement exchange.
func (s *session) sequencer(cfg config.SensorConfig) *transaction.Sequencer {
	return transaction.NewSequencer(s.link,
		transaction.WithAddress(cfg.Address),
		transaction.WithCommand(cfg.Command),
		transaction.WithStepTimeout(cfg.StepTimeout),
	)
}

func openLink(ctx context.Context, cfg config.Config) (*session, error) {
	l := cfg.Link
	s := &session{}
	switch l.Kind {
	case config.LinkSim:
		s.link = sim.New(sim.WithAddress(cfg.Sensor.Address), sim.WithReadingFunc(drift()))
	case config.LinkBitbang:
		link, closer, err := openBitbang(l)
		if err != nil {
			return nil, err
		}
		s.link = link
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
	case config.LinkI2C:
		bus, err := i2c.NewGenericBus(l.Device)
		if err != nil {
			return nil, fmt.Errorf("could not open i2c bus: %w", err)
		}
		s.closers = append(s.closers, bus.Close)
		if l.SpeedHz > 0 {
			if err := bus.SetSpeed(physic.Frequency(l.SpeedHz) * physic.Hertz); err != nil {
				return nil, multierr.Append(fmt.Errorf("could not set bus speed: %w", err), s.Close())
			}
		}
		s.bus = bus
		s.link = buffered.New(bus)
	case config.LinkMCP2221:
		bridge := adapter.NewMCP2221(bridgeOptions...)
		s.closers = append(s.closers, func() error { return bridge.Release(context.Background()) })
		if l.SpeedHz > 0 {
			if err := bridge.SetSpeed(ctx, l.SpeedHz); err != nil {
				return nil, multierr.Append(fmt.Errorf("could not set bridge speed: %w", err), s.Close())
			}
		}
		s.bus = bridge
		s.link = buffered.New(bridge)
	default:
		return nil, fmt.Errorf("unknown link kind %q", l.Kind)
	}
	slog.Debug("link open", "kind", l.Kind)
	return s, nil
}

func openBitbang(l config.LinkConfig) (shtmon.Link, func() error, error) {
	opts := []bitbang.Option{bitbang.WithHalfPeriod(l.HalfPeriod)}
	if l.Pins == config.PinsPeriph {
		link, err := bitbang.OpenPeriph(l.SDA, l.SCL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open gpio lines: %w", err)
		}
		return link, nil, nil
	}
	board := nanopi.NewNeoAdaptor()
	if err := board.Connect(); err != nil {
		return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	link := bitbang.New(bitbang.NewGobotLine(board, l.SDA), bitbang.NewGobotLine(board, l.SCL), opts...)
	return link, board.Finalize, nil
}

// drift makes the simulated sensor wander around 25 C and 40 %RH.
func drift() sim.ReadingFunc {
	t, h := uint16(0x6666), uint16(0x6666)
	return func() (uint16, uint16) {
		t += uint16(rand.IntN(9)) - 4
		h += uint16(rand.IntN(9)) - 4
		return t, h
	}
}
