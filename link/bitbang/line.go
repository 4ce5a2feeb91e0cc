package bitbang

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphLine drives a periph.io pin as an open-drain line: low is an output
// at gpio.Low, release turns the pin into a pulled-up input.
type PeriphLine struct {
	pin gpio.PinIO
}

func NewPeriphLine(pin gpio.PinIO) *PeriphLine {
	return &PeriphLine{pin: pin}
}

func (p *PeriphLine) Low() error {
	return p.pin.Out(gpio.Low)
}

func (p *PeriphLine) Release() error {
	return p.pin.In(gpio.PullUp, gpio.NoEdge)
}

func (p *PeriphLine) Read() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

// OpenPeriph initialises the host drivers and returns a link on the named
// pins (for example "GPIO12" and "GPIO11").
func OpenPeriph(sda, scl string, opts ...Option) (*Link, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	sdaPin := gpioreg.ByName(sda)
	if sdaPin == nil {
		return nil, fmt.Errorf("bitbang: unknown sda pin %q", sda)
	}
	sclPin := gpioreg.ByName(scl)
	if sclPin == nil {
		return nil, fmt.Errorf("bitbang: unknown scl pin %q", scl)
	}
	l := New(NewPeriphLine(sdaPin), NewPeriphLine(sclPin), opts...)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// idle bus: both lines released
	if err := l.Stop(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// DigitalPins is the digital pin part of a gobot platform adaptor, for
// example nanopi.NewNeoAdaptor(). Reading a pin turns it into an input.
type DigitalPins interface {
	DigitalRead(pin string) (int, error)
	DigitalWrite(pin string, level byte) error
}

// GobotLine drives one header pin of a gobot adaptor as an open-drain line.
type GobotLine struct {
	pins DigitalPins
	pin  string
}

func NewGobotLine(pins DigitalPins, pin string) *GobotLine {
	return &GobotLine{pins: pins, pin: pin}
}

func (g *GobotLine) Low() error {
	return g.pins.DigitalWrite(g.pin, 0)
}

func (g *GobotLine) Release() error {
	_, err := g.pins.DigitalRead(g.pin)
	return err
}

func (g *GobotLine) Read() (bool, error) {
	level, err := g.pins.DigitalRead(g.pin)
	if err != nil {
		return false, err
	}
	return level != 0, nil
}
