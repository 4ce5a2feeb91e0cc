package display

import (
	"fmt"

	"github.com/mklimuk/shtmon/environment"
	"github.com/mklimuk/shtmon/transaction"
)

// Unit selects the temperature scale shown on the screen.
type Unit string

const (
	Fahrenheit Unit = "F"
	Celsius    Unit = "C"
)

// Screen lays out readings and failures on a Display.
type Screen struct {
	d     Display
	unit  Unit
	title string
}

func NewScreen(d Display, unit Unit) *Screen {
	if unit != Celsius {
		unit = Fahrenheit
	}
	return &Screen{d: d, unit: unit, title: " SHT3x "}
}

// SetTitle names the sensor model in the inverted header line.
func (s *Screen) SetTitle(model string) {
	s.title = " " + model + " "
}

// SelfTest shows the outcome of the power-on checksum check.
func (s *Screen) SelfTest(ok bool) {
	s.d.Clear()
	s.d.DrawText(0, 0, fmt.Sprint(ok), !ok)
}

func (s *Screen) ShowReading(r environment.Reading) {
	temp := r.Fahrenheit
	if s.unit == Celsius {
		temp = r.Celsius
	}
	s.d.Clear()
	s.d.DrawText(0, 0, s.title, true)
	s.d.DrawText(0, 2*LineHeight, fmt.Sprintf("T %7.2f %s", temp, s.unit), false)
	s.d.DrawText(0, 3*LineHeight, fmt.Sprintf("H %7.2f %%", r.Humidity), false)
}

// ShowFailure shows the failing step and the raw bus status code.
func (s *Screen) ShowFailure(rec transaction.FailureRecord) {
	s.d.Clear()
	s.d.DrawText(0, 0, s.title, true)
	s.d.DrawText(0, 2*LineHeight, fmt.Sprintf("ERR step %d", int(rec.Step)), true)
	s.d.DrawText(0, 3*LineHeight, fmt.Sprintf("st 0x%02X", byte(rec.Status)), false)
	s.d.DrawText(0, 4*LineHeight, rec.Kind.String(), false)
}

// Flusher is implemented by displays that buffer a frame.
type Flusher interface {
	Flush() error
}

// Flush pushes the frame out when the display buffers it.
func (s *Screen) Flush() error {
	if f, ok := s.d.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
