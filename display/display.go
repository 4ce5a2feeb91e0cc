// Package display renders readings and diagnostics on a small text display.
//
// The Display capability mirrors an 84x48 pixel LCD driven with a 6x8 font:
// text is placed at pixel coordinates and snapped to 14 columns by 6 rows.
package display

import (
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/muesli/termenv"
)

// Display is the drawing capability the monitor needs.
type Display interface {
	Clear()
	DrawText(x, y int, text string, invert bool)
}

const (
	Width      = 84
	Height     = 48
	CharWidth  = 6
	LineHeight = 8
	Columns    = Width / CharWidth
	Rows       = Height / LineHeight
)

type cell struct {
	r      rune
	invert bool
}

type Options struct {
	Color bool
	Clear bool
}

type Option func(*Options)

// WithColor renders inverted cells in reverse video.
func WithColor(enabled bool) Option {
	return func(o *Options) {
		o.Color = enabled
	}
}

// WithClearScreen clears the terminal before every frame.
func WithClearScreen(enabled bool) Option {
	return func(o *Options) {
		o.Clear = enabled
	}
}

// Terminal is a character framebuffer written to a terminal on Flush.
type Terminal struct {
	mx      sync.Mutex
	out     *termenv.Output
	config  Options
	reverse *color.Color
	cells   [Rows][Columns]cell
}

var _ Display = &Terminal{}

func NewTerminal(w io.Writer, opts ...Option) *Terminal {
	config := Options{}
	for _, opt := range opts {
		opt(&config)
	}
	reverse := color.New(color.ReverseVideo)
	if config.Color {
		reverse.EnableColor()
	} else {
		reverse.DisableColor()
	}
	t := &Terminal{
		out:     termenv.NewOutput(w),
		config:  config,
		reverse: reverse,
	}
	t.Clear()
	return t
}

func (t *Terminal) Clear() {
	t.mx.Lock()
	defer t.mx.Unlock()
	for row := range t.cells {
		for col := range t.cells[row] {
			t.cells[row][col] = cell{r: ' '}
		}
	}
}

// DrawText places text with its top-left corner at pixel (x, y). Text past
// the right edge is clipped.
func (t *Terminal) DrawText(x, y int, text string, invert bool) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if x < 0 || y < 0 {
		return
	}
	row, col := y/LineHeight, x/CharWidth
	if row >= Rows {
		return
	}
	for _, r := range text {
		if col >= Columns {
			return
		}
		t.cells[row][col] = cell{r: r, invert: invert}
		col++
	}
}

// Lines returns the plain text content, one string per row.
func (t *Terminal) Lines() []string {
	t.mx.Lock()
	defer t.mx.Unlock()
	lines := make([]string, Rows)
	for row := range t.cells {
		var b strings.Builder
		for _, c := range t.cells[row] {
			b.WriteRune(c.r)
		}
		lines[row] = b.String()
	}
	return lines
}

// Inverted reports whether the cell at column col, row row is inverted.
func (t *Terminal) Inverted(col, row int) bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	if row < 0 || row >= Rows || col < 0 || col >= Columns {
		return false
	}
	return t.cells[row][col].invert
}

// Flush writes the frame inside a border.
func (t *Terminal) Flush() error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.config.Clear {
		t.out.ClearScreen()
		t.out.MoveCursor(1, 1)
	}
	var b strings.Builder
	border := "+" + strings.Repeat("-", Columns) + "+\n"
	b.WriteString(border)
	for row := range t.cells {
		b.WriteString("|")
		t.writeRow(&b, row)
		b.WriteString("|\n")
	}
	b.WriteString(border)
	_, err := io.WriteString(t.out, b.String())
	return err
}

func (t *Terminal) writeRow(b *strings.Builder, row int) {
	var run strings.Builder
	inverted := false
	emit := func() {
		if run.Len() == 0 {
			return
		}
		if inverted {
			b.WriteString(t.reverse.Sprint(run.String()))
		} else {
			b.WriteString(run.String())
		}
		run.Reset()
	}
	for _, c := range t.cells[row] {
		if c.invert != inverted {
			emit()
			inverted = c.invert
		}
		run.WriteRune(c.r)
	}
	emit()
}
