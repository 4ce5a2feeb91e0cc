// Package sim provides an in-memory SHT3x sensor behind a byte-level bus
// link. It answers the measurement command like the real part does and can
// inject unexpected statuses, corrupt checksums or hang the bus, which makes
// it usable both in tests and as a hardware-free link for the CLI.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/checksum"
)

const DefaultAddress = 0x44

// ReadingFunc produces the raw temperature and humidity words of the next
// measurement.
type ReadingFunc func() (uint16, uint16)

type phase int

const (
	phaseIdle phase = iota
	phaseAddress
	phaseWrite
	phaseRead
	phaseIgnored
)

type Options struct {
	Address  byte
	Reading  ReadingFunc
	Faults   map[int]shtmon.Status
	Corrupt  map[int]bool
	StuckAt  int
	Commands map[uint16]bool
}

type Option func(*Options)

func WithAddress(address byte) Option {
	return func(o *Options) {
		o.Address = address
	}
}

// WithReading makes the device report fixed raw words.
func WithReading(temperature, humidity uint16) Option {
	return func(o *Options) {
		o.Reading = func() (uint16, uint16) { return temperature, humidity }
	}
}

func WithReadingFunc(fn ReadingFunc) Option {
	return func(o *Options) {
		o.Reading = fn
	}
}

// WithFault makes operation number op (1-based, stop conditions are not
// counted) report status instead of the regular outcome.
func WithFault(op int, status shtmon.Status) Option {
	return func(o *Options) {
		o.Faults[op] = status
	}
}

// WithCorruptChecksum flips the checksum byte of a word: 0 for the
// temperature word, 1 for the humidity word.
func WithCorruptChecksum(word int) Option {
	return func(o *Options) {
		o.Corrupt[word] = true
	}
}

// WithStuckBus makes operation number op block until its context is done.
func WithStuckBus(op int) Option {
	return func(o *Options) {
		o.StuckAt = op
	}
}

// Device is a simulated sensor and the controller talking to it.
type Device struct {
	mx      sync.Mutex
	config  Options
	status  shtmon.Status
	phase   phase
	started bool
	ops     int
	command []byte
	pending []byte
	log     []string
}

var _ shtmon.Link = &Device{}

func New(opts ...Option) *Device {
	config := Options{
		Address:  DefaultAddress,
		Reading:  func() (uint16, uint16) { return 0x6666, 0x8000 },
		Faults:   map[int]shtmon.Status{},
		Corrupt:  map[int]bool{},
		Commands: map[uint16]bool{0x2C06: true, 0x2C0D: true, 0x2C10: true, 0x2400: true, 0x240B: true, 0x2416: true},
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Device{config: config, status: shtmon.StatusNoInfo}
}

func (d *Device) Start(ctx context.Context) (shtmon.Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.record("start")
	if err := d.enter(ctx); err != nil {
		return d.status, err
	}
	status := shtmon.StatusStart
	if d.started {
		status = shtmon.StatusRepeatedStart
	}
	d.begin()
	return d.outcome(status), nil
}

func (d *Device) Restart(ctx context.Context) (shtmon.Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.record("restart")
	if err := d.enter(ctx); err != nil {
		return d.status, err
	}
	d.end()
	d.begin()
	return d.outcome(shtmon.StatusStart), nil
}

func (d *Device) Transmit(ctx context.Context, value byte) (shtmon.Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.record(fmt.Sprintf("transmit 0x%02x", value))
	if err := d.enter(ctx); err != nil {
		return d.status, err
	}
	switch d.phase {
	case phaseAddress:
		read := value&shtmon.DirRead != 0
		if value>>1 != d.config.Address {
			d.phase = phaseIgnored
			if read {
				return d.outcome(shtmon.StatusAddrReadNACK), nil
			}
			return d.outcome(shtmon.StatusAddrWriteNACK), nil
		}
		if !read {
			d.phase = phaseWrite
			d.command = d.command[:0]
			return d.outcome(shtmon.StatusAddrWriteACK), nil
		}
		// the sensor does not acknowledge a read header until a measurement is done
		if len(d.pending) == 0 {
			d.phase = phaseIgnored
			return d.outcome(shtmon.StatusAddrReadNACK), nil
		}
		d.phase = phaseRead
		return d.outcome(shtmon.StatusAddrReadACK), nil
	case phaseWrite:
		if len(d.command) >= 2 {
			return d.outcome(shtmon.StatusDataWriteNACK), nil
		}
		d.command = append(d.command, value)
		if len(d.command) == 2 && !d.config.Commands[uint16(d.command[0])<<8|uint16(d.command[1])] {
			d.command = d.command[:0]
			return d.outcome(shtmon.StatusDataWriteNACK), nil
		}
		return d.outcome(shtmon.StatusDataWriteACK), nil
	case phaseIdle:
		return d.outcome(shtmon.StatusBusError), nil
	}
	// not addressed, nobody drives the acknowledge bit
	return d.outcome(shtmon.StatusDataWriteNACK), nil
}

func (d *Device) Receive(ctx context.Context, more bool) (byte, shtmon.Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if more {
		d.record("receive ack")
	} else {
		d.record("receive nack")
	}
	if err := d.enter(ctx); err != nil {
		return 0, d.status, err
	}
	if d.phase != phaseRead {
		return 0xFF, d.outcome(shtmon.StatusBusError), nil
	}
	var value byte = 0xFF
	if len(d.pending) > 0 {
		value = d.pending[0]
		d.pending = d.pending[1:]
	}
	if !more {
		d.pending = nil
		d.phase = phaseIgnored
		return value, d.outcome(shtmon.StatusDataReadNACK), nil
	}
	return value, d.outcome(shtmon.StatusDataReadACK), nil
}

func (d *Device) Stop(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.record("stop")
	d.end()
	d.status = shtmon.StatusNoInfo
	return nil
}

func (d *Device) Status() shtmon.Status {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status
}

// Ops returns the log of bus operations issued so far.
func (d *Device) Ops() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.log...)
}

// Reset clears the operation log and counter.
func (d *Device) Reset() {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.log = nil
	d.ops = 0
}

func (d *Device) record(op string) {
	d.log = append(d.log, op)
	if op != "stop" {
		d.ops++
	}
}

// enter honours a stuck-bus request for the current operation.
func (d *Device) enter(ctx context.Context) error {
	if d.config.StuckAt == 0 || d.config.StuckAt != d.ops {
		if err := ctx.Err(); err != nil {
			return shtmon.Timeout("sim", err)
		}
		return nil
	}
	d.mx.Unlock()
	<-ctx.Done()
	d.mx.Lock()
	return shtmon.Timeout("sim", ctx.Err())
}

func (d *Device) outcome(status shtmon.Status) shtmon.Status {
	if fault, ok := d.config.Faults[d.ops]; ok {
		status = fault
	}
	d.status = status
	return status
}

func (d *Device) begin() {
	d.started = true
	d.phase = phaseAddress
}

// end closes the current frame. A complete command written during the frame
// latches a new measurement.
func (d *Device) end() {
	if d.phase == phaseWrite && len(d.command) == 2 {
		d.measure()
	}
	d.command = d.command[:0]
	d.started = false
	d.phase = phaseIdle
}

func (d *Device) measure() {
	t, h := d.config.Reading()
	d.pending = []byte{
		byte(t >> 8), byte(t), checksum.Sum(byte(t>>8), byte(t)),
		byte(h >> 8), byte(h), checksum.Sum(byte(h>>8), byte(h)),
	}
	if d.config.Corrupt[0] {
		d.pending[2] ^= 0x01
	}
	if d.config.Corrupt[1] {
		d.pending[5] ^= 0x01
	}
}
