package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/busctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// clockHz is the MCP2221 system clock the I2C divider is derived from.
const clockHz = 12000000

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// I2C engine states reported in byte 8 of the status response (byte 2 of the
// get-data response).
const (
	stateIdle            byte = 0x00
	stateStartTimeout    byte = 0x12
	stateRepStartTimeout byte = 0x17
	stateAddrTimeout     byte = 0x23
	stateAddrNACK        byte = 0x25
	statePartialData     byte = 0x41
	stateWriteTimeout    byte = 0x44
	stateReadTimeout     byte = 0x52
	stateStopTimeout     byte = 0x62
	stateReadError       byte = 0x7F
)

func stateTimeout(state byte) bool {
	switch state {
	case stateStartTimeout, stateRepStartTimeout, stateAddrTimeout, stateWriteTimeout, stateReadTimeout, stateStopTimeout:
		return true
	}
	return false
}

// HIDDevice is an opened HID interface of the bridge.
type HIDDevice interface {
	io.ReadWriteCloser
}

// Opener returns a freshly opened bridge. Every command opens and closes
// the device.
type Opener func() (HIDDevice, error)

type Options struct {
	Open         Opener
	ResponseWait time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

type Option func(*Options)

// WithDeviceIndex selects one of several connected bridges.
func WithDeviceIndex(index int) Option {
	return func(o *Options) {
		o.Open = hidOpener(index)
	}
}

func WithOpener(open Opener) Option {
	return func(o *Options) {
		o.Open = open
	}
}

func WithResponseWait(d time.Duration) Option {
	return func(o *Options) {
		o.ResponseWait = d
	}
}

// WithPollInterval sets the pause between engine state queries while a
// transfer is in progress.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// MCP2221 is a USB to I2C bridge used as a message-level shtmon.I2CBus.
type MCP2221 struct {
	mx       sync.Mutex
	request  []byte
	response []byte
	config   Options
}

var _ shtmon.I2CBus = &MCP2221{}

type MCP2221Status struct {
	I2CState               int
	I2CDataBufferCounter   int
	I2CSpeedDivider        int
	I2CTimeout             int
	CurrentAddress         string
	LastWriteRequestedSize uint16
	LastWriteSentSize      uint16
	ReadPending            int
}

func NewMCP2221(opts ...Option) *MCP2221 {
	config := Options{
		Open:         hidOpener(-1),
		ResponseWait: 50 * time.Millisecond,
		PollInterval: time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &MCP2221{
		request:  make([]byte, 64),
		response: make([]byte, 64),
		config:   config,
	}
}

// WriteToAddr writes buffer with a stop and waits for the engine to finish,
// so an unacknowledged address is reported as shtmon.ErrAddressNACK.
func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x90
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// write could not be performed
	if d.response[1] == 0x01 {
		d.config.Logger.Debug("adapter busy", "address", address)
		return shtmon.ErrBusBusy
	}
	err = d.awaitIdle(ctx)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x91
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		d.config.Logger.Debug("adapter busy", "address", address)
		return shtmon.ErrBusBusy
	}
	for {
		d.resetBuffers()
		d.request[0] = 0x40
		err = d.send(ctx)
		if err != nil {
			return fmt.Errorf("error getting read data from adapter: %w", err)
		}
		state := d.response[2]
		switch {
		case state == stateAddrNACK:
			d.cancel(ctx)
			return fmt.Errorf("bus read from %x failed: %w", address, shtmon.ErrAddressNACK)
		case stateTimeout(state):
			d.cancel(ctx)
			return fmt.Errorf("bus read from %x failed: engine state 0x%02x: %w", address, state, shtmon.ErrBusTimeout)
		case d.response[1] == statePartialData || d.response[3] == stateReadError:
			// data not collected yet
			if err := d.wait(ctx, d.config.PollInterval); err != nil {
				d.cancel(ctx)
				return fmt.Errorf("bus read from %x failed: %w", address, err)
			}
			continue
		}
		if int(d.response[3]) != len(buffer) {
			return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
		}
		copy(buffer, d.response[4:])
		return nil
	}
}

// SetSpeed changes the bus clock. Accepted rates are roughly 47 kHz to 4 MHz.
func (d *MCP2221) SetSpeed(ctx context.Context, hz int) error {
	if hz <= 0 || hz > clockHz/3 || hz < clockHz/258 {
		return fmt.Errorf("invalid i2c speed: %d", hz)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x10
	d.request[3] = 0x20
	d.request[4] = byte(clockHz/hz - 3)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] == 0x21 {
		return fmt.Errorf("could not set speed: %w", shtmon.ErrBusBusy)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x10
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		8: I2C engine state
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		25: I2C read pending
	*/
	status := &MCP2221Status{
		I2CState:             int(buffer[8]),
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the transfer in progress, leaving the bus idle.
func (d *MCP2221) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	_, err := d.releaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = 0x10
	d.request[2] = 0x10
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// awaitIdle polls the engine state until the transfer in progress is done.
func (d *MCP2221) awaitIdle(ctx context.Context) error {
	for {
		d.resetBuffers()
		d.request[0] = 0x10
		err := d.send(ctx)
		if err != nil {
			return fmt.Errorf("status request failed: %w", err)
		}
		state := d.response[8]
		switch {
		case state == stateIdle:
			return nil
		case state == stateAddrNACK:
			d.cancel(ctx)
			return shtmon.ErrAddressNACK
		case stateTimeout(state):
			d.cancel(ctx)
			return fmt.Errorf("engine state 0x%02x: %w", state, shtmon.ErrBusTimeout)
		}
		if err := d.wait(ctx, d.config.PollInterval); err != nil {
			d.cancel(ctx)
			return err
		}
	}
}

// cancel aborts the engine after a failed transfer. It runs on a detached
// context so a cancelled caller still leaves the bus idle.
func (d *MCP2221) cancel(ctx context.Context) {
	cancelCtx, done := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer done()
	if _, err := d.releaseBus(cancelCtx); err != nil {
		d.config.Logger.Warn("could not cancel i2c transfer", "error", err)
	}
}

func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return shtmon.Timeout("mcp2221", err)
	}
	dev, err := d.config.Open()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			d.config.Logger.Debug("could not close device", "error", err)
		}
	}()
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		d.config.Logger.Debug("sending message to adapter", "dump", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	if err := d.wait(ctx, d.config.ResponseWait); err != nil {
		return err
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		d.config.Logger.Debug("read message from adapter", "dump", hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) wait(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		if err := ctx.Err(); err != nil {
			return shtmon.Timeout("mcp2221", err)
		}
		return nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return shtmon.Timeout("mcp2221", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

// hidOpener opens the bridge at index among the connected ones; a negative
// index requires exactly one bridge to be connected.
func hidOpener(index int) Opener {
	return func() (HIDDevice, error) {
		devs := hid.Enumerate(VendorID, ProductID)
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		i := index
		if i < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("ambiguous device identification")
			}
			i = 0
		}
		if i >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", i)
		}
		dev, err := devs[i].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}
