package shtmon

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")
var ErrBusTimeout = fmt.Errorf("bus operation timed out")
var ErrAddressNACK = fmt.Errorf("device did not acknowledge its address")
var ErrDataNACK = fmt.Errorf("device did not acknowledge data")

// Link is a byte-level controller on a two-wire bus. Every operation blocks
// until the bus reports completion or ctx is done; in the latter case the
// returned error wraps ErrBusTimeout.
type Link interface {
	// Start issues a start condition.
	Start(ctx context.Context) (Status, error)
	// Restart issues a stop followed by a start, used to turn the bus around.
	Restart(ctx context.Context) (Status, error)
	// Transmit clocks out one byte and observes the acknowledge bit.
	Transmit(ctx context.Context, value byte) (Status, error)
	// Receive clocks in one byte. When more is true the controller
	// acknowledges it, asking the device for another one.
	Receive(ctx context.Context, more bool) (byte, Status, error)
	// Stop issues a stop condition and releases the bus.
	Stop(ctx context.Context) error
	// Status returns the status observed after the most recent operation.
	Status() Status
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a message-level bus: every call is a complete addressed transfer.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Timeout wraps a context error so that it matches ErrBusTimeout.
func Timeout(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBusTimeout, err)
}
