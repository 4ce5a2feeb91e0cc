package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/checksum"
)

var (
	ErrStart       = errors.New("start condition not acknowledged")
	ErrAddressNACK = errors.New("address not acknowledged")
	ErrCommandNACK = errors.New("command not acknowledged")
	ErrRead        = errors.New("data byte not delivered")
	ErrLink        = errors.New("bus link failure")
)

// Kind classifies a failed exchange.
type Kind int

const (
	KindStart Kind = iota + 1
	KindAddressNACK
	KindCommandNACK
	KindRead
	KindChecksum
	KindTimeout
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindAddressNACK:
		return "address nack"
	case KindCommandNACK:
		return "command nack"
	case KindRead:
		return "read"
	case KindChecksum:
		return "checksum"
	case KindTimeout:
		return "timeout"
	case KindLink:
		return "link"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel returns the error matched by errors.Is for failures of kind k.
func (k Kind) Sentinel() error {
	switch k {
	case KindStart:
		return ErrStart
	case KindAddressNACK:
		return ErrAddressNACK
	case KindCommandNACK:
		return ErrCommandNACK
	case KindRead:
		return ErrRead
	case KindChecksum:
		return checksum.ErrMismatch
	case KindTimeout:
		return shtmon.ErrBusTimeout
	}
	return ErrLink
}

// IsBus reports whether k is a wiring/bus fault rather than a data fault.
func (k Kind) IsBus() bool {
	return k != KindChecksum
}

// FailureRecord is the diagnostic kept for the latest failed exchange.
type FailureRecord struct {
	Step   Step          `json:"step" yaml:"step"`
	Status shtmon.Status `json:"status" yaml:"status"`
	Kind   Kind          `json:"kind" yaml:"kind"`
}

// Failure is the error returned by Sequencer.Measure.
type Failure struct {
	FailureRecord
	// Err is the underlying link error, if any.
	Err error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("sht3x: step %d (%s) failed with status 0x%02x (%s): %s",
		int(f.Step), f.Step, byte(f.Status), f.Status, f.Kind)
	if f.Err != nil {
		return msg + ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Kind.Sentinel(), f.Err}
	}
	return []error{f.Kind.Sentinel()}
}

// AsFailure extracts the FailureRecord carried by err.
func AsFailure(err error) (FailureRecord, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.FailureRecord, true
	}
	return FailureRecord{}, false
}

func statusFailure(step Step, status shtmon.Status) *Failure {
	return &Failure{FailureRecord: FailureRecord{Step: step, Status: status, Kind: step.Kind()}}
}

func linkFailure(step Step, status shtmon.Status, err error) *Failure {
	kind := KindLink
	if errors.Is(err, shtmon.ErrBusTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return &Failure{FailureRecord: FailureRecord{Step: step, Status: status, Kind: kind}, Err: err}
}
