package transaction

import (
	"fmt"

	"github.com/mklimuk/shtmon"
)

// Step identifies a phase of the measurement exchange. Values start at 1 so
// they can be shown on the display as-is.
type Step int

const (
	StepStart Step = iota + 1
	StepAddressWrite
	StepCommandHigh
	StepCommandLow
	StepRestart
	StepAddressRead
	StepPrimaryHigh
	StepPrimaryLow
	StepPrimaryChecksum
	StepSecondaryHigh
	StepSecondaryLow
	StepSecondaryChecksum
)

// StepCount is the number of bus phases in one exchange.
const StepCount = int(StepSecondaryChecksum)

var stepNames = [...]string{
	StepStart:             "start",
	StepAddressWrite:      "address+W",
	StepCommandHigh:       "command MSB",
	StepCommandLow:        "command LSB",
	StepRestart:           "restart",
	StepAddressRead:       "address+R",
	StepPrimaryHigh:       "primary MSB",
	StepPrimaryLow:        "primary LSB",
	StepPrimaryChecksum:   "primary CRC",
	StepSecondaryHigh:     "secondary MSB",
	StepSecondaryLow:      "secondary LSB",
	StepSecondaryChecksum: "secondary CRC",
}

func (s Step) String() string {
	if s < StepStart || s > StepSecondaryChecksum {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Accepts reports whether status lets the exchange proceed past s.
func (s Step) Accepts(status shtmon.Status) bool {
	switch s {
	case StepStart, StepRestart:
		return status.IsStart()
	case StepAddressWrite:
		return status == shtmon.StatusAddrWriteACK
	case StepCommandHigh, StepCommandLow:
		return status == shtmon.StatusDataWriteACK
	case StepAddressRead:
		return status == shtmon.StatusAddrReadACK
	case StepPrimaryHigh, StepPrimaryLow, StepPrimaryChecksum, StepSecondaryHigh, StepSecondaryLow:
		return status == shtmon.StatusDataReadACK
	case StepSecondaryChecksum:
		return status == shtmon.StatusDataReadNACK
	}
	return false
}

// Kind returns the failure class reported when s sees an unexpected status.
func (s Step) Kind() Kind {
	switch s {
	case StepStart, StepRestart:
		return KindStart
	case StepAddressWrite, StepAddressRead:
		return KindAddressNACK
	case StepCommandHigh, StepCommandLow:
		return KindCommandNACK
	}
	return KindRead
}
