package shtmon

import "fmt"

// Status is a bus status code. Values match the two-wire interface status
// register (prescaler bits masked out) so they can be compared with logic
// analyzer captures and controller datasheets directly.
type Status byte

const (
	StatusBusError        Status = 0x00
	StatusStart           Status = 0x08
	StatusRepeatedStart   Status = 0x10
	StatusAddrWriteACK    Status = 0x18
	StatusAddrWriteNACK   Status = 0x20
	StatusDataWriteACK    Status = 0x28
	StatusDataWriteNACK   Status = 0x30
	StatusArbitrationLost Status = 0x38
	StatusAddrReadACK     Status = 0x40
	StatusAddrReadNACK    Status = 0x48
	StatusDataReadACK     Status = 0x50
	StatusDataReadNACK    Status = 0x58
	StatusNoInfo          Status = 0xF8
)

// Read and write direction bits appended to the 7-bit address.
const (
	DirWrite byte = 0x00
	DirRead  byte = 0x01
)

// AddressByte returns the first byte of a transfer for a 7-bit address.
func AddressByte(address byte, dir byte) byte {
	return address<<1 | dir&0x01
}

// IsStart reports whether s acknowledges a start or repeated start condition.
func (s Status) IsStart() bool {
	return s == StatusStart || s == StatusRepeatedStart
}

// IsNACK reports whether s is one of the not-acknowledge codes.
func (s Status) IsNACK() bool {
	switch s {
	case StatusAddrWriteNACK, StatusDataWriteNACK, StatusAddrReadNACK:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusBusError:
		return "bus error"
	case StatusStart:
		return "start"
	case StatusRepeatedStart:
		return "repeated start"
	case StatusAddrWriteACK:
		return "SLA+W ack"
	case StatusAddrWriteNACK:
		return "SLA+W nack"
	case StatusDataWriteACK:
		return "data sent ack"
	case StatusDataWriteNACK:
		return "data sent nack"
	case StatusArbitrationLost:
		return "arbitration lost"
	case StatusAddrReadACK:
		return "SLA+R ack"
	case StatusAddrReadNACK:
		return "SLA+R nack"
	case StatusDataReadACK:
		return "data received ack"
	case StatusDataReadNACK:
		return "data received nack"
	case StatusNoInfo:
		return "no info"
	}
	return fmt.Sprintf("unknown status 0x%02x", byte(s))
}
