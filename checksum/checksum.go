// Package checksum implements the Sensirion CRC-8 used to protect every
// 16-bit word read from SHT3x and SHTC3 sensors.
//
// Parameters: polynomial 0x31 (x^8 + x^5 + x^4 + 1), initial value 0xFF,
// no reflection, no final XOR.
package checksum

import "fmt"

const (
	Polynomial byte = 0x31
	Init       byte = 0xFF
)

var ErrMismatch = fmt.Errorf("checksum mismatch")

// Sum computes the CRC-8 of data.
func Sum(data ...byte) byte {
	crc := Init
	for _, b := range data {
		crc = shift(crc ^ b)
	}
	return crc
}

// Validate reports whether sum is the checksum of the word made of high and low.
func Validate(high, low, sum byte) bool {
	remainder := shift(Init ^ high)
	remainder = shift(remainder ^ low)
	return remainder == sum
}

// Check returns ErrMismatch wrapped with both values when Validate fails.
func Check(high, low, sum byte) error {
	if Validate(high, low, sum) {
		return nil
	}
	return fmt.Errorf("%w: expected 0x%02x, got 0x%02x", ErrMismatch, Sum(high, low), sum)
}

// shift runs the eight shift/xor rounds for one byte already folded into crc.
func shift(crc byte) byte {
	for range 8 {
		if crc&0x80 != 0 {
			crc = (crc << 1) ^ Polynomial
		} else {
			crc <<= 1
		}
	}
	return crc
}
