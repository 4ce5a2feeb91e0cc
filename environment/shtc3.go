package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/shtmon"
	"github.com/mklimuk/shtmon/checksum"
	"github.com/mklimuk/shtmon/transaction"
)

// SHTC3Address is the fixed 7-bit address of the SHTC3.
const SHTC3Address = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake  uint16 = 0x3517
	shtc3CmdSleep uint16 = 0xB098

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866
)

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor. It talks to
// a message-level bus and polls instead of relying on clock stretching.
type SHTC3 struct {
	transport   shtmon.I2CBus
	wakeDelay   time.Duration
	measureTime time.Duration
}

var _ Measurer = &SHTC3{}

func NewSHTC3(trans shtmon.I2CBus) *SHTC3 {
	return &SHTC3{
		transport:   trans,
		wakeDelay:   time.Millisecond,
		measureTime: 15 * time.Millisecond,
	}
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHTC3) GetTemperature(ctx context.Context) (float32, error) {
	r, err := s.GetReading(ctx)
	return r.Celsius, err
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHTC3) GetHumidity(ctx context.Context) (float32, error) {
	r, err := s.GetReading(ctx)
	return r.Humidity, err
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	r, err := s.GetReading(ctx)
	return r.Celsius, r.Humidity, err
}

func (s *SHTC3) GetReading(ctx context.Context) (Reading, error) {
	raw, err := s.Measure(ctx)
	if err != nil && raw == (transaction.RawReading{}) {
		return Reading{}, err
	}
	return Convert(raw), err
}

// Measure wakes the sensor, runs one measurement and puts it back to sleep.
// A failed sleep command still returns the validated words along with the
// error.
func (s *SHTC3) Measure(ctx context.Context) (transaction.RawReading, error) {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return transaction.RawReading{}, fmt.Errorf("shtc3: wake failed: %w", err)
	}
	// wake-up takes up to 240us
	if err := sleep(ctx, s.wakeDelay); err != nil {
		return transaction.RawReading{}, err
	}
	if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
		return transaction.RawReading{}, fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	// 12.1 ms max in normal mode
	if err := sleep(ctx, s.measureTime); err != nil {
		return transaction.RawReading{}, err
	}

	// T[0:2], CRC, RH[3:5], CRC
	buf := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, SHTC3Address, buf); err != nil {
		return transaction.RawReading{}, fmt.Errorf("shtc3: read failed: %w", err)
	}
	if err := checksum.Check(buf[0], buf[1], buf[2]); err != nil {
		return transaction.RawReading{}, fmt.Errorf("shtc3: temperature: %w", err)
	}
	if err := checksum.Check(buf[3], buf[4], buf[5]); err != nil {
		return transaction.RawReading{}, fmt.Errorf("shtc3: humidity: %w", err)
	}
	raw := rawReading(buf)

	if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
		// the reading is valid, report so the caller knows the part stays awake
		return raw, fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return raw, nil
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.transport.WriteToAddr(ctx, SHTC3Address, out[:])
}

func rawReading(buf []byte) transaction.RawReading {
	return transaction.RawReading{
		Primary:   binary.BigEndian.Uint16(buf[0:2]),
		Secondary: binary.BigEndian.Uint16(buf[3:5]),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return shtmon.Timeout("shtc3", ctx.Err())
	case <-timer.C:
		return nil
	}
}
