package environment

import (
	"context"
	"fmt"

	"github.com/mklimuk/shtmon/transaction"
)

// Measurer performs one raw measurement exchange; *transaction.Sequencer
// implements it.
type Measurer interface {
	Measure(ctx context.Context) (transaction.RawReading, error)
}

// Fahrenheit converts a raw temperature word: raw*315/65535 - 49.
func Fahrenheit(raw uint16) float32 {
	return float32(float64(raw)*315/65535 - 49)
}

// Celsius converts a raw temperature word: raw*175/65535 - 45.
func Celsius(raw uint16) float32 {
	return float32(float64(raw)*175/65535 - 45)
}

// Humidity converts a raw humidity word to %RH: raw*100/65535.
func Humidity(raw uint16) float32 {
	return float32(float64(raw) * 100 / 65535)
}

// Reading is a measurement converted to physical units.
type Reading struct {
	Celsius    float32                `json:"celsius"`
	Fahrenheit float32                `json:"fahrenheit"`
	Humidity   float32                `json:"humidity"`
	Raw        transaction.RawReading `json:"raw"`
}

func Convert(raw transaction.RawReading) Reading {
	return Reading{
		Celsius:    Celsius(raw.Primary),
		Fahrenheit: Fahrenheit(raw.Primary),
		Humidity:   Humidity(raw.Secondary),
		Raw:        raw,
	}
}

// SHT3x represents Sensirion SHT30/31/35 Temperature/Humidity sensor
// Typical usage:
//
//	s := NewSHT3x(transaction.NewSequencer(link))
//	t, h, err := s.GetTempAndHum(ctx)
type SHT3x struct {
	measurer Measurer
}

func NewSHT3x(m Measurer) *SHT3x {
	return &SHT3x{measurer: m}
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHT3x) GetTemperature(ctx context.Context) (float32, error) {
	r, err := s.GetReading(ctx)
	return r.Celsius, err
}

// GetFahrenheit performs a single measurement and returns temperature in Fahrenheit.
func (s *SHT3x) GetFahrenheit(ctx context.Context) (float32, error) {
	r, err := s.GetReading(ctx)
	return r.Fahrenheit, err
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHT3x) GetHumidity(ctx context.Context) (float32, error) {
	r, err := s.GetReading(ctx)
	return r.Humidity, err
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHT3x) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	r, err := s.GetReading(ctx)
	return r.Celsius, r.Humidity, err
}

func (s *SHT3x) GetReading(ctx context.Context) (Reading, error) {
	raw, err := s.measurer.Measure(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("sht3x: measurement failed: %w", err)
	}
	return Convert(raw), nil
}
