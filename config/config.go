// Package config holds the shtmon YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Link kinds.
const (
	LinkSim     = "sim"
	LinkBitbang = "bitbang"
	LinkI2C     = "i2c"
	LinkMCP2221 = "mcp2221"
)

// Sensor models.
const (
	SensorSHT3x = "sht3x"
	SensorSHTC3 = "shtc3"
)

// Line sources for the bit-banged link.
const (
	PinsPeriph = "periph"
	PinsGobot  = "gobot"
)

type Config struct {
	Link    LinkConfig    `yaml:"link"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Poll    PollConfig    `yaml:"poll"`
	Display DisplayConfig `yaml:"display"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

type LinkConfig struct {
	Kind       string        `yaml:"kind"`
	Device     string        `yaml:"device"`
	SDA        string        `yaml:"sda"`
	SCL        string        `yaml:"scl"`
	Pins       string        `yaml:"pins"`
	HalfPeriod time.Duration `yaml:"half_period"`
	SpeedHz    int           `yaml:"speed_hz"`
}

// SensorConfig selects the sensor model. Address, Command and StepTimeout
// apply to the SHT3x; the SHTC3 has a fixed address and is driven with
// message-level transfers.
type SensorConfig struct {
	Kind        string        `yaml:"kind"`
	Address     uint8         `yaml:"address"`
	Command     uint16        `yaml:"command"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Unit     string        `yaml:"unit"`
}

type DisplayConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MQTTConfig struct {
	// Broker is empty when publishing is disabled.
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	QoS      uint8         `yaml:"qos"`
	Retained bool          `yaml:"retained"`
	Timeout  time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		Link: LinkConfig{
			Kind:       LinkSim,
			Device:     "",
			SDA:        "GPIO2",
			SCL:        "GPIO3",
			Pins:       PinsPeriph,
			HalfPeriod: 5 * time.Microsecond,
			SpeedHz:    100000,
		},
		Sensor: SensorConfig{
			Kind:        SensorSHT3x,
			Address:     0x44,
			Command:     0x2C06,
			StepTimeout: 100 * time.Millisecond,
		},
		Poll: PollConfig{
			Interval: time.Second,
			Unit:     "F",
		},
		Display: DisplayConfig{Enabled: true},
		MQTT: MQTTConfig{
			Timeout: 2 * time.Second,
		},
	}
}

// Load reads the file at path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses and validates a YAML document over the defaults.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("could not decode: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: could not encode: %w", err)
	}
	return enc.Close()
}

func (c Config) String() string {
	var b bytes.Buffer
	if err := Encode(&b, c); err != nil {
		return err.Error()
	}
	return b.String()
}
