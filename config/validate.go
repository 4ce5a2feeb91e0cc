package config

import (
	"fmt"
	"net/url"
)

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	l := cfg.Link
	switch l.Kind {
	case LinkSim, LinkMCP2221:
	case LinkBitbang:
		if l.SDA == "" || l.SCL == "" {
			return fmt.Errorf("config: link: bitbang requires sda and scl")
		}
		if l.SDA == l.SCL {
			return fmt.Errorf("config: link: sda and scl must differ, both are %q", l.SDA)
		}
		if l.Pins != PinsPeriph && l.Pins != PinsGobot {
			return fmt.Errorf("config: link: unknown pins source %q", l.Pins)
		}
		if l.HalfPeriod < 0 {
			return fmt.Errorf("config: link: half_period must not be negative")
		}
	case LinkI2C:
		if l.SpeedHz < 0 {
			return fmt.Errorf("config: link: speed_hz must not be negative")
		}
	default:
		return fmt.Errorf("config: link: unknown kind %q", l.Kind)
	}

	switch cfg.Sensor.Kind {
	case SensorSHT3x:
	case SensorSHTC3:
		if l.Kind != LinkI2C && l.Kind != LinkMCP2221 {
			return fmt.Errorf("config: sensor: shtc3 needs an i2c or mcp2221 link, got %q", l.Kind)
		}
	default:
		return fmt.Errorf("config: sensor: unknown kind %q", cfg.Sensor.Kind)
	}
	if cfg.Sensor.Address == 0 || cfg.Sensor.Address > 0x7F {
		return fmt.Errorf("config: sensor: address %#x is not a 7-bit address", cfg.Sensor.Address)
	}
	if cfg.Sensor.StepTimeout <= 0 {
		return fmt.Errorf("config: sensor: step_timeout must be > 0")
	}

	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("config: poll: interval must be > 0")
	}
	if cfg.Poll.Unit != "F" && cfg.Poll.Unit != "C" {
		return fmt.Errorf("config: poll: unit must be F or C, got %q", cfg.Poll.Unit)
	}

	if cfg.MQTT.Broker != "" {
		u, err := url.Parse(cfg.MQTT.Broker)
		if err != nil {
			return fmt.Errorf("config: mqtt: invalid broker: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("config: mqtt: broker %q has no host", cfg.MQTT.Broker)
		}
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt: qos must be 0, 1 or 2")
	}
	return nil
}
