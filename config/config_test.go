package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))
}

func TestDecode(t *testing.T) {
	doc := `
link:
  kind: bitbang
  sda: GPIO17
  scl: GPIO27
  pins: gobot
  half_period: 10us
sensor:
  address: 0x45
  command: 0x2400
poll:
  interval: 5s
  unit: C
mqtt:
  broker: tcp://localhost:1883/sensors
  qos: 1
`
	cfg, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, LinkBitbang, cfg.Link.Kind)
	assert.Equal(t, "GPIO17", cfg.Link.SDA)
	assert.Equal(t, PinsGobot, cfg.Link.Pins)
	assert.Equal(t, 10*time.Microsecond, cfg.Link.HalfPeriod)
	assert.Equal(t, uint8(0x45), cfg.Sensor.Address)
	assert.Equal(t, uint16(0x2400), cfg.Sensor.Command)
	// untouched keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.Sensor.StepTimeout)
	assert.True(t, cfg.Display.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "C", cfg.Poll.Unit)
	assert.Equal(t, uint8(1), cfg.MQTT.QoS)
	assert.Equal(t, 2*time.Second, cfg.MQTT.Timeout)
}

func TestDecodeEmpty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecodeUnknownField(t *testing.T) {
	_, err := Decode(strings.NewReader("poll:\n  period: 1s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		msg    string
	}{
		{"unknown kind", func(c *Config) { c.Link.Kind = "spi" }, `unknown kind "spi"`},
		{"missing scl", func(c *Config) { c.Link.Kind = LinkBitbang; c.Link.SCL = "" }, "requires sda and scl"},
		{"same lines", func(c *Config) { c.Link.Kind = LinkBitbang; c.Link.SCL = c.Link.SDA }, "must differ"},
		{"pins", func(c *Config) { c.Link.Kind = LinkBitbang; c.Link.Pins = "wiring" }, "unknown pins source"},
		{"speed", func(c *Config) { c.Link.Kind = LinkI2C; c.Link.SpeedHz = -1 }, "speed_hz"},
		{"general call", func(c *Config) { c.Sensor.Address = 0 }, "7-bit"},
		{"wide address", func(c *Config) { c.Sensor.Address = 0x80 }, "7-bit"},
		{"step timeout", func(c *Config) { c.Sensor.StepTimeout = 0 }, "step_timeout"},
		{"interval", func(c *Config) { c.Poll.Interval = 0 }, "interval"},
		{"unit", func(c *Config) { c.Poll.Unit = "K" }, "unit must be F or C"},
		{"broker host", func(c *Config) { c.MQTT.Broker = "sensors" }, "has no host"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "qos"},
		{"sensor kind", func(c *Config) { c.Sensor.Kind = "hih6021" }, `unknown kind "hih6021"`},
		{"shtc3 on sim", func(c *Config) { c.Sensor.Kind = SensorSHTC3 }, "shtc3 needs an i2c or mcp2221 link"},
		{"shtc3 on gpio", func(c *Config) { c.Sensor.Kind = SensorSHTC3; c.Link.Kind = LinkBitbang }, "shtc3 needs"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(&cfg)
			err := Validate(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.msg)
		})
	}
}

func TestDecodeSHTC3(t *testing.T) {
	cfg, err := Decode(strings.NewReader("link:\n  kind: mcp2221\nsensor:\n  kind: shtc3\n"))
	require.NoError(t, err)
	assert.Equal(t, SensorSHTC3, cfg.Sensor.Kind)
	assert.Equal(t, LinkMCP2221, cfg.Link.Kind)
	assert.Equal(t, SensorSHT3x, Default().Sensor.Kind)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shtmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("link:\n  kind: i2c\n  device: /dev/i2c-1\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LinkI2C, cfg.Link.Kind)
	assert.Equal(t, "/dev/i2c-1", cfg.Link.Device)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker = "tcp://broker:1883"
	decoded, err := Decode(strings.NewReader(cfg.String()))
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}
