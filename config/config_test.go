package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
bus:
  frequency: 400000
  base_clock: 16000000
poll:
  interval: 2ms
queue:
  capacity: 10
  timeout_ticks: 50
  retries: 2
devices:
  eeprom:
    address: 0x51
    passthrough: true
  rtc: {}
hardware:
  backend: mcp2221
  timeout: 250ms
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twictl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	assert.Equal(t, uint32(400000), cfg.Bus.Frequency)
	assert.Equal(t, uint32(16000000), cfg.Bus.BaseClock)
	assert.Equal(t, DefaultWriteCapacity, cfg.Bus.WriteCapacity)
	assert.Equal(t, 2*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, QueueConfig{Capacity: 10, Timeout: 50, Retries: 2}, cfg.Queue)
	assert.Equal(t, &DeviceConfig{Address: 0x51, Passthrough: true}, cfg.Devices.EEPROM)
	assert.Equal(t, &DeviceConfig{Address: DefaultRTCAddress}, cfg.Devices.RTC)
	assert.Equal(t, BackendMCP2221, cfg.Hardware.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Hardware.Timeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("bus:\n  speed: 100000\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, uint32(DefaultFrequency), cfg.Bus.Frequency)
	assert.Equal(t, DefaultPollInterval, cfg.Poll.Interval)
	assert.Equal(t, byte(DefaultEEPROMAddress), cfg.Devices.EEPROM.Address)
	assert.Equal(t, byte(DefaultRTCAddress), cfg.Devices.RTC.Address)
	assert.Equal(t, BackendNone, cfg.Hardware.Backend)
}

func TestValidate(t *testing.T) {
	var tests = []struct {
		name   string
		mutate func(c *Config)
	}{
		{"frequency", func(c *Config) { c.Bus.Frequency = 250000 }},
		{"base clock", func(c *Config) { c.Bus.BaseClock = 1000 }},
		{"write capacity", func(c *Config) { c.Bus.WriteCapacity = 2 }},
		{"read capacity", func(c *Config) { c.Bus.ReadCapacity = -1 }},
		{"poll interval", func(c *Config) { c.Poll.Interval = -time.Second }},
		{"queue capacity", func(c *Config) { c.Queue.Capacity = -1 }},
		{"retries", func(c *Config) { c.Queue.Retries = -1 }},
		{"address", func(c *Config) { c.Devices.EEPROM.Address = 0x80 }},
		{"address clash", func(c *Config) { c.Devices.EEPROM.Address = c.Devices.RTC.Address }},
		{"rtc address", func(c *Config) { c.Devices.RTC.Address = 0x51 }},
		{"passthrough without backend", func(c *Config) { c.Devices.RTC.Passthrough = true }},
		{"backend", func(c *Config) { c.Hardware.Backend = "ftdi" }},
		{"hardware bus", func(c *Config) { c.Hardware.Bus = -1 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, &Config{}, cfg)
}
