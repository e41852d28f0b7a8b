// Package config loads the twictl YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names the hardware reached by passthrough devices.
type Backend string

const (
	BackendNone    Backend = ""
	BackendPeriph  Backend = "periph"
	BackendNanoPi  Backend = "nanopi"
	BackendMCP2221 Backend = "mcp2221"
)

type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Poll     PollConfig     `yaml:"poll"`
	Queue    QueueConfig    `yaml:"queue"`
	Devices  DevicesConfig  `yaml:"devices"`
	Hardware HardwareConfig `yaml:"hardware"`
}

// ---- BUS ----

type BusConfig struct {
	Frequency     uint32 `yaml:"frequency"`
	BaseClock     uint32 `yaml:"base_clock"`
	WriteCapacity int    `yaml:"write_capacity"`
	ReadCapacity  int    `yaml:"read_capacity"`
}

// ---- POLL ----

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ---- READ QUEUES ----

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	Timeout  int `yaml:"timeout_ticks"` // 0 disables
	Retries  int `yaml:"retries"`
}

// ---- DEVICES ----

type DevicesConfig struct {
	EEPROM *DeviceConfig `yaml:"eeprom"`
	RTC    *DeviceConfig `yaml:"rtc"`
}

type DeviceConfig struct {
	Address byte `yaml:"address"`
	// Passthrough forwards the device to the hardware backend instead of
	// simulating it.
	Passthrough bool `yaml:"passthrough"`
}

// ---- HARDWARE ----

type HardwareConfig struct {
	Backend Backend       `yaml:"backend"`
	Device  string        `yaml:"device"` // periph bus name
	Bus     int           `yaml:"bus"`    // gobot bus number
	Timeout time.Duration `yaml:"timeout"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Devices: DevicesConfig{
			EEPROM: &DeviceConfig{},
			RTC:    &DeviceConfig{},
		},
	}
	Normalize(cfg)
	return cfg
}

// Load reads and decodes path. Unknown keys are rejected. The result is
// neither validated nor normalized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	return &cfg, nil
}
