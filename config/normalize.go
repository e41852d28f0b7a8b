package config

import "time"

const (
	DefaultFrequency       = 100_000
	DefaultBaseClock       = 8_000_000
	DefaultWriteCapacity   = 100
	DefaultReadCapacity    = 100
	DefaultPollInterval    = time.Millisecond
	DefaultQueueCapacity   = 30
	DefaultEEPROMAddress   = 0x50
	DefaultRTCAddress      = 0x68
	DefaultHardwareTimeout = 100 * time.Millisecond
)

// Normalize fills defaults in. It should be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	setDefault(&cfg.Bus.Frequency, DefaultFrequency)
	setDefault(&cfg.Bus.BaseClock, DefaultBaseClock)
	setDefault(&cfg.Bus.WriteCapacity, DefaultWriteCapacity)
	setDefault(&cfg.Bus.ReadCapacity, DefaultReadCapacity)
	setDefault(&cfg.Poll.Interval, DefaultPollInterval)
	setDefault(&cfg.Queue.Capacity, DefaultQueueCapacity)
	setDefault(&cfg.Hardware.Timeout, DefaultHardwareTimeout)
	if cfg.Devices.EEPROM != nil {
		setDefault(&cfg.Devices.EEPROM.Address, DefaultEEPROMAddress)
	}
	if cfg.Devices.RTC != nil {
		setDefault(&cfg.Devices.RTC.Address, DefaultRTCAddress)
	}
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}
