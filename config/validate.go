package config

import (
	"fmt"
)

// Validate checks configuration correctness. Zero values stand for defaults
// and are accepted. It does not mutate cfg.
func Validate(cfg *Config) error {
	b := cfg.Bus
	switch b.Frequency {
	case 0, 100_000, 400_000:
	default:
		return fmt.Errorf("bus: frequency %d not supported (100000 or 400000)", b.Frequency)
	}
	if b.BaseClock != 0 && b.BaseClock < 1_000_000 {
		return fmt.Errorf("bus: base_clock %d below 1 MHz", b.BaseClock)
	}
	if b.WriteCapacity < 0 || (b.WriteCapacity > 0 && b.WriteCapacity < 4) {
		return fmt.Errorf("bus: write_capacity %d must hold at least one frame header and payload", b.WriteCapacity)
	}
	if b.ReadCapacity < 0 {
		return fmt.Errorf("bus: read_capacity %d must be positive", b.ReadCapacity)
	}

	if cfg.Poll.Interval < 0 {
		return fmt.Errorf("poll: interval %s must be positive", cfg.Poll.Interval)
	}

	q := cfg.Queue
	if q.Capacity < 0 {
		return fmt.Errorf("queue: capacity %d must be positive", q.Capacity)
	}
	if q.Timeout < 0 || q.Retries < 0 {
		return fmt.Errorf("queue: timeout_ticks and retries must not be negative")
	}

	passthrough := false
	seen := make(map[byte]string)
	devices := []struct {
		name string
		cfg  *DeviceConfig
	}{
		{"eeprom", cfg.Devices.EEPROM},
		{"rtc", cfg.Devices.RTC},
	}
	for _, dev := range devices {
		name, d := dev.name, dev.cfg
		if d == nil {
			continue
		}
		if d.Address > 0x7F {
			return fmt.Errorf("devices: %s address %#x is not a 7-bit address", name, d.Address)
		}
		if d.Address != 0 {
			if prev, ok := seen[d.Address]; ok {
				return fmt.Errorf("devices: address %#02x used by %s and %s", d.Address, prev, name)
			}
			seen[d.Address] = name
		}
		passthrough = passthrough || d.Passthrough
	}

	if rtc := cfg.Devices.RTC; rtc != nil && rtc.Address != 0 && rtc.Address != DefaultRTCAddress {
		return fmt.Errorf("devices: the DS1307 answers at %#02x only", DefaultRTCAddress)
	}

	hw := cfg.Hardware
	switch hw.Backend {
	case BackendNone:
		if passthrough {
			return fmt.Errorf("hardware: passthrough devices require a backend")
		}
	case BackendPeriph, BackendNanoPi, BackendMCP2221:
	default:
		return fmt.Errorf("hardware: unknown backend %q", hw.Backend)
	}
	if hw.Bus < 0 {
		return fmt.Errorf("hardware: bus %d must not be negative", hw.Bus)
	}
	if hw.Timeout < 0 {
		return fmt.Errorf("hardware: timeout %s must be positive", hw.Timeout)
	}
	return nil
}
