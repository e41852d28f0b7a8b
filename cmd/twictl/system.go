package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twi"
	"github.com/mklimuk/twi/adapter"
	"github.com/mklimuk/twi/config"
	"github.com/mklimuk/twi/controller"
	"github.com/mklimuk/twi/hw"
	"github.com/mklimuk/twi/i2c"
	"github.com/mklimuk/twi/irq"
	eeprom "github.com/mklimuk/twi/memory/24c32"
	"github.com/mklimuk/twi/poller"
	"github.com/mklimuk/twi/rtc/ds1307"
	"github.com/mklimuk/twi/sim"
)

// maxCycles bounds synchronous waits on the main loop.
const maxCycles = 10_000

const metaSystem = "system"

var errNotCompleted = errors.New("bus operation not completed")

// system is the whole stack: a simulated bus peripheral hosting simulated or
// passthrough devices, the controller, the device drivers and the main loop.
type system struct {
	cfg     *config.Config
	wire    *sim.Bus
	ctrl    *controller.Controller
	eeprom  *eeprom.EEPROM24C32
	rtc     *ds1307.DS1307
	loop    *poller.Poller
	bus     *i2c.Bus
	backend twi.I2CBus
	closers []func() error
}

// systemFrom returns the system of the app, building it on first use so the
// shell keeps one bus for all its commands.
func systemFrom(c *cli.Context) (*system, error) {
	if s, ok := c.App.Metadata[metaSystem].(*system); ok {
		return s, nil
	}
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	s, err := newSystem(cfg)
	if err != nil {
		return nil, err
	}
	c.App.Metadata[metaSystem] = s
	return s, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func newSystem(cfg *config.Config) (*system, error) {
	s := &system{cfg: cfg}
	var err error
	s.backend, err = s.openBackend(cfg.Hardware)
	if err != nil {
		return nil, err
	}

	line := &irq.Line{}
	s.wire = sim.NewBus(line)
	if d := cfg.Devices.EEPROM; d != nil {
		s.wire.AddTarget(s.target(d, func() sim.Target {
			return sim.NewMemory(d.Address, eeprom.Capacity, 2, sim.WithPageSize(eeprom.PageSize))
		}))
	}
	if d := cfg.Devices.RTC; d != nil {
		s.wire.AddTarget(s.target(d, func() sim.Target {
			regs, _ := ds1307.Encode(time.Now().UTC())
			return sim.NewMemory(d.Address, ds1307.RAMStart+ds1307.RAMSize, 1, sim.WithContents(regs[:]))
		}))
	}

	s.ctrl, err = controller.New(s.wire, line,
		controller.WithWriteCapacity(cfg.Bus.WriteCapacity),
		controller.WithReadCapacity(cfg.Bus.ReadCapacity),
		controller.WithBaseClock(cfg.Bus.BaseClock),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.wire.Attach(s.ctrl.HandleEvent)
	if _, err := s.ctrl.Init(cfg.Bus.Frequency); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not init bus at %d Hz: %w", cfg.Bus.Frequency, err)
	}

	s.loop, err = poller.New(poller.Config{Interval: cfg.Poll.Interval}, s.ctrl)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if d := cfg.Devices.EEPROM; d != nil {
		s.eeprom, err = eeprom.New(s.ctrl,
			eeprom.WithAddress(d.Address),
			eeprom.WithQueueCapacity(cfg.Queue.Capacity),
			eeprom.WithTimeout(cfg.Queue.Timeout, cfg.Queue.Retries),
		)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.loop.Add(s.eeprom)
	}
	if cfg.Devices.RTC != nil {
		s.rtc, err = ds1307.New(s.ctrl,
			ds1307.WithQueueCapacity(cfg.Queue.Capacity),
			ds1307.WithTimeout(cfg.Queue.Timeout, cfg.Queue.Retries),
		)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.loop.Add(s.rtc)
	}
	// interrupts raised during the cycle are delivered at its end
	s.loop.Add(s.wire)
	s.bus = i2c.New(s.ctrl, i2c.WithName("twi0"), i2c.WithPump(s.loop.PollOnce))
	return s, nil
}

func (s *system) target(d *config.DeviceConfig, simulated func() sim.Target) sim.Target {
	if d.Passthrough {
		slog.Debug("device passed through", "address", fmt.Sprintf("%#02x", d.Address), "backend", s.cfg.Hardware.Backend)
		return hw.NewPassthrough(twi.NewDevice(s.backend, d.Address), s.cfg.Hardware.Timeout)
	}
	return simulated()
}

func (s *system) openBackend(cfg config.HardwareConfig) (twi.I2CBus, error) {
	switch cfg.Backend {
	case config.BackendPeriph:
		b, err := hw.NewPeriphBus(cfg.Device)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b.Close)
		return b, nil
	case config.BackendNanoPi:
		b, finalize, err := hw.NewNanoPiBus(cfg.Bus)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b.Close, finalize)
		return b, nil
	case config.BackendMCP2221:
		return adapter.NewMCP2221(), nil
	default:
		return nil, nil
	}
}

// Until runs the main loop until cond holds.
func (s *system) Until(cond func() bool) error {
	if !s.loop.Until(maxCycles, cond) {
		return errNotCompleted
	}
	return nil
}

// Flush runs the main loop until every queued frame is on the wire and
// reports the first NACK seen.
func (s *system) Flush() error {
	err := s.Until(func() bool { return !s.ctrl.Busy() })
	if err != nil {
		return err
	}
	if flag := s.ctrl.Error(); flag != twi.ErrorNone {
		s.ctrl.ClearError()
		return flag.Err()
	}
	return nil
}

func (s *system) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
