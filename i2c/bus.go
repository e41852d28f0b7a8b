// Package i2c runs blocking transactions on top of the queued controller so
// drivers written for periph, tinygo or the twi.I2CBus interfaces can share the
// bus with the non-blocking device queues.
//
// A Tx only queues work and waits for it; something else must drive the main
// loop and deliver bus interrupts. With WithPump the Bus drives them itself
// between checks, which is how single goroutine programs and tests use it.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"github.com/mklimuk/twi"
	"github.com/mklimuk/twi/ring"
)

var (
	_ twi.I2CBus    = &Bus{}
	_ i2c.BusCloser = &Bus{}
	_ drivers.I2C   = &Bus{}
)

var ErrAddress = errors.New("invalid 7-bit address")

// Controller is the queued controller surface the blocking bus needs.
type Controller interface {
	Init(frequency uint32) (uint8, error)
	Send(dev byte, payload []byte) (uint64, bool)
	FrameResult(seq uint64) (done bool, flag twi.ErrorFlag)
	RequestRead(dev byte, length int) bool
	RequestRegisterRead(dev byte, register []byte, length int) bool
	DrainReceived(dst []byte, length int) int
	ReadFailed() bool
	AbortRead()
}

type Config struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Pump     func()
	Logger   *slog.Logger
}

type ConfigOption func(*Config)

func WithName(name string) ConfigOption {
	return func(c *Config) {
		c.Name = name
	}
}

// WithPollInterval sets how often a waiting transaction checks for progress.
func WithPollInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithTimeout bounds transactions started with Tx, which takes no context.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithPump makes waiting transactions call pump instead of sleeping. pump
// should run one main loop cycle and deliver pending interrupts.
func WithPump(pump func()) ConfigOption {
	return func(c *Config) {
		c.Pump = pump
	}
}

func WithLogger(l *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

type Bus struct {
	mu   sync.Mutex
	ctrl Controller
	cfg  Config
	log  *slog.Logger
}

func New(ctrl Controller, opts ...ConfigOption) *Bus {
	config := &Config{
		Name:     "twi",
		Interval: time.Millisecond,
		Timeout:  time.Second,
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Bus{ctrl: ctrl, cfg: *config, log: config.Logger.With("bus", config.Name)}
}

func (b *Bus) String() string { return b.cfg.Name }

// SetSpeed reprograms the bus clock. Only standard and fast mode exist; other
// values fall back to standard mode.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	_, err := b.ctrl.Init(uint32(f / physic.Hertz))
	return err
}

func (b *Bus) Close() error { return nil }

// Tx writes w then reads into r, joined by a repeated start when both are
// given. An empty w and r sends a bare address, which probes for a device.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()
	return b.TxContext(ctx, addr, w, r)
}

func (b *Bus) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("%w: %#x", ErrAddress, addr)
	}
	if len(w) > ring.MaxPayload || len(r) > ring.MaxPayload {
		return fmt.Errorf("transaction with %#02x too long: write %d read %d", addr, len(w), len(r))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dev := byte(addr)
	if len(r) == 0 {
		return b.write(ctx, dev, w)
	}
	return b.read(ctx, dev, w, r)
}

func (b *Bus) write(ctx context.Context, dev byte, w []byte) error {
	var seq uint64
	err := b.await(ctx, func() bool {
		var ok bool
		seq, ok = b.ctrl.Send(dev, w)
		return ok
	})
	if err != nil {
		return fmt.Errorf("could not queue write to %#02x: %w", dev, err)
	}
	var flag twi.ErrorFlag
	err = b.await(ctx, func() bool {
		var done bool
		done, flag = b.ctrl.FrameResult(seq)
		return done
	})
	if err != nil {
		return fmt.Errorf("write to %#02x not completed: %w", dev, err)
	}
	if flag != twi.ErrorNone {
		return fmt.Errorf("write to %#02x: %w", dev, flag.Err())
	}
	return nil
}

func (b *Bus) read(ctx context.Context, dev byte, w, r []byte) error {
	err := b.await(ctx, func() bool {
		if len(w) == 0 {
			return b.ctrl.RequestRead(dev, len(r))
		}
		return b.ctrl.RequestRegisterRead(dev, w, len(r))
	})
	if err != nil {
		return fmt.Errorf("could not queue read from %#02x: %w", dev, err)
	}
	failed := false
	err = b.await(ctx, func() bool {
		if b.ctrl.ReadFailed() {
			failed = true
			return true
		}
		return b.ctrl.DrainReceived(r, len(r)) == len(r)
	})
	if err != nil {
		b.ctrl.AbortRead()
		return fmt.Errorf("read from %#02x not completed: %w", dev, err)
	}
	if failed {
		b.ctrl.AbortRead()
		return fmt.Errorf("read from %#02x: %w", dev, twi.ErrAddressReadNack)
	}
	return nil
}

// await polls cond until it holds or ctx is done.
func (b *Bus) await(ctx context.Context, cond func() bool) error {
	if b.cfg.Pump != nil {
		for !cond() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.cfg.Pump()
		}
		return nil
	}
	if cond() {
		return nil
	}
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.TxContext(ctx, uint16(address), nil, buffer)
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.TxContext(ctx, uint16(address), buffer, nil)
}

// Release is a no-op: every transaction ends with a stop.
func (b *Bus) Release(ctx context.Context) error {
	return nil
}

// Probe reports whether a device acknowledges addr.
func (b *Bus) Probe(ctx context.Context, addr byte) (bool, error) {
	err := b.TxContext(ctx, uint16(addr), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, twi.ErrAddressWriteNack):
		return false, nil
	default:
		return false, err
	}
}

// Scan probes every unreserved address and returns those that answered.
func (b *Bus) Scan(ctx context.Context) ([]byte, error) {
	var found []byte
	for addr := byte(0x08); addr < 0x78; addr++ {
		ok, err := b.Probe(ctx, addr)
		if err != nil {
			return found, err
		}
		if ok {
			b.log.Debug("device found", "address", fmt.Sprintf("%#02x", addr))
			found = append(found, addr)
		}
	}
	return found, nil
}
