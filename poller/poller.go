// Package poller is the main loop: it ticks the bus controller and then every
// device queue, once per interval.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultInterval = time.Millisecond

// Ticker is anything advanced by the main loop: the controller and the read
// queues.
type Ticker interface {
	Tick()
}

type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Poller is a dumb, clock-driven main loop. The bus is always ticked before the
// devices so a start condition is raised before queues look at the bus.
type Poller struct {
	cfg     Config
	bus     Ticker
	mu      sync.Mutex
	devices []Ticker
	cycles  atomic.Uint64
}

func New(cfg Config, bus Ticker, devices ...Ticker) (*Poller, error) {
	if bus == nil {
		return nil, errors.New("poller: bus required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{cfg: cfg, bus: bus, devices: devices}, nil
}

// Add registers another device. Devices are ticked in registration order.
func (p *Poller) Add(d Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = append(p.devices, d)
}

// PollOnce runs exactly one main loop cycle.
func (p *Poller) PollOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bus.Tick()
	for _, d := range p.devices {
		d.Tick()
	}
	p.cycles.Add(1)
}

// Cycles returns the number of completed cycles.
func (p *Poller) Cycles() uint64 { return p.cycles.Load() }

func (p *Poller) Interval() time.Duration { return p.cfg.Interval }

// Run starts the ticker loop. No overlap: a cycle always finishes before the
// next one starts.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	p.cfg.Logger.Debug("poller started", "interval", p.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			p.cfg.Logger.Debug("poller stopped", "cycles", p.cycles.Load())
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// Until runs cycles back to back until cond holds or max cycles elapsed, and
// reports whether cond held. It is meant for synchronous use where nothing
// else drives the loop.
func (p *Poller) Until(max int, cond func() bool) bool {
	for i := 0; i < max; i++ {
		if cond() {
			return true
		}
		p.PollOnce()
	}
	return cond()
}
