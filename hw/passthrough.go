// Package hw connects the simulated bus to real devices. Passthrough plays a
// target on the sim bus by forwarding its traffic to a device reached through
// a blocking twi.I2CBus backend: a Linux I2C adapter (periph or gobot) or an
// MCP2221 USB bridge.
package hw

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/twi"
	"github.com/mklimuk/twi/sim"
)

var _ sim.Target = &Passthrough{}

// Passthrough forwards one device. Writes are collected until the
// transaction ends and sent as one transfer, so a write NACK shows up only in
// the log. Reads are fetched a byte at a time, which suits devices with an
// auto-incrementing register pointer (serial EEPROMs, RTCs).
type Passthrough struct {
	mu      sync.Mutex
	dev     *twi.Device
	timeout time.Duration
	log     *slog.Logger

	writing bool
	pending []byte
	next    []byte // prefetched byte, fetched when the address was acked
}

// NewPassthrough forwards dev. timeout bounds every transfer; zero means
// 100ms.
func NewPassthrough(dev *twi.Device, timeout time.Duration) *Passthrough {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Passthrough{
		dev:     dev,
		timeout: timeout,
		log:     slog.Default().With("device", dev.Address()),
	}
}

func (p *Passthrough) Address() byte { return p.dev.Address() }

// Begin acks a write unconditionally. A read is acked only when the device
// returns its first byte.
func (p *Passthrough) Begin(read bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !read {
		p.writing = true
		p.pending = p.pending[:0]
		return true
	}
	b, err := p.fetch()
	if err != nil {
		p.log.Debug("read not acknowledged", "error", err)
		return false
	}
	p.next = append(p.next[:0], b)
	return true
}

func (p *Passthrough) Receive(b byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b)
	return true
}

func (p *Passthrough) Transmit() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.next) > 0 {
		b := p.next[0]
		p.next = p.next[:0]
		return b
	}
	b, err := p.fetch()
	if err != nil {
		p.log.Warn("read failed", "error", err)
		return 0xFF
	}
	return b
}

func (p *Passthrough) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = p.next[:0]
	if !p.writing {
		return
	}
	p.writing = false
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.dev.Write(ctx, p.pending); err != nil {
		p.log.Warn("write failed", "error", err, "length", len(p.pending))
	}
}

func (p *Passthrough) fetch() (byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	buf := make([]byte, 1)
	if err := p.dev.Read(ctx, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
