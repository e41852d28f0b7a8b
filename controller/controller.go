// Package controller implements the queued two-wire bus master: the interrupt
// handler that drives the wire protocol one event at a time and the
// non-blocking API the device drivers call from the main loop.
//
// A Controller is shared by exactly two contexts. HandleEvent runs in interrupt
// context (serialized by an irq.Line); everything else runs in the main loop.
// Cross-context state lives in the ring buffers and in atomics; the multi-step
// updates the main loop makes on read state (claiming a read, AbortRead) run
// with the line masked.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mklimuk/twi"
	"github.com/mklimuk/twi/irq"
	"github.com/mklimuk/twi/ring"
)

// Supported SCL frequencies.
const (
	StandardMode uint32 = 100_000
	FastMode     uint32 = 400_000
)

const (
	DefaultWriteCapacity = 100
	DefaultReadCapacity  = 100
	DefaultBaseClock     = 8_000_000
)

type Config struct {
	WriteCapacity int
	ReadCapacity  int
	BaseClock     uint32
	Logger        *slog.Logger
}

type ConfigOption func(*Config)

func WithWriteCapacity(n int) ConfigOption {
	return func(c *Config) {
		c.WriteCapacity = n
	}
}

func WithReadCapacity(n int) ConfigOption {
	return func(c *Config) {
		c.ReadCapacity = n
	}
}

// WithBaseClock sets the peripheral clock the bit rate divisor is derived from.
func WithBaseClock(hz uint32) ConfigOption {
	return func(c *Config) {
		c.BaseClock = hz
	}
}

func WithLogger(l *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// Flags is a snapshot of the bus status flags.
type Flags struct {
	Error          twi.ErrorFlag
	ReadDataReady  bool
	ReadBusy       bool
	ReadFailed     bool
	WriteOccupancy int
}

// Stats counts what the interrupt handler did since startup.
type Stats struct {
	FramesSent    uint64
	FramesAborted uint64
	BytesSent     uint64
	BytesReceived uint64
	Overruns      uint64
	Unexpected    uint64
	// Stale counts SLA+R frames of abandoned reads, answered with a stop.
	Stale uint64
}

type Controller struct {
	p         Peripheral
	line      *irq.Line
	log       *slog.Logger
	baseClock uint32
	frequency uint32

	wr *ring.WriteBuffer
	rd *ring.ReadBuffer

	state       atomic.Uint32
	errFlag     atomic.Uint32
	readReady   atomic.Bool
	readBusy    atomic.Bool
	readFailed  atomic.Bool
	readPending atomic.Int32  // bytes the in-flight read still expects
	readSeq     atomic.Uint64 // SLA+R frame of the outstanding read, 0 for none
	retiredSeq  atomic.Uint64 // last frame taken off the wire
	aborted     atomic.Uint64 // last frame ended by a NACK: seq<<8 | flag

	readMu sync.Mutex // serializes read requests issued from the main loop

	// interrupt context only
	current   ring.Header
	remaining int
	reading   bool

	framesSent    atomic.Uint64
	framesAborted atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	overruns      atomic.Uint64
	unexpected    atomic.Uint64
	stale         atomic.Uint64
}

// New returns a controller bound to a peripheral. line is the interrupt line
// the peripheral's events are delivered on.
func New(p Peripheral, line *irq.Line, opts ...ConfigOption) (*Controller, error) {
	config := &Config{
		WriteCapacity: DefaultWriteCapacity,
		ReadCapacity:  DefaultReadCapacity,
		BaseClock:     DefaultBaseClock,
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	switch {
	case p == nil:
		return nil, errors.New("controller: peripheral is required")
	case config.WriteCapacity < ring.HeaderSize+1:
		return nil, fmt.Errorf("controller: write capacity %d cannot hold a frame", config.WriteCapacity)
	case config.ReadCapacity < 1:
		return nil, fmt.Errorf("controller: read capacity must be positive, got %d", config.ReadCapacity)
	}
	if line == nil {
		line = &irq.Line{}
	}
	return &Controller{
		p:         p,
		line:      line,
		log:       config.Logger,
		baseClock: config.BaseClock,
		wr:        ring.NewWriteBuffer(config.WriteCapacity),
		rd:        ring.NewReadBuffer(config.ReadCapacity),
	}, nil
}

// Divisor computes the bit rate register value for frequency. Frequencies other
// than StandardMode and FastMode fall back to StandardMode.
func Divisor(baseClock, frequency uint32) (uint8, uint32, error) {
	if frequency != StandardMode && frequency != FastMode {
		frequency = StandardMode
	}
	div := int64(baseClock)/(2*int64(frequency)) - 16
	if div < 0 || div > 0xFF {
		return 0, frequency, fmt.Errorf("%w: %d Hz from %d Hz clock", twi.ErrBitRate, frequency, baseClock)
	}
	return uint8(div), frequency, nil
}

// Init programs the bus speed. It returns the divisor written to the
// peripheral.
func (c *Controller) Init(frequency uint32) (uint8, error) {
	div, actual, err := Divisor(c.baseClock, frequency)
	if err != nil {
		return 0, err
	}
	if actual != frequency {
		c.log.Warn("unsupported bus frequency, using standard mode", "requested", frequency, "actual", actual)
	}
	c.p.SetBitRate(div)
	c.frequency = actual
	c.log.Debug("bus initialized", "frequency", actual, "divisor", div)
	return div, nil
}

// Frequency returns the SCL frequency set by Init.
func (c *Controller) Frequency() uint32 { return c.frequency }

// SendBytes queues a write frame for dev. It returns false if the write buffer
// cannot take the whole frame.
func (c *Controller) SendBytes(dev byte, payload []byte) bool {
	_, ok := c.Send(dev, payload)
	return ok
}

// Send is SendBytes returning the sequence number of the queued frame, which
// FrameResult accepts.
func (c *Controller) Send(dev byte, payload []byte) (uint64, bool) {
	var seq uint64
	ok := c.wr.TryEnqueue(func(first uint64) { seq = first }, ring.Frame{Address: twi.WriteAddress(dev), Payload: payload})
	return seq, ok
}

// SendBatch queues one write frame per payload, all of them or none.
func (c *Controller) SendBatch(dev byte, payloads ...[]byte) bool {
	frames := make([]ring.Frame, len(payloads))
	for i, p := range payloads {
		frames[i] = ring.Frame{Address: twi.WriteAddress(dev), Payload: p}
	}
	return c.wr.TryEnqueue(nil, frames...)
}

// FrameResult reports whether frame seq has left the bus and, if it was the
// most recent frame cut short by a NACK, the error it raised. Only the latest
// aborted frame is remembered.
func (c *Controller) FrameResult(seq uint64) (done bool, flag twi.ErrorFlag) {
	done = c.retiredSeq.Load() >= seq
	if a := c.aborted.Load(); a>>8 == seq {
		flag = twi.ErrorFlag(a & 0xFF)
	}
	return done, flag
}

// SendBytesRepeatedStart queues a write frame that ends with a repeated start
// instead of a stop, keeping the bus for the frame queued after it.
func (c *Controller) SendBytesRepeatedStart(dev byte, payload []byte) bool {
	return c.wr.TryEnqueue(nil, ring.Frame{Address: twi.WriteAddress(dev), Payload: payload, RepeatedStart: true})
}

// RequestRead queues a read of length bytes from dev. It is refused while the
// read buffer holds data or another read is outstanding.
func (c *Controller) RequestRead(dev byte, length int) bool {
	return c.beginRead(length, ring.Frame{Address: twi.ReadAddress(dev)})
}

// RequestRegisterRead queues the register pointer write and the read that
// follows it as one unit, joined by a repeated start.
func (c *Controller) RequestRegisterRead(dev byte, register []byte, length int) bool {
	if len(register) == 0 {
		return c.RequestRead(dev, length)
	}
	return c.beginRead(length,
		ring.Frame{Address: twi.WriteAddress(dev), Payload: register, RepeatedStart: true},
		ring.Frame{Address: twi.ReadAddress(dev)},
	)
}

// beginRead queues frames, the last of which is the SLA+R frame, and makes
// that frame the only one the interrupt handler will receive data for. Frames
// of reads abandoned earlier may still be queued; they are answered with a
// stop when they reach the wire.
func (c *Controller) beginRead(length int, frames ...ring.Frame) bool {
	if length < 1 || length > ring.MaxPayload || length > c.rd.Cap() {
		return false
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.rd.Len() != 0 || c.readPending.Load() != 0 || c.readBusy.Load() {
		return false
	}
	return c.wr.TryEnqueue(func(first uint64) {
		c.line.Masked(func() {
			c.readSeq.Store(first + uint64(len(frames)-1))
			c.readPending.Store(int32(length))
			c.readFailed.Store(false)
			c.readBusy.Store(true)
		})
	}, frames...)
}

// DrainReceived copies length received bytes into dst and completes the read.
// It returns 0, copying nothing, until all length bytes have arrived.
func (c *Controller) DrainReceived(dst []byte, length int) int {
	if length <= 0 || length > len(dst) {
		return 0
	}
	n := c.rd.Drain(dst[:length])
	if n == 0 {
		return 0
	}
	c.readBusy.Store(false)
	c.readReady.Store(c.rd.Len() > 0)
	return n
}

// AbortRead forgets the outstanding read and drops buffered bytes. It is how
// the owner of a failed or timed out read releases the read path.
func (c *Controller) AbortRead() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.line.Masked(func() {
		c.readSeq.Store(0)
		c.readPending.Store(0)
		c.rd.Reset()
		c.readBusy.Store(false)
		c.readFailed.Store(false)
		c.readReady.Store(false)
	})
}

// Tick must be called periodically from the main loop. It issues a start
// condition when frames are waiting and the bus is idle, and recomputes the
// data-ready flag.
func (c *Controller) Tick() {
	if c.wr.Len() > 0 && c.state.CompareAndSwap(uint32(StateIdle), uint32(StateStart)) {
		c.p.Start()
	}
	c.readReady.Store(c.rd.Len() > 0)
}

// Flags returns the current status flags.
func (c *Controller) Flags() Flags {
	return Flags{
		Error:          twi.ErrorFlag(c.errFlag.Load()),
		ReadDataReady:  c.readReady.Load(),
		ReadBusy:       c.readBusy.Load(),
		ReadFailed:     c.readFailed.Load(),
		WriteOccupancy: c.wr.Len(),
	}
}

// Error returns the sticky error flag.
func (c *Controller) Error() twi.ErrorFlag { return twi.ErrorFlag(c.errFlag.Load()) }

// ClearError resets the sticky error flag.
func (c *Controller) ClearError() { c.errFlag.Store(uint32(twi.ErrorNone)) }

func (c *Controller) State() State { return State(c.state.Load()) }

// Busy reports whether frames are waiting or a transaction is on the wire.
func (c *Controller) Busy() bool {
	return c.wr.Len() > 0 || c.State() != StateIdle
}

func (c *Controller) ReadBusy() bool { return c.readBusy.Load() }

func (c *Controller) ReadFailed() bool { return c.readFailed.Load() }

func (c *Controller) WriteFree() int { return c.wr.Free() }

func (c *Controller) WriteCapacity() int { return c.wr.Cap() }

func (c *Controller) ReadCapacity() int { return c.rd.Cap() }

func (c *Controller) Stats() Stats {
	return Stats{
		FramesSent:    c.framesSent.Load(),
		FramesAborted: c.framesAborted.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		Overruns:      c.overruns.Load(),
		Unexpected:    c.unexpected.Load(),
		Stale:         c.stale.Load(),
	}
}
