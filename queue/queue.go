// Package queue implements the read-request queue device drivers use to read
// registers through the non-blocking bus controller. A queue belongs to one
// device. It holds pending reads in FIFO order and moves at most one of them
// onto the bus per Tick; the controller itself admits a single outstanding
// read, so any number of queues may share one bus.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/twi/ring"
)

const (
	DefaultCapacity = 30
	// DefaultMargin is the write buffer space left to other writers when a
	// read is issued.
	DefaultMargin = 6
)

var (
	ErrReadFailed = errors.New("device did not acknowledge read")
	ErrTimeout    = errors.New("read timed out")
)

// Bus is the part of the controller a queue drives.
type Bus interface {
	RequestRead(dev byte, length int) bool
	RequestRegisterRead(dev byte, register []byte, length int) bool
	DrainReceived(dst []byte, length int) int
	WriteFree() int
	ReadBusy() bool
	ReadFailed() bool
	AbortRead()
}

type Config struct {
	// Name identifies the queue in logs.
	Name   string
	Device byte
	// RegisterWidth is the register pointer size in bytes: 0 for devices
	// read without a pointer write, 1 or 2 (sent most significant first).
	RegisterWidth int
	Capacity      int
	Margin        int
	// Timeout is the number of ticks an issued read may wait for its data.
	// Zero waits forever.
	Timeout int
	// Retries is how many times a failed or timed out read is issued again
	// before it is retired with an error.
	Retries int
	Logger  *slog.Logger
}

// Request is one logical read. Dst must stay valid and untouched until the
// request completes.
type Request struct {
	Register uint16
	Length   int
	Dst      []byte
	// Done is called from Tick when the request retires. err is nil when Dst
	// holds the data.
	Done func(err error)
}

type Stats struct {
	Enqueued  uint64
	Rejected  uint64
	Issued    uint64
	Completed uint64
	Retried   uint64
	Failed    uint64
	TimedOut  uint64
}

type Queue struct {
	mu    sync.Mutex
	bus   Bus
	cfg   Config
	log   *slog.Logger
	buf   []Request
	head  int
	count int
	reg   [2]byte
	stats Stats

	current  *Request // popped head, issued or awaiting reissue
	issued   bool
	age      int
	attempts int
}

func New(bus Bus, cfg Config) (*Queue, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Margin == 0 {
		cfg.Margin = DefaultMargin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("dev-%#02x", cfg.Device)
	}
	switch {
	case cfg.Capacity < 1:
		return nil, fmt.Errorf("queue %s: capacity must be positive", cfg.Name)
	case cfg.Margin < 0:
		return nil, fmt.Errorf("queue %s: margin must not be negative", cfg.Name)
	case cfg.RegisterWidth < 0 || cfg.RegisterWidth > 2:
		return nil, fmt.Errorf("queue %s: register width %d not supported", cfg.Name, cfg.RegisterWidth)
	case cfg.Timeout < 0 || cfg.Retries < 0:
		return nil, fmt.Errorf("queue %s: timeout and retries must not be negative", cfg.Name)
	}
	return &Queue{
		bus: bus,
		cfg: cfg,
		log: cfg.Logger.With("queue", cfg.Name),
		buf: make([]Request, cfg.Capacity),
	}, nil
}

// EnqueueRead queues a read of length bytes from register into dst. It
// returns false if the queue is full or the request is malformed.
func (q *Queue) EnqueueRead(register uint16, length int, dst []byte) bool {
	return q.Enqueue(Request{Register: register, Length: length, Dst: dst})
}

func (q *Queue) Enqueue(r Request) bool {
	if r.Length < 1 || r.Length > ring.MaxPayload || len(r.Dst) < r.Length {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.buf) {
		q.stats.Rejected++
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = r
	q.count++
	q.stats.Enqueued++
	return true
}

// Tick completes the in-flight read if its data has arrived, otherwise issues
// the next queued read when the bus can take it. It never blocks.
func (q *Queue) Tick() {
	q.mu.Lock()
	done, err := q.tick()
	q.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (q *Queue) tick() (func(error), error) {
	if q.issued {
		return q.poll()
	}
	if q.current == nil && q.count == 0 {
		return nil, nil
	}
	if q.bus.ReadBusy() || q.bus.WriteFree() <= q.cfg.Margin {
		return nil, nil
	}
	req := q.current
	if req == nil {
		req = &q.buf[q.head]
	}
	if !q.issue(req) {
		return nil, nil
	}
	if q.current == nil {
		r := *req
		q.buf[q.head] = Request{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.current = &r
		q.attempts = 0
	}
	q.issued = true
	q.age = 0
	q.stats.Issued++
	q.log.Debug("read issued", "register", q.current.Register, "length", q.current.Length, "attempt", q.attempts)
	return nil, nil
}

func (q *Queue) issue(r *Request) bool {
	switch q.cfg.RegisterWidth {
	case 0:
		return q.bus.RequestRead(q.cfg.Device, r.Length)
	case 1:
		q.reg[0] = byte(r.Register)
		return q.bus.RequestRegisterRead(q.cfg.Device, q.reg[:1], r.Length)
	default:
		q.reg[0] = byte(r.Register >> 8)
		q.reg[1] = byte(r.Register)
		return q.bus.RequestRegisterRead(q.cfg.Device, q.reg[:2], r.Length)
	}
}

func (q *Queue) poll() (func(error), error) {
	r := q.current
	if q.bus.ReadFailed() {
		q.bus.AbortRead()
		return q.retryOrRetire(ErrReadFailed)
	}
	if q.bus.DrainReceived(r.Dst, r.Length) == r.Length {
		q.stats.Completed++
		return q.retire(nil)
	}
	q.age++
	if q.cfg.Timeout > 0 && q.age >= q.cfg.Timeout {
		q.bus.AbortRead()
		return q.retryOrRetire(ErrTimeout)
	}
	return nil, nil
}

// retryOrRetire keeps the failed request at the front for reissue while
// retries remain.
func (q *Queue) retryOrRetire(cause error) (func(error), error) {
	q.issued = false
	if q.attempts < q.cfg.Retries {
		q.attempts++
		q.stats.Retried++
		q.log.Debug("read retry", "register", q.current.Register, "cause", cause, "attempt", q.attempts)
		return nil, nil
	}
	if errors.Is(cause, ErrTimeout) {
		q.stats.TimedOut++
	} else {
		q.stats.Failed++
	}
	q.log.Warn("read dropped", "register", q.current.Register, "error", cause)
	return q.retire(fmt.Errorf("queue %s register %#04x: %w", q.cfg.Name, q.current.Register, cause))
}

func (q *Queue) retire(err error) (func(error), error) {
	done := q.current.Done
	q.current = nil
	q.issued = false
	q.age = 0
	return done, err
}

// Len returns the number of requests waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Pending counts queued requests plus the current one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil {
		return q.count + 1
	}
	return q.count
}

// InFlight reports whether a read of this queue is on the bus.
func (q *Queue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.issued
}

// Idle reports whether the queue has nothing left to do.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == 0 && q.current == nil
}

func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
