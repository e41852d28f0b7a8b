// Package sim is a software two-wire peripheral. It accepts the controller's
// commands, plays the slave side against attached targets and reports one
// status event per command, delivered in interrupt context through an
// irq.Line. Events are queued until Step (or Run) delivers them, so tests can
// advance the bus one protocol step at a time.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/twi"
	"github.com/mklimuk/twi/irq"
)

// Target is a slave device on the simulated bus.
type Target interface {
	Address() byte
	// Begin is called when the target is addressed. Returning false NACKs
	// the address.
	Begin(read bool) bool
	// Receive takes one data byte written by the master. Returning false
	// NACKs it.
	Receive(b byte) bool
	// Transmit supplies the next byte the master clocks in.
	Transmit() byte
	// End is called on stop or repeated start.
	End()
}

type phase int

const (
	phaseIdle phase = iota
	phaseAddress
	phaseWrite
	phaseRead
	phaseRejected
)

type Bus struct {
	mu      sync.Mutex
	line    *irq.Line
	handler func(twi.Status)
	targets map[byte]Target
	events  []twi.Status
	signal  chan struct{}

	held    bool
	phase   phase
	active  Target
	data    byte
	divisor uint8

	records []Record
}

func NewBus(line *irq.Line, targets ...Target) *Bus {
	if line == nil {
		line = &irq.Line{}
	}
	b := &Bus{
		line:    line,
		targets: make(map[byte]Target),
		signal:  make(chan struct{}, 1),
	}
	for _, t := range targets {
		b.targets[t.Address()] = t
	}
	return b
}

// Attach installs the interrupt handler events are delivered to.
func (b *Bus) Attach(handler func(twi.Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

func (b *Bus) AddTarget(t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[t.Address()] = t
}

func (b *Bus) RemoveTarget(address byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.targets, address)
}

// Addresses lists attached target addresses.
func (b *Bus) Addresses() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, len(b.targets))
	for a := range b.targets {
		out = append(out, a)
	}
	return out
}

func (b *Bus) Divisor() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.divisor
}

// Held reports whether the bus is between a start and a stop.
func (b *Bus) Held() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held
}

func (b *Bus) emit(ev twi.Status) {
	b.events = append(b.events, ev)
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Bus) record(r Record) {
	b.records = append(b.records, r)
}

func (b *Bus) release() {
	if b.active != nil {
		b.active.End()
		b.active = nil
	}
}

// SetBitRate implements controller.Peripheral.
func (b *Bus) SetBitRate(divisor uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.divisor = divisor
}

func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held {
		b.release()
		b.record(Record{Kind: KindRepeatedStart})
		b.phase = phaseAddress
		b.emit(twi.StatusRepeatedStart)
		return
	}
	b.held = true
	b.phase = phaseAddress
	b.record(Record{Kind: KindStart})
	b.emit(twi.StatusStart)
}

func (b *Bus) RepeatedStart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	b.held = true
	b.phase = phaseAddress
	b.record(Record{Kind: KindRepeatedStart})
	b.emit(twi.StatusRepeatedStart)
}

func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	b.held = false
	b.phase = phaseIdle
	b.record(Record{Kind: KindStop})
}

func (b *Bus) Transmit(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.phase {
	case phaseAddress:
		read := v&1 == 1
		t := b.targets[v>>1]
		ack := t != nil && t.Begin(read)
		b.record(Record{Kind: KindWrite, Byte: v, Ack: ack})
		switch {
		case ack && read:
			b.active = t
			b.phase = phaseRead
			b.emit(twi.StatusAddrReadAck)
		case ack:
			b.active = t
			b.phase = phaseWrite
			b.emit(twi.StatusAddrWriteAck)
		case read:
			b.phase = phaseRejected
			b.emit(twi.StatusAddrReadNack)
		default:
			b.phase = phaseRejected
			b.emit(twi.StatusAddrWriteNack)
		}
	case phaseWrite:
		ack := b.active.Receive(v)
		b.record(Record{Kind: KindWrite, Byte: v, Ack: ack})
		if ack {
			b.emit(twi.StatusDataWriteAck)
		} else {
			b.phase = phaseRejected
			b.emit(twi.StatusDataWriteNack)
		}
	default:
		b.record(Record{Kind: KindIgnored, Byte: v})
	}
}

func (b *Bus) Received() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *Bus) Continue(ack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != phaseRead {
		b.record(Record{Kind: KindIgnored})
		return
	}
	b.data = b.active.Transmit()
	b.record(Record{Kind: KindRead, Byte: b.data, Ack: ack})
	if ack {
		b.emit(twi.StatusDataReadAck)
	} else {
		b.emit(twi.StatusDataReadNack)
	}
}

// Pending returns the number of undelivered events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Step delivers the oldest pending event to the handler in interrupt context.
// It returns false if there was nothing to deliver.
func (b *Bus) Step() bool {
	b.mu.Lock()
	if len(b.events) == 0 || b.handler == nil {
		b.mu.Unlock()
		return false
	}
	ev := b.events[0]
	b.events = b.events[1:]
	handler := b.handler
	b.mu.Unlock()

	b.line.Fire(func() { handler(ev) })
	return true
}

// Settle delivers events until none are pending or limit events were
// delivered. It returns the number delivered.
func (b *Bus) Settle(limit int) int {
	n := 0
	for n < limit && b.Step() {
		n++
	}
	return n
}

// Tick delivers everything pending. It lets a synchronous main loop stand in
// for the interrupt controller.
func (b *Bus) Tick() {
	b.Settle(1 << 16)
}

// Run delivers events as they are raised until ctx is done. It plays the role
// of the interrupt controller when the main loop runs in another goroutine.
func (b *Bus) Run(ctx context.Context) {
	for {
		for b.Step() {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		}
	}
}

// Records returns a copy of the wire log.
func (b *Bus) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

func (b *Bus) ClearRecords() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
}

type Kind int

const (
	KindStart Kind = iota
	KindRepeatedStart
	KindStop
	KindWrite
	KindRead
	KindIgnored
)

// Record is one condition or byte seen on the wire.
type Record struct {
	Kind Kind
	Byte byte
	Ack  bool
}

func (r Record) String() string {
	switch r.Kind {
	case KindStart:
		return "START"
	case KindRepeatedStart:
		return "SR"
	case KindStop:
		return "STOP"
	case KindWrite:
		return fmt.Sprintf("W %#04x %s", r.Byte, ackString(r.Ack))
	case KindRead:
		return fmt.Sprintf("R %#04x %s", r.Byte, ackString(r.Ack))
	default:
		return fmt.Sprintf("IGNORED %#04x", r.Byte)
	}
}

func ackString(ack bool) string {
	if ack {
		return "ACK"
	}
	return "NACK"
}
