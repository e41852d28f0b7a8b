// Package ring holds the two circular buffers shared between the bus interrupt
// handler and the main loop.
//
// Both buffers keep an explicit occupancy counter; indices are owned by exactly
// one side (head by the producer, tail by the consumer) and the counter is the
// only field both sides touch. Producers publish with a single atomic add after
// the bytes are in place, so a consumer never observes a partially written frame.
package ring

import (
	"sync"
	"sync/atomic"
)

// HeaderSize is the number of framing bytes (address and length) in front of
// every payload in the write buffer.
const HeaderSize = 2

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 255

// Frame is one outgoing transaction. RepeatedStart asks for the frame to end
// with a repeated start instead of a stop.
type Frame struct {
	Address       byte
	Payload       []byte
	RepeatedStart bool
}

// Size returns the number of buffer bytes the frame occupies.
func (f Frame) Size() int {
	return HeaderSize + len(f.Payload)
}

// Header is the frame prefix handed to the consumer. Seq numbers frames in
// enqueue order starting at 1 and never wraps in practice.
type Header struct {
	Address       byte
	Length        byte
	Seq           uint64
	RepeatedStart bool
}

// WriteBuffer is the framed outgoing buffer. Any number of goroutines may
// produce; a single consumer (the interrupt handler) drains it.
type WriteBuffer struct {
	buf  []byte
	used atomic.Int32
	// marks holds the repeated start request of the frame whose header
	// starts at the same index of buf.
	marks []bool

	mu       sync.Mutex // producer side
	head     int
	enqueued uint64

	tail     int // consumer side
	dequeued uint64
}

func NewWriteBuffer(capacity int) *WriteBuffer {
	if capacity < HeaderSize+1 {
		panic("ring: write buffer capacity must hold at least one single-byte frame")
	}
	return &WriteBuffer{buf: make([]byte, capacity), marks: make([]bool, capacity)}
}

// Cap returns the fixed capacity in bytes.
func (w *WriteBuffer) Cap() int { return len(w.buf) }

// Len returns the number of bytes currently buffered.
func (w *WriteBuffer) Len() int { return int(w.used.Load()) }

// Free returns the remaining capacity in bytes.
func (w *WriteBuffer) Free() int { return len(w.buf) - w.Len() }

// TryEnqueueFrame appends a single frame. It returns false, leaving the buffer
// untouched, when the frame does not fit.
func (w *WriteBuffer) TryEnqueueFrame(address byte, payload []byte) bool {
	return w.TryEnqueue(nil, Frame{Address: address, Payload: payload})
}

// TryEnqueue appends frames all-or-nothing. If commit is non-nil it is called
// with the sequence number of the first frame while the producer lock is held
// and before any of the frames become visible to the consumer.
func (w *WriteBuffer) TryEnqueue(commit func(first uint64), frames ...Frame) bool {
	total := 0
	for _, f := range frames {
		if len(f.Payload) > MaxPayload {
			return false
		}
		total += f.Size()
	}
	if total == 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if total > len(w.buf)-int(w.used.Load()) {
		return false
	}
	if commit != nil {
		commit(w.enqueued + 1)
	}
	for _, f := range frames {
		w.marks[w.head] = f.RepeatedStart
		w.put(f.Address)
		w.put(byte(len(f.Payload)))
		for _, b := range f.Payload {
			w.put(b)
		}
		w.enqueued++
	}
	w.used.Add(int32(total)) // release
	return true
}

func (w *WriteBuffer) put(b byte) {
	w.buf[w.head] = b
	w.head = (w.head + 1) % len(w.buf)
}

// TryDequeueFrameHeader pops the next frame header. It fails, consuming
// nothing, when fewer than two bytes are buffered or when the declared payload
// length exceeds what is buffered behind the header.
func (w *WriteBuffer) TryDequeueFrameHeader() (Header, bool) {
	used := int(w.used.Load()) // acquire
	if used < HeaderSize {
		return Header{}, false
	}
	address := w.buf[w.tail]
	length := w.buf[(w.tail+1)%len(w.buf)]
	if int(length) > used-HeaderSize {
		return Header{}, false
	}
	repeated := w.marks[w.tail]
	w.tail = (w.tail + HeaderSize) % len(w.buf)
	w.used.Add(-HeaderSize)
	w.dequeued++
	return Header{Address: address, Length: length, Seq: w.dequeued, RepeatedStart: repeated}, true
}

// DequeueByte pops one payload byte.
func (w *WriteBuffer) DequeueByte() (byte, bool) {
	if w.used.Load() == 0 {
		return 0, false
	}
	b := w.buf[w.tail]
	w.tail = (w.tail + 1) % len(w.buf)
	w.used.Add(-1)
	return b, true
}

// Discard drops up to n bytes from the consumer end and returns how many were
// dropped.
func (w *WriteBuffer) Discard(n int) int {
	used := int(w.used.Load())
	if n > used {
		n = used
	}
	if n <= 0 {
		return 0
	}
	w.tail = (w.tail + n) % len(w.buf)
	w.used.Add(int32(-n))
	return n
}

// Tail returns the consumer index. It is only meaningful to the consumer.
func (w *WriteBuffer) Tail() int { return w.tail }
