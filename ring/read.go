package ring

import "sync/atomic"

// ReadBuffer holds raw received bytes. The interrupt handler is the only
// producer and the poller the only consumer.
type ReadBuffer struct {
	buf  []byte
	used atomic.Int32
	head int // producer side
	tail int // consumer side
}

func NewReadBuffer(capacity int) *ReadBuffer {
	if capacity < 1 {
		panic("ring: read buffer capacity must be positive")
	}
	return &ReadBuffer{buf: make([]byte, capacity)}
}

func (r *ReadBuffer) Cap() int { return len(r.buf) }

func (r *ReadBuffer) Len() int { return int(r.used.Load()) }

// EnqueueByte stores a byte. It returns false if the buffer is full.
func (r *ReadBuffer) EnqueueByte(b byte) bool {
	if int(r.used.Load()) == len(r.buf) {
		return false
	}
	r.buf[r.head] = b
	r.head = (r.head + 1) % len(r.buf)
	r.used.Add(1) // release
	return true
}

// DequeueByte returns the oldest byte.
func (r *ReadBuffer) DequeueByte() (byte, bool) {
	if r.used.Load() == 0 {
		return 0, false
	}
	b := r.buf[r.tail]
	r.tail = (r.tail + 1) % len(r.buf)
	r.used.Add(-1)
	return b, true
}

// Drain copies exactly len(dst) bytes out of the buffer. It copies nothing and
// returns 0 when fewer bytes are buffered.
func (r *ReadBuffer) Drain(dst []byte) int {
	n := len(dst)
	if n == 0 || n > int(r.used.Load()) {
		return 0
	}
	for i := range dst {
		dst[i] = r.buf[r.tail]
		r.tail = (r.tail + 1) % len(r.buf)
	}
	r.used.Add(int32(-n))
	return n
}

// Reset drops whatever is buffered. Consumer side only.
func (r *ReadBuffer) Reset() int {
	n := int(r.used.Load())
	r.tail = (r.tail + n) % len(r.buf)
	r.used.Add(int32(-n))
	return n
}
