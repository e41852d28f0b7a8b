package sim

import "sync"

// Memory is a register file or EEPROM style target. The first width bytes of
// every write transaction set the internal pointer (most significant byte
// first); later bytes are stored and advance the pointer. Reads return bytes
// from the pointer on, advancing it. With a page size set, writes wrap inside
// the current page the way serial EEPROMs do.
type Memory struct {
	mu       sync.Mutex
	address  byte
	data     []byte
	width    int
	pageSize int

	ptr       int
	ptrBytes  int
	written   int
	nackAfter int
	absent    bool
	writes    int
}

type MemoryOption func(*Memory)

// WithPageSize makes data writes wrap at page boundaries.
func WithPageSize(n int) MemoryOption {
	return func(m *Memory) {
		m.pageSize = n
	}
}

// WithContents preloads the memory from address 0.
func WithContents(data []byte) MemoryOption {
	return func(m *Memory) {
		copy(m.data, data)
	}
}

// NewMemory returns a size byte memory at address whose pointer is width
// bytes wide.
func NewMemory(address byte, size, width int, opts ...MemoryOption) *Memory {
	if size < 1 {
		size = 1
	}
	if width < 1 {
		width = 1
	}
	m := &Memory{
		address:   address,
		data:      make([]byte, size),
		width:     width,
		nackAfter: -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Address() byte { return m.address }

func (m *Memory) Begin(read bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.absent {
		return false
	}
	if !read {
		m.ptrBytes = 0
		m.written = 0
	}
	return true
}

func (m *Memory) Receive(b byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptrBytes < m.width {
		if m.ptrBytes == 0 {
			m.ptr = 0
		}
		m.ptr = m.ptr<<8 | int(b)
		m.ptrBytes++
		if m.ptrBytes == m.width {
			m.ptr %= len(m.data)
		}
		return true
	}
	if m.nackAfter >= 0 && m.written >= m.nackAfter {
		return false
	}
	m.data[m.ptr] = b
	m.written++
	m.writes++
	if m.pageSize > 0 {
		base := m.ptr - m.ptr%m.pageSize
		m.ptr = (base + (m.ptr+1-base)%m.pageSize) % len(m.data)
	} else {
		m.ptr = (m.ptr + 1) % len(m.data)
	}
	return true
}

func (m *Memory) Transmit() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.data[m.ptr]
	m.ptr = (m.ptr + 1) % len(m.data)
	return b
}

func (m *Memory) End() {}

// SetPresent makes the target answer (true) or ignore (false) its address.
func (m *Memory) SetPresent(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absent = !present
}

// NackDataAfter makes the target refuse data bytes past the first n of every
// write transaction. Negative n disables it.
func (m *Memory) NackDataAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nackAfter = n
}

// Dump returns a copy of n bytes from offset, wrapping at the end.
func (m *Memory) Dump(offset, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = m.data[(offset+i)%len(m.data)]
	}
	return out
}

// Poke stores data from offset without touching the pointer.
func (m *Memory) Poke(offset int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		m.data[(offset+i)%len(m.data)] = b
	}
}

// Writes returns the number of data bytes stored over the bus.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Size() int { return len(m.data) }
