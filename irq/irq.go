// Package irq models the interrupt/main-loop split of a single-core MCU on a
// hosted Go runtime. A Line serializes interrupt handler invocations against
// masked sections of main-loop code, the same guarantee cli/sei gives on the
// real part.
package irq

import "sync"

// Line is one interrupt vector. The zero value is ready to use.
type Line struct {
	mu sync.Mutex
}

// Fire runs handler in interrupt context. It blocks while the main loop holds
// the line disabled.
func (l *Line) Fire(handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	handler()
}

// Disable masks the line and returns the function that restores it.
//
//	restore := line.Disable()
//	defer restore()
func (l *Line) Disable() (restore func()) {
	l.mu.Lock()
	return l.mu.Unlock
}

// Masked runs fn with the line disabled.
func (l *Line) Masked(fn func()) {
	restore := l.Disable()
	defer restore()
	fn()
}
