// Package clock provides the wall and fake time sources behind ports.Clock.
package clock

import (
	"sync"
	"time"

	"github.com/meterpay/meterpay/ports"
)

// Real reads the wall clock.
type Real struct{}

// Now returns the current wall time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a hand-driven clock. Settlement timing tests advance it explicitly
// instead of sleeping, so interval boundaries land exactly where asserted.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set jumps the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
	return f.current
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
