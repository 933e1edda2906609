// Package scheduler provides an in-memory implementation of the external
// Scheduler capability: slot-granular capacity budgeting plus a pending
// callback book. Tests and single-process deployments drive delivery
// themselves; the engine only ever talks to the ports.Scheduler contract.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/meterpay/meterpay/ports"
)

var (
	// ErrSlotFull is returned when a slot cannot absorb the requested budget.
	ErrSlotFull = errors.New("scheduler slot has no remaining capacity")

	// ErrUnknownHandle is returned when cancelling a handle that is not pending.
	ErrUnknownHandle = errors.New("unknown schedule handle")
)

// Callback is one pending scheduled invocation.
type Callback struct {
	Handle    string
	Target    string
	StreamID  int64
	NotBefore time.Time
	Budget    int64
}

// Memory is a slot-based in-memory scheduler.
type Memory struct {
	mu          sync.Mutex
	granularity time.Duration
	slotBudget  int64
	used        map[int64]int64 // slot index -> consumed budget
	pending     map[string]Callback
	nextHandle  uint64
}

// Config configures the in-memory scheduler.
type Config struct {
	Granularity time.Duration // slot width (default 1m)
	SlotBudget  int64         // resource units per slot (default 100)
}

// NewMemory creates an in-memory scheduler.
func NewMemory(cfg Config) *Memory {
	if cfg.Granularity <= 0 {
		cfg.Granularity = time.Minute
	}
	if cfg.SlotBudget <= 0 {
		cfg.SlotBudget = 100
	}
	return &Memory{
		granularity: cfg.Granularity,
		slotBudget:  cfg.SlotBudget,
		used:        make(map[int64]int64),
		pending:     make(map[string]Callback),
	}
}

func (m *Memory) slot(t time.Time) int64 {
	return t.UnixNano() / int64(m.granularity)
}

// RequestCallback books an invocation at or after notBefore, consuming
// resourceBudget from the containing slot.
func (m *Memory) RequestCallback(ctx context.Context, target string, streamID int64, notBefore time.Time, resourceBudget int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.slot(notBefore)
	if m.used[slot]+resourceBudget > m.slotBudget {
		return "", ErrSlotFull
	}
	m.used[slot] += resourceBudget

	m.nextHandle++
	handle := "sched-" + strconv.FormatUint(m.nextHandle, 10)
	m.pending[handle] = Callback{
		Handle:    handle,
		Target:    target,
		StreamID:  streamID,
		NotBefore: notBefore,
		Budget:    resourceBudget,
	}
	return handle, nil
}

// HasCapacity reports whether the slot containing t can absorb resourceBudget.
func (m *Memory) HasCapacity(ctx context.Context, t time.Time, resourceBudget int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[m.slot(t)]+resourceBudget <= m.slotBudget, nil
}

// Cancel withdraws a pending callback and releases its slot budget.
func (m *Memory) Cancel(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.pending[handle]
	if !ok {
		return ErrUnknownHandle
	}
	delete(m.pending, handle)
	m.used[m.slot(cb.NotBefore)] -= cb.Budget
	return nil
}

// Due removes and returns all callbacks whose notBefore is at or before now,
// ordered by notBefore. The caller is the delivery driver.
func (m *Memory) Due(now time.Time) []Callback {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Callback
	for h, cb := range m.pending {
		if !cb.NotBefore.After(now) {
			due = append(due, cb)
			delete(m.pending, h)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NotBefore.Before(due[j].NotBefore) })
	return due
}

// Pending returns the number of pending callbacks (for testing).
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PendingFor returns the pending callbacks for one stream (for testing).
func (m *Memory) PendingFor(streamID int64) []Callback {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Callback
	for _, cb := range m.pending {
		if cb.StreamID == streamID {
			out = append(out, cb)
		}
	}
	return out
}

// FillSlot exhausts the slot containing t so further requests fail
// (for testing congestion).
func (m *Memory) FillSlot(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[m.slot(t)] = m.slotBudget
}

// Ensure interface compliance.
var _ ports.Scheduler = (*Memory)(nil)
