package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRequestCallbackConsumesBudget(t *testing.T) {
	m := NewMemory(Config{Granularity: time.Minute, SlotBudget: 2})
	ctx := context.Background()

	if _, err := m.RequestCallback(ctx, "settle", 1, base, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestCallback(ctx, "settle", 2, base.Add(30*time.Second), 1); err != nil {
		t.Fatal(err)
	}

	// Slot is full now.
	if _, err := m.RequestCallback(ctx, "settle", 3, base, 1); !errors.Is(err, ErrSlotFull) {
		t.Errorf("third request: got %v, want ErrSlotFull", err)
	}
	if ok, _ := m.HasCapacity(ctx, base, 1); ok {
		t.Error("HasCapacity should report false for a full slot")
	}

	// The next slot is untouched.
	if ok, _ := m.HasCapacity(ctx, base.Add(time.Minute), 1); !ok {
		t.Error("HasCapacity should report true for the next slot")
	}
}

func TestCancelReleasesBudget(t *testing.T) {
	m := NewMemory(Config{Granularity: time.Minute, SlotBudget: 1})
	ctx := context.Background()

	handle, err := m.RequestCallback(ctx, "settle", 1, base, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Cancel(ctx, handle); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.HasCapacity(ctx, base, 1); !ok {
		t.Error("budget not released after cancel")
	}
	if err := m.Cancel(ctx, handle); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("double cancel: got %v, want ErrUnknownHandle", err)
	}
}

func TestDueReturnsOrderedAndRemoves(t *testing.T) {
	m := NewMemory(Config{})
	ctx := context.Background()

	if _, err := m.RequestCallback(ctx, "settle", 2, base.Add(10*time.Minute), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestCallback(ctx, "settle", 1, base.Add(5*time.Minute), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestCallback(ctx, "settle", 3, base.Add(2*time.Hour), 1); err != nil {
		t.Fatal(err)
	}

	due := m.Due(base.Add(15 * time.Minute))
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].StreamID != 1 || due[1].StreamID != 2 {
		t.Errorf("due order = [%d, %d], want [1, 2]", due[0].StreamID, due[1].StreamID)
	}
	if m.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", m.Pending())
	}

	// Nothing is delivered twice.
	if again := m.Due(base.Add(15 * time.Minute)); len(again) != 0 {
		t.Errorf("second Due returned %d callbacks", len(again))
	}
}

func TestFillSlot(t *testing.T) {
	m := NewMemory(Config{Granularity: time.Minute, SlotBudget: 100})
	ctx := context.Background()

	m.FillSlot(base)
	if ok, _ := m.HasCapacity(ctx, base.Add(20*time.Second), 1); ok {
		t.Error("filled slot should have no capacity")
	}
	if _, err := m.RequestCallback(ctx, "settle", 1, base, 1); !errors.Is(err, ErrSlotFull) {
		t.Errorf("got %v, want ErrSlotFull", err)
	}
}

func TestPendingFor(t *testing.T) {
	m := NewMemory(Config{})
	ctx := context.Background()

	if _, err := m.RequestCallback(ctx, "settle", 1, base, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestCallback(ctx, "settle", 2, base.Add(time.Minute), 1); err != nil {
		t.Fatal(err)
	}

	if got := m.PendingFor(1); len(got) != 1 || got[0].StreamID != 1 {
		t.Errorf("PendingFor(1) = %+v", got)
	}
	if got := m.PendingFor(99); len(got) != 0 {
		t.Errorf("PendingFor(99) = %+v, want empty", got)
	}
}
