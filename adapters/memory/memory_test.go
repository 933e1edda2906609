package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meterpay/meterpay/domain/event"
	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStream(payee string) stream.Stream {
	return stream.New(0, stream.CreateParams{
		Payer:              "payer-1",
		Payee:              payee,
		AuthorizedReporter: "ab12",
		BaseRatePerUnit:    100,
		MaxPayPerInterval:  1000,
		SettlementInterval: time.Hour,
		Deposit:            500,
	}, t0)
}

func TestStreamStoreCRUD(t *testing.T) {
	s := NewStreamStore()
	ctx := context.Background()

	id1, err := s.Create(ctx, newStream("a"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Create(ctx, newStream("b"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 != 1 || id2 != 2 {
		t.Errorf("ids = %d, %d; want monotone from 1", id1, id2)
	}

	rec, err := s.Get(ctx, id2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Payee != "b" {
		t.Errorf("Payee = %q, want %q", rec.Payee, "b")
	}

	rec.DepositBalance = 900
	if err := s.Update(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.Get(ctx, id2)
	if rec.DepositBalance != 900 {
		t.Errorf("DepositBalance = %d after update, want 900", rec.DepositBalance)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Errorf("List() = %+v, want two records ordered by id", list)
	}
}

func TestStreamStoreNotFound(t *testing.T) {
	s := NewStreamStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, 42); !errors.Is(err, stream.ErrStreamNotFound) {
		t.Errorf("Get: got %v, want ErrStreamNotFound", err)
	}
	if err := s.Update(ctx, stream.Stream{ID: 42}); !errors.Is(err, stream.ErrStreamNotFound) {
		t.Errorf("Update: got %v, want ErrStreamNotFound", err)
	}
}

func TestStreamStoreSnapshots(t *testing.T) {
	s := NewStreamStore()
	ctx := context.Background()

	id, _ := s.Create(ctx, newStream("a"))
	for i, bps := range []int64{10_000, 11_500, 14_000} {
		snap := pricing.NewSnapshot(id, 100, bps, t0.Add(time.Duration(i)*time.Minute))
		if err := s.AppendSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	history, err := s.Snapshots(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	if history[0].CongestionBps != 10_000 || history[2].CongestionBps != 14_000 {
		t.Errorf("history out of order: %+v", history)
	}

	if empty, _ := s.Snapshots(ctx, 99); len(empty) != 0 {
		t.Errorf("unknown stream history = %+v, want empty", empty)
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	if err := l.Send(ctx, "payee-1", 500, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.Send(ctx, "payee-1", 200, 1); err != nil {
		t.Fatal(err)
	}
	if got := l.Balance("payee-1"); got != 700 {
		t.Errorf("Balance = %d, want 700", got)
	}
	if got := l.Balance("other"); got != 0 {
		t.Errorf("unknown payee balance = %d, want 0", got)
	}
	if got := len(l.Transfers()); got != 2 {
		t.Errorf("transfers = %d, want 2", got)
	}
}

func TestLedgerFailNext(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	boom := errors.New("wire down")

	l.FailNext(boom)
	if err := l.Send(ctx, "payee-1", 100, 1); !errors.Is(err, boom) {
		t.Fatalf("got %v, want injected error", err)
	}
	if got := l.Balance("payee-1"); got != 0 {
		t.Errorf("failed send credited %d", got)
	}

	// Only the next send fails.
	if err := l.Send(ctx, "payee-1", 100, 1); err != nil {
		t.Errorf("second send: %v", err)
	}
}

func TestEventRecorder(t *testing.T) {
	r := NewEventRecorder()
	ctx := context.Background()

	r.Emit(ctx, event.Event{ID: "1", Type: event.StreamCreated, StreamID: 1})
	r.Emit(ctx, event.Event{ID: "2", Type: event.SettlementExecuted, StreamID: 1})
	r.Emit(ctx, event.Event{ID: "3", Type: event.SettlementExecuted, StreamID: 2})

	if got := len(r.Events()); got != 3 {
		t.Errorf("Events() = %d, want 3", got)
	}
	settled := r.OfType(event.SettlementExecuted)
	if len(settled) != 2 || settled[0].ID != "2" {
		t.Errorf("OfType = %+v", settled)
	}

	r.Clear()
	if got := len(r.Events()); got != 0 {
		t.Errorf("Events() after Clear = %d, want 0", got)
	}
}
