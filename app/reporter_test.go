package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/adapters/random"
	"github.com/meterpay/meterpay/adapters/signer"
	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
)

func newReporterFixture(t *testing.T) (*fixture, *Reporter) {
	t.Helper()
	f := newFixture(t)

	r := NewReporter(
		f.engine, f.signer, random.NewDeterministic(7), f.clock,
		pricing.DefaultBands(), pricing.DefaultLadder(), zerolog.Nop(),
		ReporterConfig{
			Interval:      time.Hour,
			RetryAttempts: 2,
			RetryDelay:    time.Millisecond,
			MinDelta:      5,
			MaxDelta:      5,
		},
	)
	return f, r
}

func TestSyncTracksOnlyAuthorizedStreams(t *testing.T) {
	f, r := newReporterFixture(t)
	ctx := context.Background()

	mine := f.create(t, nil)
	theirs := f.create(t, func(p *stream.CreateParams) {
		other, err := signer.GenerateSigner()
		if err != nil {
			t.Fatal(err)
		}
		p.AuthorizedReporter = other.Identity()
	})

	if err := r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if err := r.SubmitOnce(ctx, mine); err != nil {
		t.Errorf("own stream: %v", err)
	}
	if err := r.SubmitOnce(ctx, theirs); !errors.Is(err, stream.ErrStreamNotFound) {
		t.Errorf("foreign stream: got %v, want ErrStreamNotFound", err)
	}
}

func TestSubmitOnceAdvancesEngineState(t *testing.T) {
	f, r := newReporterFixture(t)
	ctx := context.Background()

	id := f.create(t, nil)
	if err := r.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.SubmitOnce(ctx, id); err != nil {
		t.Fatal(err)
	}

	rec := f.get(t, id)
	if rec.TotalUsageUnits != 5 {
		t.Errorf("TotalUsageUnits = %d, want one fixed-delta sample of 5", rec.TotalUsageUnits)
	}
	if rec.ReporterNonce != 1 {
		t.Errorf("ReporterNonce = %d, want 1", rec.ReporterNonce)
	}
	// 12:00 is the standard band; congestion only ever raises the rate.
	if rec.AccruedAmount < 5*100 {
		t.Errorf("AccruedAmount = %d, want at least 500", rec.AccruedAmount)
	}

	// A second cycle continues the sequence without resync.
	if err := r.SubmitOnce(ctx, id); err != nil {
		t.Fatal(err)
	}
	rec = f.get(t, id)
	if rec.TotalUsageUnits != 10 || rec.ReporterNonce != 2 {
		t.Errorf("counters = (%d, %d), want (10, 2)", rec.TotalUsageUnits, rec.ReporterNonce)
	}
}

func TestSubmitOnceSkipsInactiveStream(t *testing.T) {
	f, r := newReporterFixture(t)
	ctx := context.Background()

	id := f.create(t, nil)
	if err := r.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.StopStream(ctx, id, "payer-1"); err != nil {
		t.Fatal(err)
	}

	if err := r.SubmitOnce(ctx, id); !errors.Is(err, stream.ErrStreamNotActive) {
		t.Errorf("got %v, want ErrStreamNotActive", err)
	}
	if rec := f.get(t, id); rec.ReporterNonce != 0 {
		t.Error("inactive stream accepted a report")
	}
}

// A competing submission advances the engine's nonce behind the reporter's
// back; the retry path must resynchronize instead of replaying stale counters.
func TestSubmitOnceResyncsAfterNonceMismatch(t *testing.T) {
	f, r := newReporterFixture(t)
	ctx := context.Background()

	id := f.create(t, nil)
	if err := r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	// Out-of-band report takes nonce 1 and moves usage to 100.
	if err := f.report(t, id, 100, 1, 100, pricing.Scale); err != nil {
		t.Fatal(err)
	}

	if err := r.SubmitOnce(ctx, id); err != nil {
		t.Fatalf("resync retry should have succeeded: %v", err)
	}

	rec := f.get(t, id)
	if rec.ReporterNonce != 2 {
		t.Errorf("ReporterNonce = %d, want 2", rec.ReporterNonce)
	}
	if rec.TotalUsageUnits != 105 {
		t.Errorf("TotalUsageUnits = %d, want resynced 100 + delta 5", rec.TotalUsageUnits)
	}
}

func TestRunCycleCoversAllTrackedStreams(t *testing.T) {
	f, r := newReporterFixture(t)
	ctx := context.Background()

	a := f.create(t, nil)
	b := f.create(t, nil)
	if err := r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	r.RunCycle(ctx)

	for _, id := range []int64{a, b} {
		if rec := f.get(t, id); rec.ReporterNonce != 1 {
			t.Errorf("stream %d: nonce = %d, want 1", id, rec.ReporterNonce)
		}
	}
}

func TestUpdatePricingAffectsNextReport(t *testing.T) {
	f, r := newReporterFixture(t)
	ctx := context.Background()

	id := f.create(t, nil)
	if err := r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	// Flat tables so the accrual is exact: rate 7 at any hour, factor 1x at
	// any load.
	r.UpdatePricing(pricing.Bands{
		StandardStartHour: 7,
		PeakStartHour:     17,
		PeakEndHour:       21,
		OffPeakRate:       7,
		StandardRate:      7,
		PeakRate:          7,
	}, pricing.CongestionLadder{{MinLoadPct: 0, FactorBps: pricing.Scale}})

	if err := r.SubmitOnce(ctx, id); err != nil {
		t.Fatal(err)
	}
	if rec := f.get(t, id); rec.AccruedAmount != 5*7 {
		t.Errorf("AccruedAmount = %d, want 35 under the reloaded tables", rec.AccruedAmount)
	}
}

func TestReporterStartClose(t *testing.T) {
	f, r := newReporterFixture(t)
	f.create(t, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Close()
	r.Close() // idempotent
}
