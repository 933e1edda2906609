// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/adapters/metrics"
	"github.com/meterpay/meterpay/domain/attest"
	"github.com/meterpay/meterpay/domain/event"
	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
	"github.com/meterpay/meterpay/ports"
)

// SettleTarget names the callback the engine arms against the scheduler.
// A stream only ever re-arms this one target.
const SettleTarget = "settlement.settle"

// SettlementService is the authoritative stream ledger: creation, accrual,
// settlement, pause/resume, and the self-rescheduling loop.
//
// All mutations of one stream are serialized behind a per-stream lock;
// operations on different streams proceed concurrently.
type SettlementService struct {
	streams  ports.StreamStore
	sched    ports.Scheduler
	verifier ports.SignatureVerifier
	payouts  ports.PayoutSender
	events   ports.EventSink
	clock    ports.Clock
	idGen    ports.IDGenerator
	prober   *Prober
	logger   zerolog.Logger
	metrics  *metrics.Collector
	cfg      SettlementConfig

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// SettlementDeps contains dependencies for SettlementService.
type SettlementDeps struct {
	Streams  ports.StreamStore
	Sched    ports.Scheduler
	Verifier ports.SignatureVerifier
	Payouts  ports.PayoutSender
	Events   ports.EventSink
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Prober   *Prober
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// SettlementConfig contains configuration for SettlementService.
type SettlementConfig struct {
	MinFactorBps   int64 // lowest accepted congestion factor
	MaxFactorBps   int64 // highest accepted congestion factor
	ResourceBudget int64 // scheduler capacity consumed per settlement callback
	MaxProbes      int   // probe budget when the desired slot is congested
}

// NewSettlementService creates a new settlement service.
func NewSettlementService(deps SettlementDeps, cfg SettlementConfig) *SettlementService {
	if cfg.MinFactorBps == 0 {
		cfg.MinFactorBps = pricing.MinFactorBps
	}
	if cfg.MaxFactorBps == 0 {
		cfg.MaxFactorBps = pricing.MaxFactorBps
	}
	if cfg.ResourceBudget <= 0 {
		cfg.ResourceBudget = 1
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 8
	}

	return &SettlementService{
		streams:  deps.Streams,
		sched:    deps.Sched,
		verifier: deps.Verifier,
		payouts:  deps.Payouts,
		events:   deps.Events,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		prober:   deps.Prober,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cfg:      cfg,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutations of one stream.
func (s *SettlementService) lockFor(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateStream allocates a stream, seeds its deposit and first pricing
// snapshot, and arms the first settlement callback at now + interval.
// Precondition violations reject before any state is written.
func (s *SettlementService) CreateStream(ctx context.Context, p stream.CreateParams) (int64, error) {
	if err := stream.ValidateCreate(p); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	rec := stream.New(0, p, now)

	id, err := s.streams.Create(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("create stream: %w", err)
	}
	// The stream is visible (and reportable) the moment Create returns, so
	// the rest of creation runs under the same lock as every other mutation,
	// on a fresh read in case a report won the race to the lock.
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	rec, err = s.streams.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("reload new stream: %w", err)
	}

	// Seed pricing history at 1.0x congestion on the creation rate.
	snap := pricing.NewSnapshot(id, p.BaseRatePerUnit, pricing.Scale, now)
	if err := s.streams.AppendSnapshot(ctx, snap); err != nil {
		return 0, fmt.Errorf("seed pricing history: %w", err)
	}

	s.metrics.StreamsCreated.Inc()
	s.emit(ctx, event.StreamCreated, id, map[string]any{
		"payer":            p.Payer,
		"payee":            p.Payee,
		"deposit":          p.Deposit,
		"interval_seconds": int64(p.SettlementInterval / time.Second),
	})
	s.emit(ctx, event.PricingUpdated, id, map[string]any{
		"base_rate":      snap.BaseRate,
		"congestion_bps": snap.CongestionBps,
		"effective_rate": snap.EffectiveRate,
	})

	// Arm the first settlement. If the scheduler refuses, the stream stays
	// paused and solvent; a later top-up re-arms it.
	if err := s.arm(ctx, &rec, now.Add(p.SettlementInterval)); err != nil {
		rec = stream.Pause(rec)
		if uerr := s.streams.Update(ctx, rec); uerr != nil {
			s.logger.Error().Err(uerr).Int64("stream_id", id).Msg("failed to pause unschedulable stream")
		}
		s.emit(ctx, event.StreamPaused, id, map[string]any{"reason": "schedule_creation_failed"})
		return id, err
	}
	if err := s.streams.Update(ctx, rec); err != nil {
		return 0, fmt.Errorf("store schedule handle: %w", err)
	}

	s.logger.Info().
		Int64("stream_id", id).
		Str("payee", p.Payee).
		Dur("interval", p.SettlementInterval).
		Msg("stream created")
	return id, nil
}

// ReportUsage validates and applies a signed usage/pricing attestation.
// Checks run in order: lifecycle, nonce, usage monotonicity, factor range,
// signature. Any failure leaves the stream untouched.
func (s *SettlementService) ReportUsage(ctx context.Context, r attest.Report) error {
	l := s.lockFor(r.StreamID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.streams.Get(ctx, r.StreamID)
	if err != nil {
		return err
	}

	if err := stream.ValidateReport(rec, r.Nonce, r.CumulativeUsage, r.CongestionBps, s.cfg.MinFactorBps, s.cfg.MaxFactorBps); err != nil {
		s.rejectReport(r.StreamID, err)
		return err
	}
	if err := s.verifier.Verify(rec.AuthorizedReporter, r); err != nil {
		s.rejectReport(r.StreamID, stream.ErrInvalidSignature)
		return fmt.Errorf("%w: %v", stream.ErrInvalidSignature, err)
	}

	effectiveRate := pricing.EffectiveRate(r.BaseRate, r.CongestionBps)
	prev := rec
	rec, cost := stream.ApplyReport(rec, r.CumulativeUsage, r.Nonce, effectiveRate)

	if err := s.streams.Update(ctx, rec); err != nil {
		return fmt.Errorf("apply report: %w", err)
	}
	snap := pricing.NewSnapshot(rec.ID, r.BaseRate, r.CongestionBps, time.Unix(r.Timestamp, 0).UTC())
	if err := s.streams.AppendSnapshot(ctx, snap); err != nil {
		// Keep accrual and history in lockstep: an attestation either lands
		// with its snapshot or not at all.
		if uerr := s.streams.Update(ctx, prev); uerr != nil {
			s.logger.Error().Err(uerr).Int64("stream_id", rec.ID).Msg("failed to revert report after snapshot failure")
		}
		return fmt.Errorf("append pricing snapshot: %w", err)
	}

	s.metrics.ReportsAccepted.Inc()
	s.emit(ctx, event.UsageReported, rec.ID, map[string]any{
		"cumulative_usage": rec.TotalUsageUnits,
		"cost":             cost,
		"accrued":          rec.AccruedAmount,
		"nonce":            r.Nonce,
	})
	s.emit(ctx, event.PricingUpdated, rec.ID, map[string]any{
		"base_rate":      snap.BaseRate,
		"congestion_bps": snap.CongestionBps,
		"effective_rate": snap.EffectiveRate,
	})

	// Advisory only: no state change.
	if rec.LowBalance() {
		s.emit(ctx, event.LowBalanceWarning, rec.ID, map[string]any{
			"accrued": rec.AccruedAmount,
			"deposit": rec.DepositBalance,
		})
	}

	s.logger.Debug().
		Int64("stream_id", rec.ID).
		Int64("cost", cost).
		Int64("accrued", rec.AccruedAmount).
		Uint64("nonce", r.Nonce).
		Msg("usage report accepted")
	return nil
}

// SettleResult describes the outcome of one settlement invocation.
type SettleResult struct {
	AmountPaid int64
	Paused     bool // true when the stream was paused for insufficient deposit
}

// Settle executes one settlement cycle: pay out min(accrued, cap, deposit)
// and re-arm the next callback. Invoked by the external scheduler at or after
// the stream's next settlement time; a stale invocation against a paused
// stream is rejected by the lifecycle re-check.
//
// Insufficient deposit is a modeled business outcome, not an error: the
// stream pauses, observers are notified, and the call returns cleanly.
func (s *SettlementService) Settle(ctx context.Context, streamID int64) (SettleResult, error) {
	l := s.lockFor(streamID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return SettleResult{}, err
	}

	now := s.clock.Now()
	if err := stream.ValidateSettle(rec, now); err != nil {
		return SettleResult{}, err
	}

	amountDue := stream.AmountDue(rec)

	// Insufficient deposit: pause and wait for a top-up. No funds move, the
	// settlement clock does not advance, and no new callback is armed.
	if amountDue > rec.DepositBalance {
		s.metrics.SettlementFailures.Inc()
		s.metrics.StreamsPaused.Inc()
		s.emit(ctx, event.SettlementFailed, streamID, map[string]any{
			"needed":    amountDue,
			"available": rec.DepositBalance,
		})

		staleHandle := rec.ScheduleHandle
		rec = stream.Pause(rec)
		if err := s.streams.Update(ctx, rec); err != nil {
			return SettleResult{}, fmt.Errorf("pause stream: %w", err)
		}
		s.cancelBestEffort(ctx, streamID, staleHandle)
		s.emit(ctx, event.StreamPaused, streamID, map[string]any{"reason": "insufficient_deposit"})

		s.logger.Warn().
			Int64("stream_id", streamID).
			Int64("needed", amountDue).
			Int64("available", rec.DepositBalance).
			Msg("settlement failed, stream paused")
		return SettleResult{Paused: true}, nil
	}

	// Effects before interaction: debit the ledger before the external payout
	// so a reentrant settle cannot double-spend.
	staleHandle := rec.ScheduleHandle
	prev := rec
	rec = stream.ApplySettlement(rec, amountDue, now)
	rec.ScheduleHandle = ""
	if err := s.streams.Update(ctx, rec); err != nil {
		return SettleResult{}, fmt.Errorf("apply settlement: %w", err)
	}

	// The callback that fired this settlement is already consumed; withdraw
	// any still-pending duplicate before a new one is armed.
	s.cancelBestEffort(ctx, streamID, staleHandle)

	if amountDue > 0 {
		if err := s.payouts.Send(ctx, rec.Payee, amountDue, streamID); err != nil {
			// Restore the pre-settlement ledger so no accounting is lost, and
			// arm a retry callback: the one that fired is gone, and an active
			// stream must always hold exactly one. If even that fails, pause
			// so a top-up can revive the stream.
			restored := prev
			restored.ScheduleHandle = ""
			if aerr := s.arm(ctx, &restored, now); aerr != nil {
				restored = stream.Pause(restored)
				s.metrics.StreamsPaused.Inc()
				s.emit(ctx, event.StreamPaused, streamID, map[string]any{"reason": "payout_retry_unschedulable"})
			}
			if uerr := s.streams.Update(ctx, restored); uerr != nil {
				s.logger.Error().Err(uerr).Int64("stream_id", streamID).Msg("failed to restore ledger after payout failure")
			}
			return SettleResult{}, fmt.Errorf("payout to %s: %w", rec.Payee, err)
		}
	}

	s.metrics.SettlementsTotal.Inc()
	s.metrics.PayoutCents.Add(float64(amountDue))
	s.emit(ctx, event.SettlementExecuted, streamID, map[string]any{
		"amount":           amountDue,
		"deposit_balance":  rec.DepositBalance,
		"accrued_amount":   rec.AccruedAmount,
		"settlement_count": rec.SettlementCount,
	})

	// Re-arm the next settlement: the self-perpetuating loop. Even a zero
	// payout re-arms so the stream keeps ticking.
	if err := s.arm(ctx, &rec, now.Add(rec.SettlementInterval)); err != nil {
		rec = stream.Pause(rec)
		if uerr := s.streams.Update(ctx, rec); uerr != nil {
			s.logger.Error().Err(uerr).Int64("stream_id", streamID).Msg("failed to pause unschedulable stream")
		}
		s.metrics.StreamsPaused.Inc()
		s.emit(ctx, event.StreamPaused, streamID, map[string]any{"reason": "schedule_creation_failed"})
		return SettleResult{AmountPaid: amountDue}, err
	}
	if err := s.streams.Update(ctx, rec); err != nil {
		return SettleResult{}, fmt.Errorf("store schedule handle: %w", err)
	}

	s.logger.Info().
		Int64("stream_id", streamID).
		Int64("amount", amountDue).
		Int64("deposit_balance", rec.DepositBalance).
		Time("next_settlement", rec.NextSettlementTime).
		Msg("settlement executed")
	return SettleResult{AmountPaid: amountDue}, nil
}

// TopUpDeposit adds prepaid funds. Payer-only. If the stream was paused and
// the new deposit covers everything accrued, the stream resumes and one new
// settlement callback is armed.
func (s *SettlementService) TopUpDeposit(ctx context.Context, streamID int64, caller string, amount int64) error {
	if amount <= 0 {
		return stream.ErrInvalidAmount
	}

	l := s.lockFor(streamID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return err
	}
	if caller != rec.Payer {
		return stream.ErrOnlyPayer
	}

	rec.DepositBalance += amount
	if err := s.streams.Update(ctx, rec); err != nil {
		return fmt.Errorf("top up deposit: %w", err)
	}
	s.emit(ctx, event.DepositAdded, streamID, map[string]any{
		"amount":  amount,
		"deposit": rec.DepositBalance,
	})

	if rec.Active || !rec.Solvent() {
		return nil
	}

	// Solvency restored: resume and re-arm. The deposit credit above sticks
	// even if arming fails; the stream just stays paused.
	now := s.clock.Now()
	rec = stream.Resume(rec)
	if err := s.arm(ctx, &rec, now.Add(rec.SettlementInterval)); err != nil {
		rec = stream.Pause(rec)
		if uerr := s.streams.Update(ctx, rec); uerr != nil {
			s.logger.Error().Err(uerr).Int64("stream_id", streamID).Msg("failed to re-pause unschedulable stream")
		}
		return err
	}
	if err := s.streams.Update(ctx, rec); err != nil {
		return fmt.Errorf("resume stream: %w", err)
	}

	s.metrics.StreamsResumed.Inc()
	s.emit(ctx, event.StreamResumed, streamID, map[string]any{"deposit": rec.DepositBalance})
	s.logger.Info().Int64("stream_id", streamID).Msg("stream resumed after top-up")
	return nil
}

// StopStream pauses a stream on request of its payer or payee. The pending
// callback is cancelled best-effort; the active flag is the authoritative
// gate, so a stale delivery is rejected by Settle regardless.
func (s *SettlementService) StopStream(ctx context.Context, streamID int64, caller string) error {
	l := s.lockFor(streamID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return err
	}
	if caller != rec.Payer && caller != rec.Payee {
		return stream.ErrOnlyPayerOrPayee
	}
	if !rec.Active {
		return stream.ErrStreamNotActive
	}

	staleHandle := rec.ScheduleHandle
	rec = stream.Pause(rec)
	if err := s.streams.Update(ctx, rec); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	s.cancelBestEffort(ctx, streamID, staleHandle)

	s.metrics.StreamsPaused.Inc()
	s.emit(ctx, event.StreamPaused, streamID, map[string]any{"reason": "stopped", "by": caller})
	s.logger.Info().Int64("stream_id", streamID).Str("by", caller).Msg("stream stopped")
	return nil
}

// StreamInfo returns the current stream record.
func (s *SettlementService) StreamInfo(ctx context.Context, streamID int64) (stream.Stream, error) {
	return s.streams.Get(ctx, streamID)
}

// PricingHistoryLength returns the number of pricing snapshots recorded for
// a stream.
func (s *SettlementService) PricingHistoryLength(ctx context.Context, streamID int64) (int, error) {
	snaps, err := s.streams.Snapshots(ctx, streamID)
	if err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// PricingHistory returns the full snapshot history, oldest first.
func (s *SettlementService) PricingHistory(ctx context.Context, streamID int64) ([]pricing.Snapshot, error) {
	return s.streams.Snapshots(ctx, streamID)
}

// Streams returns all stream records.
func (s *SettlementService) Streams(ctx context.Context) ([]stream.Stream, error) {
	return s.streams.List(ctx)
}

// arm probes for a slot at or after desired and books the settle callback,
// storing the handle and chosen time on rec. rec is not persisted here.
func (s *SettlementService) arm(ctx context.Context, rec *stream.Stream, desired time.Time) error {
	chosen, err := s.prober.FindSlot(ctx, desired, s.cfg.ResourceBudget, s.cfg.MaxProbes)
	if err != nil {
		if errors.Is(err, ErrNoCapacityFound) {
			return err
		}
		return &ScheduleCreationError{Reason: "probe failed", Err: err}
	}

	handle, err := s.sched.RequestCallback(ctx, SettleTarget, rec.ID, chosen, s.cfg.ResourceBudget)
	if err != nil {
		return &ScheduleCreationError{Reason: "request callback failed", Err: err}
	}

	rec.ScheduleHandle = handle
	rec.NextSettlementTime = chosen
	s.metrics.SchedulesArmed.Inc()
	s.emit(ctx, event.SettlementScheduled, rec.ID, map[string]any{
		"at":     chosen,
		"handle": handle,
	})
	return nil
}

// cancelBestEffort tries to withdraw a pending callback. Failure is logged
// and ignored: the active flag gates delivery.
func (s *SettlementService) cancelBestEffort(ctx context.Context, streamID int64, handle string) {
	if handle == "" {
		return
	}
	if err := s.sched.Cancel(ctx, handle); err != nil {
		s.logger.Debug().Err(err).Int64("stream_id", streamID).Str("handle", handle).Msg("cancel pending schedule failed")
	}
}

func (s *SettlementService) emit(ctx context.Context, t event.Type, streamID int64, data map[string]any) {
	s.events.Emit(ctx, event.Event{
		ID:        s.idGen.New(),
		Type:      t,
		StreamID:  streamID,
		Timestamp: s.clock.Now(),
		Data:      data,
	})
}

func (s *SettlementService) rejectReport(streamID int64, err error) {
	reason := "invalid"
	switch {
	case errors.Is(err, stream.ErrStreamNotActive):
		reason = "inactive"
	case errors.Is(err, stream.ErrUsageNotIncreasing):
		reason = "usage_not_increasing"
	case errors.Is(err, stream.ErrInvalidCongestionFactor):
		reason = "congestion_factor"
	case errors.Is(err, stream.ErrInvalidSignature):
		reason = "signature"
	default:
		var nonceErr *stream.InvalidNonceError
		if errors.As(err, &nonceErr) {
			reason = "nonce"
		}
	}
	s.metrics.ReportsRejected.WithLabelValues(reason).Inc()
}
