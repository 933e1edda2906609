package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/domain/attest"
	"github.com/meterpay/meterpay/domain/meter"
	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
	"github.com/meterpay/meterpay/ports"
)

// ReportSigner signs attestations on behalf of one reporter identity.
type ReportSigner interface {
	Sign(r attest.Report) attest.Report
	Identity() string
}

// ReporterConfig contains configuration for the Reporter.
type ReporterConfig struct {
	Interval      time.Duration // reporting cadence per monitored stream
	RetryAttempts int           // submission attempts per cycle
	RetryDelay    time.Duration // fixed delay between attempts
	MinDelta      int64         // usage sample bounds
	MaxDelta      int64
}

// Reporter periodically reads engine state, generates a usage sample,
// prices it, signs the attestation, and submits it. Local nonce and usage
// counters are synchronized from the engine at startup and re-synchronized
// whenever a submission fails with a nonce mismatch, so a restarted reporter
// never wedges on replay protection.
type Reporter struct {
	engine *SettlementService
	signer ReportSigner
	rand   ports.Random
	clock  ports.Clock
	bands  pricing.Bands
	ladder pricing.CongestionLadder
	logger zerolog.Logger
	cfg    ReporterConfig

	mu      sync.Mutex
	tracked map[int64]*trackedStream

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// trackedStream holds the reporter's local view of one stream.
type trackedStream struct {
	nonce      uint64
	cumulative int64
	gen        *meter.Generator
}

// NewReporter creates a reporting service. Call Start to begin the loop; a
// single SubmitOnce cycle can also be driven manually (tests, CLI).
func NewReporter(
	engine *SettlementService,
	sig ReportSigner,
	rand ports.Random,
	clock ports.Clock,
	bands pricing.Bands,
	ladder pricing.CongestionLadder,
	logger zerolog.Logger,
	cfg ReporterConfig,
) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = 1
	}
	if cfg.MaxDelta < cfg.MinDelta {
		cfg.MaxDelta = cfg.MinDelta + 9
	}

	return &Reporter{
		engine:  engine,
		signer:  sig,
		rand:    rand,
		clock:   clock,
		bands:   bands,
		ladder:  ladder,
		logger:  logger,
		cfg:     cfg,
		tracked: make(map[int64]*trackedStream),
		stopCh:  make(chan struct{}),
	}
}

// Sync refreshes the set of monitored streams (those naming this reporter as
// authorized) and aligns local counters with engine state. Mandatory before
// the first cycle; also invoked on nonce mismatch.
func (r *Reporter) Sync(ctx context.Context) error {
	streams, err := r.engine.Streams(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	identity := r.signer.Identity()
	for _, rec := range streams {
		if rec.AuthorizedReporter != identity {
			continue
		}
		st, ok := r.tracked[rec.ID]
		if !ok {
			st = &trackedStream{gen: meter.NewGenerator(r.rand, r.cfg.MinDelta, r.cfg.MaxDelta)}
			r.tracked[rec.ID] = st
		}
		st.nonce = rec.ReporterNonce
		st.cumulative = rec.TotalUsageUnits
		st.gen.Seed(rec.TotalUsageUnits)
	}
	return nil
}

// UpdatePricing swaps the pricing tables used for subsequent reports. Safe
// to call while the loop is running.
func (r *Reporter) UpdatePricing(bands pricing.Bands, ladder pricing.CongestionLadder) {
	r.mu.Lock()
	r.bands = bands
	r.ladder = ladder
	r.mu.Unlock()
}

// Start launches the reporting loop.
func (r *Reporter) Start(ctx context.Context) error {
	if err := r.Sync(ctx); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.loop()
	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("reporter started")
	return nil
}

// Close stops the reporting loop.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Reporter) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			if err := r.Sync(ctx); err != nil {
				r.logger.Error().Err(err).Msg("stream sync failed, deferring cycle")
				continue
			}
			r.RunCycle(ctx)
		case <-r.stopCh:
			return
		}
	}
}

// RunCycle submits one report for every monitored stream.
func (r *Reporter) RunCycle(ctx context.Context) {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.tracked))
	for id := range r.tracked {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.SubmitOnce(ctx, id); err != nil {
			r.logger.Warn().Err(err).Int64("stream_id", id).Msg("report cycle failed, deferring to next cycle")
		}
	}
}

// SubmitOnce runs one sample-price-sign-submit cycle for a stream, retrying
// up to the configured bound. A nonce mismatch triggers a counter resync
// before the next attempt; local counters only advance on success.
func (r *Reporter) SubmitOnce(ctx context.Context, streamID int64) error {
	rec, err := r.engine.StreamInfo(ctx, streamID)
	if err != nil {
		return err
	}
	if !rec.Active {
		r.logger.Debug().Int64("stream_id", streamID).Msg("stream inactive, skipping report")
		return stream.ErrStreamNotActive
	}

	r.mu.Lock()
	st, ok := r.tracked[streamID]
	r.mu.Unlock()
	if !ok {
		return stream.ErrStreamNotFound
	}

	sample, err := st.gen.Next()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.RetryAttempts; attempt++ {
		r.mu.Lock()
		nonce := st.nonce
		cumulative := st.cumulative
		bands := r.bands
		ladder := r.ladder
		r.mu.Unlock()

		now := r.clock.Now()
		report := attest.Report{
			StreamID:        streamID,
			CumulativeUsage: cumulative + sample.Delta,
			BaseRate:        bands.RateAt(now),
			CongestionBps:   ladder.FactorFor(sample.LoadPct),
			Timestamp:       now.Unix(),
			Nonce:           nonce + 1,
		}
		report = r.signer.Sign(report)

		err := r.engine.ReportUsage(ctx, report)
		if err == nil {
			r.mu.Lock()
			st.nonce = report.Nonce
			st.cumulative = report.CumulativeUsage
			st.gen.Seed(report.CumulativeUsage)
			r.mu.Unlock()

			r.logger.Debug().
				Int64("stream_id", streamID).
				Int64("cumulative", report.CumulativeUsage).
				Uint64("nonce", report.Nonce).
				Msg("report submitted")
			return nil
		}
		lastErr = err

		// A stopped stream will not accept reports until resumed; give up
		// until the next cycle rather than burning retries.
		if errors.Is(err, stream.ErrStreamNotActive) {
			return err
		}

		// Nonce mismatch means our local view is stale: resync from the
		// engine before retrying instead of replaying the same counters.
		var nonceErr *stream.InvalidNonceError
		if errors.As(err, &nonceErr) {
			fresh, gerr := r.engine.StreamInfo(ctx, streamID)
			if gerr == nil {
				r.mu.Lock()
				st.nonce = fresh.ReporterNonce
				st.cumulative = fresh.TotalUsageUnits
				st.gen.Seed(fresh.TotalUsageUnits)
				r.mu.Unlock()
				r.logger.Info().
					Int64("stream_id", streamID).
					Uint64("nonce", fresh.ReporterNonce).
					Msg("nonce resynchronized from engine")
			}
		}

		if attempt < r.cfg.RetryAttempts {
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-r.stopCh:
				return lastErr
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}
