// Package bootstrap wires adapters and services together from configuration.
package bootstrap

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/adapters/clock"
	"github.com/meterpay/meterpay/adapters/hasher"
	"github.com/meterpay/meterpay/adapters/idgen"
	"github.com/meterpay/meterpay/adapters/memory"
	"github.com/meterpay/meterpay/adapters/metrics"
	"github.com/meterpay/meterpay/adapters/payout"
	"github.com/meterpay/meterpay/adapters/random"
	"github.com/meterpay/meterpay/adapters/scheduler"
	"github.com/meterpay/meterpay/adapters/signer"
	"github.com/meterpay/meterpay/adapters/sqlite"
	"github.com/meterpay/meterpay/adapters/webhook"
	"github.com/meterpay/meterpay/app"
	"github.com/meterpay/meterpay/config"
	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/ports"
)

// App holds the wired application.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Engine    *app.SettlementService
	Reporter  *app.Reporter // nil when disabled
	Scheduler *scheduler.Memory
	Ledger    *memory.Ledger // nil unless payout mode is "ledger"
	Metrics   *metrics.Collector
	Hasher    ports.Hasher
	Clock     ports.Clock

	apiKeyHash []byte
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closers    []func()
}

// New wires the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLoggerFromEnv(cfg.Logging)
	logger.Info().Msg("initializing meterpay")

	a := &App{
		Config: cfg,
		Logger: logger,
		stopCh: make(chan struct{}),
	}

	clk := clock.Real{}
	rnd := random.NewCrypto()
	ids := idgen.UUID{}
	a.Clock = clk
	a.Metrics = metrics.New()
	a.Hasher = hasher.NewBcrypt(0)

	if cfg.Server.APIKey != "" {
		h, err := a.Hasher.Hash(cfg.Server.APIKey)
		if err != nil {
			return nil, fmt.Errorf("hash admin api key: %w", err)
		}
		a.apiKeyHash = h
	}

	// Stream store
	var streams ports.StreamStore
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.closers = append(a.closers, func() { db.Close() })
		streams = sqlite.NewStreamStore(db)
		logger.Info().Str("dsn", cfg.Database.DSN).Msg("sqlite stream store ready")
	default:
		streams = memory.NewStreamStore()
		logger.Info().Msg("in-memory stream store ready")
	}

	// Payout boundary
	var payouts ports.PayoutSender
	switch cfg.Payout.Mode {
	case "ledger":
		a.Ledger = memory.NewLedger()
		payouts = a.Ledger
	case "log":
		payouts = payout.NewLogging(logger)
	default:
		payouts = payout.Noop{}
	}

	// Event sink
	var events ports.EventSink = webhook.Noop{}
	if cfg.Webhook.URL != "" {
		events = webhook.NewSink(cfg.Webhook.URL, cfg.Webhook.Timeout, logger)
		logger.Info().Str("url", cfg.Webhook.URL).Msg("webhook event delivery enabled")
	}

	a.Scheduler = scheduler.NewMemory(scheduler.Config{
		Granularity: cfg.Scheduler.Granularity,
		SlotBudget:  cfg.Scheduler.SlotBudget,
	})

	prober := app.NewProber(a.Scheduler, rnd, logger, a.Metrics)
	a.Engine = app.NewSettlementService(app.SettlementDeps{
		Streams:  streams,
		Sched:    a.Scheduler,
		Verifier: signer.Ed25519Verifier{},
		Payouts:  payouts,
		Events:   events,
		Clock:    clk,
		IDGen:    ids,
		Prober:   prober,
		Logger:   logger,
		Metrics:  a.Metrics,
	}, app.SettlementConfig{
		MinFactorBps:   cfg.Engine.MinFactorBps,
		MaxFactorBps:   cfg.Engine.MaxFactorBps,
		ResourceBudget: cfg.Engine.ResourceBudget,
		MaxProbes:      cfg.Engine.MaxProbes,
	})

	if cfg.Reporter.Enabled {
		sig, err := loadSigner(cfg.Reporter.KeyFile)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("identity", sig.Identity()).Msg("reporter identity loaded")

		a.Reporter = app.NewReporter(
			a.Engine, sig, rnd, clk,
			bandsFrom(cfg.Pricing), ladderFrom(cfg.Pricing),
			logger,
			app.ReporterConfig{
				Interval:      cfg.Reporter.Interval,
				RetryAttempts: cfg.Reporter.RetryAttempts,
				RetryDelay:    cfg.Reporter.RetryDelay,
				MinDelta:      cfg.Reporter.MinDelta,
				MaxDelta:      cfg.Reporter.MaxDelta,
			},
		)
	}

	return a, nil
}

// Start launches the scheduler delivery driver and, when enabled, the
// reporter loop.
func (a *App) Start(ctx context.Context) error {
	a.wg.Add(1)
	go a.deliveryLoop()

	if a.Reporter != nil {
		if err := a.Reporter.Start(ctx); err != nil {
			return fmt.Errorf("start reporter: %w", err)
		}
	}
	return nil
}

// deliveryLoop drives due scheduler callbacks into the engine. This is the
// in-process stand-in for the external scheduler's delivery side.
func (a *App) deliveryLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.Config.Scheduler.TickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := a.Clock.Now()
			for _, cb := range a.Scheduler.Due(now) {
				if cb.Target != app.SettleTarget {
					a.Logger.Warn().Str("target", cb.Target).Msg("unknown callback target dropped")
					continue
				}
				if _, err := a.Engine.Settle(context.Background(), cb.StreamID); err != nil {
					// Stale callbacks against paused streams are expected;
					// everything else is logged for operators.
					a.Logger.Warn().Err(err).Int64("stream_id", cb.StreamID).Msg("scheduled settlement failed")
				}
			}
		case <-a.stopCh:
			return
		}
	}
}

// ApplyConfig applies the runtime-tunable parts of a reloaded configuration.
// Pricing tables and log level take effect immediately; structural settings
// (database, scheduler, server) need a restart.
func (a *App) ApplyConfig(next *config.Config) {
	if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if a.Reporter != nil {
		a.Reporter.UpdatePricing(bandsFrom(next.Pricing), ladderFrom(next.Pricing))
	}
	a.Logger.Info().Msg("runtime configuration applied")
}

// APIKeyHash returns the bcrypt hash of the configured admin key, or nil
// when authentication is disabled.
func (a *App) APIKeyHash() []byte {
	return a.apiKeyHash
}

// Close stops background loops and releases resources.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
		if a.Reporter != nil {
			a.Reporter.Close()
		}
		for _, fn := range a.closers {
			fn()
		}
	})
}

// loadSigner reads a hex-encoded ed25519 seed from keyFile, or generates an
// ephemeral key when no file is configured.
func loadSigner(keyFile string) (*signer.Ed25519Signer, error) {
	if keyFile == "" {
		sig, err := signer.GenerateSigner()
		if err != nil {
			return nil, err
		}
		return sig, nil
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read reporter key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("reporter key must be a hex-encoded %d-byte ed25519 seed", ed25519.SeedSize)
	}
	return signer.NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

// bandsFrom converts pricing config into the domain band table.
func bandsFrom(p config.PricingConfig) pricing.Bands {
	return pricing.Bands{
		StandardStartHour: p.StandardStartHour,
		PeakStartHour:     p.PeakStartHour,
		PeakEndHour:       p.PeakEndHour,
		OffPeakRate:       p.OffPeakRate,
		StandardRate:      p.StandardRate,
		PeakRate:          p.PeakRate,
	}
}

// ladderFrom converts congestion config into the domain ladder, falling back
// to the default thresholds when none are configured.
func ladderFrom(p config.PricingConfig) pricing.CongestionLadder {
	if len(p.Congestion) == 0 {
		return pricing.DefaultLadder()
	}
	ladder := make(pricing.CongestionLadder, 0, len(p.Congestion))
	for _, step := range p.Congestion {
		ladder = append(ladder, pricing.CongestionThreshold{
			MinLoadPct: step.MinLoadPct,
			FactorBps:  step.FactorBps,
		})
	}
	return ladder
}

// setupLoggerFromEnv builds the zerolog logger from config.
func setupLoggerFromEnv(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
