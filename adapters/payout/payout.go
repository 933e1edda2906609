// Package payout provides PayoutSender implementations for when no real
// treasury integration is configured.
package payout

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/ports"
)

// ErrPayoutsDisabled is returned when payouts are not configured.
var ErrPayoutsDisabled = errors.New("payouts are not configured")

// Noop rejects every transfer. Settlement treats the failure as fatal to the
// call, so a misconfigured deployment cannot silently lose accounting.
type Noop struct{}

// Send returns ErrPayoutsDisabled.
func (Noop) Send(ctx context.Context, payee string, amount int64, streamID int64) error {
	return ErrPayoutsDisabled
}

// Ensure interface compliance.
var _ ports.PayoutSender = Noop{}

// Logging accepts every transfer and records it to the log. Useful for
// dry-run deployments where the downstream treasury is reconciled offline.
type Logging struct {
	logger zerolog.Logger
}

// NewLogging creates a logging payout sender.
func NewLogging(logger zerolog.Logger) *Logging {
	return &Logging{logger: logger}
}

// Send logs the transfer and reports success.
func (l *Logging) Send(ctx context.Context, payee string, amount int64, streamID int64) error {
	l.logger.Info().
		Str("payee", payee).
		Int64("amount", amount).
		Int64("stream_id", streamID).
		Msg("payout executed")
	return nil
}

// Ensure interface compliance.
var _ ports.PayoutSender = (*Logging)(nil)
