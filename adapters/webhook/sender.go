// Package webhook provides an EventSink that delivers engine notifications
// to an external observer endpoint over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/domain/event"
	"github.com/meterpay/meterpay/ports"
)

// Sink POSTs each event as JSON to a configured URL. Delivery is best-effort:
// failures are logged and dropped, never surfaced to the engine.
type Sink struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewSink creates a webhook event sink.
func NewSink(url string, timeout time.Duration, logger zerolog.Logger) *Sink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Emit delivers the event.
func (s *Sink) Emit(ctx context.Context, e event.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(e.Type)).Msg("marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Msg("build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meterpay-Event", string(e.Type))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn().
			Int("status", resp.StatusCode).
			Str("event_type", string(e.Type)).
			Msg("webhook endpoint rejected event")
	}
}

// Ensure interface compliance.
var _ ports.EventSink = (*Sink)(nil)

// Noop discards all events.
type Noop struct{}

// Emit discards the event.
func (Noop) Emit(ctx context.Context, e event.Event) {}

// Ensure interface compliance.
var _ ports.EventSink = Noop{}
