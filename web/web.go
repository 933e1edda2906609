// Package web provides the JSON admin API for the payment streaming engine.
package web

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/app"
	"github.com/meterpay/meterpay/domain/attest"
	"github.com/meterpay/meterpay/domain/stream"
	"github.com/meterpay/meterpay/ports"
)

// Handler provides admin API endpoints.
type Handler struct {
	engine     *app.SettlementService
	hasher     ports.Hasher
	apiKeyHash []byte // nil disables authentication
	metricsOn  bool
	logger     zerolog.Logger
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Engine     *app.SettlementService
	Hasher     ports.Hasher
	APIKeyHash []byte
	MetricsOn  bool
	Logger     zerolog.Logger
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:     deps.Engine,
		hasher:     deps.Hasher,
		apiKeyHash: deps.APIKeyHash,
		metricsOn:  deps.MetricsOn,
		logger:     deps.Logger,
	}
}

// Router returns the admin API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Public endpoints
	r.Get("/healthz", h.Health)
	if h.metricsOn {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/streams", h.ListStreams)
		r.Post("/streams", h.CreateStream)
		r.Get("/streams/{id}", h.GetStream)
		r.Post("/streams/{id}/report", h.SubmitReport)
		r.Post("/streams/{id}/topup", h.TopUp)
		r.Post("/streams/{id}/stop", h.Stop)
		r.Get("/streams/{id}/pricing", h.PricingHistory)
	})

	return r
}

// AuthMiddleware validates the admin API key from the X-API-Key header or a
// bearer token. When no key is configured the API is open.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKeyHash == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key == "" || !h.hasher.Compare(h.apiKeyHash, key) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Valid API key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -----------------------------------------------------------------------------
// Streams API
// -----------------------------------------------------------------------------

// CreateStreamRequest represents a request to open a payment stream.
type CreateStreamRequest struct {
	Payer                  string `json:"payer"`
	Payee                  string `json:"payee"`
	AuthorizedReporter     string `json:"authorized_reporter"`
	BaseRatePerUnit        int64  `json:"base_rate_per_unit"`
	MaxPayPerInterval      int64  `json:"max_pay_per_interval"`
	SettlementIntervalSecs int64  `json:"settlement_interval_secs"`
	Deposit                int64  `json:"deposit"`
}

// StreamResponse represents a stream in API responses.
type StreamResponse struct {
	ID                 int64  `json:"id"`
	Payer              string `json:"payer"`
	Payee              string `json:"payee"`
	AuthorizedReporter string `json:"authorized_reporter"`
	BaseRatePerUnit    int64  `json:"base_rate_per_unit"`
	MaxPayPerInterval  int64  `json:"max_pay_per_interval"`
	SettlementInterval string `json:"settlement_interval"`
	DepositBalance     int64  `json:"deposit_balance"`
	AccruedAmount      int64  `json:"accrued_amount"`
	TotalUsageUnits    int64  `json:"total_usage_units"`
	ReporterNonce      uint64 `json:"reporter_nonce"`
	Status             string `json:"status"`
	SettlementCount    int64  `json:"settlement_count"`
	CreatedAt          string `json:"created_at"`
	LastSettlementAt   string `json:"last_settlement_at,omitempty"`
	NextSettlementAt   string `json:"next_settlement_at,omitempty"`
}

func toStreamResponse(s stream.Stream) StreamResponse {
	resp := StreamResponse{
		ID:                 s.ID,
		Payer:              s.Payer,
		Payee:              s.Payee,
		AuthorizedReporter: s.AuthorizedReporter,
		BaseRatePerUnit:    s.BaseRatePerUnit,
		MaxPayPerInterval:  s.MaxPayPerInterval,
		SettlementInterval: s.SettlementInterval.String(),
		DepositBalance:     s.DepositBalance,
		AccruedAmount:      s.AccruedAmount,
		TotalUsageUnits:    s.TotalUsageUnits,
		ReporterNonce:      s.ReporterNonce,
		Status:             string(s.Status()),
		SettlementCount:    s.SettlementCount,
		CreatedAt:          s.CreatedAt.Format(time.RFC3339),
	}
	if !s.LastSettlementTime.IsZero() {
		resp.LastSettlementAt = s.LastSettlementTime.Format(time.RFC3339)
	}
	if !s.NextSettlementTime.IsZero() {
		resp.NextSettlementAt = s.NextSettlementTime.Format(time.RFC3339)
	}
	return resp
}

// CreateStream opens a new payment stream.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req CreateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	id, err := h.engine.CreateStream(r.Context(), stream.CreateParams{
		Payer:              req.Payer,
		Payee:              req.Payee,
		AuthorizedReporter: req.AuthorizedReporter,
		BaseRatePerUnit:    req.BaseRatePerUnit,
		MaxPayPerInterval:  req.MaxPayPerInterval,
		SettlementInterval: time.Duration(req.SettlementIntervalSecs) * time.Second,
		Deposit:            req.Deposit,
	})
	if err != nil {
		// Scheduling failures still created the stream; surface the id so the
		// caller can top up and resume later.
		var schedErr *app.ScheduleCreationError
		switch {
		case errors.As(err, &schedErr):
			writeJSON(w, http.StatusAccepted, map[string]any{
				"id":     id,
				"status": "paused",
				"reason": schedErr.Reason,
			})
			return
		case errors.Is(err, app.ErrNoCapacityFound) && id != 0:
			writeJSON(w, http.StatusAccepted, map[string]any{
				"id":     id,
				"status": "paused",
				"reason": "no scheduler capacity",
			})
			return
		}
		h.writeDomainError(w, err)
		return
	}

	rec, err := h.engine.StreamInfo(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, toStreamResponse(rec))
}

// ListStreams returns all streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := h.engine.Streams(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]StreamResponse, 0, len(streams))
	for _, s := range streams {
		out = append(out, toStreamResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": out})
}

// GetStream returns one stream.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.StreamInfo(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamResponse(rec))
}

// -----------------------------------------------------------------------------
// Reports, deposits, lifecycle
// -----------------------------------------------------------------------------

// ReportRequest represents a signed usage report submitted over HTTP.
type ReportRequest struct {
	CumulativeUsage int64  `json:"cumulative_usage"`
	BaseRate        int64  `json:"base_rate"`
	CongestionBps   int64  `json:"congestion_bps"`
	Timestamp       int64  `json:"timestamp"`
	Nonce           uint64 `json:"nonce"`
	Signature       string `json:"signature"` // hex-encoded ed25519 signature
}

// SubmitReport accepts a signed usage report for a stream.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_signature", "Signature must be hex encoded")
		return
	}

	err = h.engine.ReportUsage(r.Context(), attest.Report{
		StreamID:        id,
		CumulativeUsage: req.CumulativeUsage,
		BaseRate:        req.BaseRate,
		CongestionBps:   req.CongestionBps,
		Timestamp:       req.Timestamp,
		Nonce:           req.Nonce,
		Signature:       sig,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// TopUpRequest represents a deposit top-up.
type TopUpRequest struct {
	Caller string `json:"caller"`
	Amount int64  `json:"amount"`
}

// TopUp adds funds to a stream's deposit.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if err := h.engine.TopUpDeposit(r.Context(), id, req.Caller, req.Amount); err != nil {
		h.writeDomainError(w, err)
		return
	}

	rec, err := h.engine.StreamInfo(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamResponse(rec))
}

// StopRequest represents a stream stop request.
type StopRequest struct {
	Caller string `json:"caller"`
}

// Stop pauses a stream and cancels its pending settlement.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}

	var req StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if err := h.engine.StopStream(r.Context(), id, req.Caller); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// PricingSnapshotResponse represents one pricing history entry.
type PricingSnapshotResponse struct {
	BaseRate      int64  `json:"base_rate"`
	CongestionBps int64  `json:"congestion_bps"`
	EffectiveRate int64  `json:"effective_rate"`
	Timestamp     string `json:"timestamp"`
}

// PricingHistory returns the recorded effective-rate history of a stream.
func (h *Handler) PricingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}
	snaps, err := h.engine.PricingHistory(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]PricingSnapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, PricingSnapshotResponse{
			BaseRate:      s.BaseRate,
			CongestionBps: s.CongestionBps,
			EffectiveRate: s.EffectiveRate,
			Timestamp:     s.Timestamp.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (h *Handler) streamID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "Stream id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var nonceErr *stream.InvalidNonceError
	var earlyErr *stream.TooEarlyToSettleError

	switch {
	case errors.Is(err, stream.ErrStreamNotFound):
		writeError(w, http.StatusNotFound, "stream_not_found", err.Error())
	case errors.As(err, &nonceErr):
		writeError(w, http.StatusConflict, "invalid_nonce", err.Error())
	case errors.As(err, &earlyErr):
		writeError(w, http.StatusConflict, "too_early", err.Error())
	case errors.Is(err, stream.ErrUsageNotIncreasing):
		writeError(w, http.StatusConflict, "usage_not_increasing", err.Error())
	case errors.Is(err, stream.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
	case errors.Is(err, stream.ErrOnlyPayer), errors.Is(err, stream.ErrOnlyPayerOrPayee):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, stream.ErrStreamNotActive):
		writeError(w, http.StatusConflict, "stream_not_active", err.Error())
	case errors.Is(err, stream.ErrInvalidPayee),
		errors.Is(err, stream.ErrInvalidInterval),
		errors.Is(err, stream.ErrInvalidReporter),
		errors.Is(err, stream.ErrNoDeposit),
		errors.Is(err, stream.ErrInvalidAmount),
		errors.Is(err, stream.ErrInvalidCongestionFactor):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error().Err(err).Msg("admin api internal error")
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
