// Package stream provides the payment-stream ledger value types and pure
// functions for accrual and settlement bookkeeping. All functions here are
// deterministic with no side effects; orchestration and I/O live in app.
package stream

import "time"

// Status represents the lifecycle state of a stream.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Stream represents one recurring metered payment obligation between a payer
// and a payee (value type). Amounts are integer cents; rates are cents per
// usage unit; congestion factors are basis points (10000 = 1.0x).
type Stream struct {
	ID                 int64
	Payer              string
	Payee              string
	AuthorizedReporter string // hex-encoded ed25519 public key

	BaseRatePerUnit    int64 // default rate seeded at creation; reports carry the authoritative rate
	MaxPayPerInterval  int64 // safety cap on any single settlement payout
	SettlementInterval time.Duration

	DepositBalance  int64 // prepaid funds, never negative
	AccruedAmount   int64 // owed but not yet paid
	TotalUsageUnits int64 // cumulative meter reading, strictly increasing
	ReporterNonce   uint64

	Active             bool
	ScheduleHandle     string // opaque scheduler reference, empty when paused
	CreatedAt          time.Time
	LastSettlementTime time.Time
	NextSettlementTime time.Time
	SettlementCount    int64
}

// Status returns the lifecycle status derived from the active flag.
func (s Stream) Status() Status {
	if s.Active {
		return StatusActive
	}
	return StatusPaused
}

// Solvent reports whether the deposit covers everything currently owed.
func (s Stream) Solvent() bool {
	return s.DepositBalance >= s.AccruedAmount
}

// lowBalanceThresholdPct is the accrued/deposit ratio above which a
// low-balance warning is emitted.
const lowBalanceThresholdPct = 80

// LowBalance reports whether accrued charges have consumed 80% or more of the
// remaining deposit. Advisory only; settlement behaviour does not change.
func (s Stream) LowBalance() bool {
	if s.DepositBalance <= 0 {
		return s.AccruedAmount > 0
	}
	return s.AccruedAmount*100 >= s.DepositBalance*lowBalanceThresholdPct
}

// CreateParams carries the creation-time parameters for a stream.
type CreateParams struct {
	Payer              string
	Payee              string
	AuthorizedReporter string
	BaseRatePerUnit    int64
	MaxPayPerInterval  int64
	SettlementInterval time.Duration
	Deposit            int64
}

// ValidateCreate checks creation preconditions.
// This is a PURE function.
func ValidateCreate(p CreateParams) error {
	if p.Payee == "" {
		return ErrInvalidPayee
	}
	if p.SettlementInterval <= 0 {
		return ErrInvalidInterval
	}
	if p.AuthorizedReporter == "" {
		return ErrInvalidReporter
	}
	if p.Deposit <= 0 {
		return ErrNoDeposit
	}
	return nil
}

// New builds a fresh stream record from validated parameters.
// This is a PURE function.
func New(id int64, p CreateParams, now time.Time) Stream {
	return Stream{
		ID:                 id,
		Payer:              p.Payer,
		Payee:              p.Payee,
		AuthorizedReporter: p.AuthorizedReporter,
		BaseRatePerUnit:    p.BaseRatePerUnit,
		MaxPayPerInterval:  p.MaxPayPerInterval,
		SettlementInterval: p.SettlementInterval,
		DepositBalance:     p.Deposit,
		Active:             true,
		CreatedAt:          now,
		LastSettlementTime: now,
		NextSettlementTime: now.Add(p.SettlementInterval),
	}
}

// ValidateReport checks the report preconditions that do not require the
// signature: lifecycle, nonce sequence, usage monotonicity, and factor range.
// Checks run in that order so callers surface the most specific error.
// This is a PURE function.
func ValidateReport(s Stream, nonce uint64, newCumulativeUsage, congestionBps, minBps, maxBps int64) error {
	if !s.Active {
		return ErrStreamNotActive
	}
	if nonce != s.ReporterNonce+1 {
		return &InvalidNonceError{Submitted: nonce, Expected: s.ReporterNonce + 1}
	}
	if newCumulativeUsage <= s.TotalUsageUnits {
		return ErrUsageNotIncreasing
	}
	if congestionBps < minBps || congestionBps > maxBps {
		return ErrInvalidCongestionFactor
	}
	return nil
}

// ApplyReport applies an accepted usage report: accrues the cost of the usage
// delta at the effective rate and advances both replay counters.
// This is a PURE function.
func ApplyReport(s Stream, newCumulativeUsage int64, nonce uint64, effectiveRate int64) (Stream, int64) {
	delta := newCumulativeUsage - s.TotalUsageUnits
	cost := delta * effectiveRate

	s.AccruedAmount += cost
	s.TotalUsageUnits = newCumulativeUsage
	s.ReporterNonce = nonce
	return s, cost
}

// ValidateSettle checks that a settlement invocation is admissible now.
// This is a PURE function.
func ValidateSettle(s Stream, now time.Time) error {
	if !s.Active {
		return ErrStreamNotActive
	}
	earliest := s.LastSettlementTime.Add(s.SettlementInterval)
	if now.Before(earliest) {
		return &TooEarlyToSettleError{Now: now, Earliest: earliest}
	}
	return nil
}

// AmountDue returns the payout for the current cycle: accrued charges capped
// by the per-interval safety limit. The remainder stays accrued for the next
// cycle. Never inspects the deposit; solvency is the caller's branch.
// This is a PURE function.
func AmountDue(s Stream) int64 {
	if s.AccruedAmount < s.MaxPayPerInterval {
		return s.AccruedAmount
	}
	return s.MaxPayPerInterval
}

// ApplySettlement debits the deposit and accrued balances and advances the
// settlement bookkeeping. Caller must have verified amount <= DepositBalance.
// This is a PURE function.
func ApplySettlement(s Stream, amount int64, now time.Time) Stream {
	s.DepositBalance -= amount
	s.AccruedAmount -= amount
	s.LastSettlementTime = now
	s.NextSettlementTime = now.Add(s.SettlementInterval)
	s.SettlementCount++
	return s
}

// Pause deactivates the stream and clears the pending schedule reference.
// This is a PURE function.
func Pause(s Stream) Stream {
	s.Active = false
	s.ScheduleHandle = ""
	return s
}

// Resume reactivates a paused stream. The caller arms the next settlement and
// stores the returned handle separately.
// This is a PURE function.
func Resume(s Stream) Stream {
	s.Active = true
	return s
}
