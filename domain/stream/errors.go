package stream

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for precondition violations. Mutating operations reject
// atomically: any of these means no state was changed.
var (
	ErrStreamNotFound          = errors.New("stream not found")
	ErrInvalidPayee            = errors.New("payee must be non-empty")
	ErrInvalidInterval         = errors.New("settlement interval must be positive")
	ErrInvalidReporter         = errors.New("authorized reporter must be non-empty")
	ErrNoDeposit               = errors.New("initial deposit must be positive")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrStreamNotActive         = errors.New("stream is not active")
	ErrUsageNotIncreasing      = errors.New("cumulative usage must strictly increase")
	ErrInvalidCongestionFactor = errors.New("congestion factor outside allowed range")
	ErrInvalidSignature        = errors.New("attestation signature invalid")
	ErrOnlyPayer               = errors.New("only the payer may perform this operation")
	ErrOnlyPayerOrPayee        = errors.New("only the payer or payee may perform this operation")
)

// InvalidNonceError reports an attestation whose nonce is not exactly the
// stored nonce plus one. Carries both values so the reporter can resync.
type InvalidNonceError struct {
	Submitted uint64
	Expected  uint64
}

func (e *InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid reporter nonce: submitted %d, expected %d", e.Submitted, e.Expected)
}

// TooEarlyToSettleError reports a settle invocation before the interval
// elapsed since the last settlement.
type TooEarlyToSettleError struct {
	Now      time.Time
	Earliest time.Time
}

func (e *TooEarlyToSettleError) Error() string {
	return fmt.Sprintf("too early to settle: now %s, earliest %s",
		e.Now.Format(time.RFC3339), e.Earliest.Format(time.RFC3339))
}
