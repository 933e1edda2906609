package memory

import (
	"context"
	"sync"

	"github.com/meterpay/meterpay/ports"
)

// Transfer records one completed payout.
type Transfer struct {
	Payee    string
	Amount   int64
	StreamID int64
}

// Ledger is an in-memory PayoutSender that tracks payee balances.
// Tests assert against it; single-process deployments use it as a book of
// record for settled funds.
type Ledger struct {
	mu        sync.Mutex
	balances  map[string]int64
	transfers []Transfer
	failNext  error
}

// NewLedger creates an empty payout ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]int64)}
}

// Send credits the payee balance and records the transfer.
func (l *Ledger) Send(ctx context.Context, payee string, amount int64, streamID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return err
	}

	l.balances[payee] += amount
	l.transfers = append(l.transfers, Transfer{Payee: payee, Amount: amount, StreamID: streamID})
	return nil
}

// Balance returns the credited total for a payee.
func (l *Ledger) Balance(payee string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[payee]
}

// Transfers returns all recorded transfers (for testing).
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer{}, l.transfers...)
}

// FailNext makes the next Send return err (for testing).
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Ensure interface compliance.
var _ ports.PayoutSender = (*Ledger)(nil)
