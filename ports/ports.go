// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/meterpay/meterpay/domain/attest"
	"github.com/meterpay/meterpay/domain/event"
	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides credential hashing for the admin API.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// StreamStore persists stream records and their pricing history.
// The engine serializes mutations per stream; stores only need to be safe for
// concurrent access across different streams.
type StreamStore interface {
	// Create stores a new stream and returns its assigned id.
	// IDs are monotonically assigned.
	Create(ctx context.Context, s stream.Stream) (int64, error)

	// Get retrieves a stream by id.
	Get(ctx context.Context, id int64) (stream.Stream, error)

	// Update replaces a stream record.
	Update(ctx context.Context, s stream.Stream) error

	// List returns all streams.
	List(ctx context.Context) ([]stream.Stream, error)

	// AppendSnapshot appends one pricing history entry for a stream.
	AppendSnapshot(ctx context.Context, snap pricing.Snapshot) error

	// Snapshots returns the pricing history for a stream, oldest first.
	Snapshots(ctx context.Context, streamID int64) ([]pricing.Snapshot, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// Scheduler is the external callback service the engine re-arms itself
// against. All three calls can fail; the engine never assumes success.
type Scheduler interface {
	// RequestCallback asks for an invocation of the named target at or after
	// notBefore, consuming resourceBudget capacity in that slot. Returns an
	// opaque handle usable for cancellation.
	RequestCallback(ctx context.Context, target string, streamID int64, notBefore time.Time, resourceBudget int64) (handle string, err error)

	// HasCapacity reports whether the slot containing t can still absorb
	// resourceBudget.
	HasCapacity(ctx context.Context, t time.Time, resourceBudget int64) (bool, error)

	// Cancel withdraws a pending callback. Best-effort: a stale callback may
	// still be delivered after a successful cancel.
	Cancel(ctx context.Context, handle string) error
}

// SignatureVerifier checks attestation signatures against the stream's
// authorized reporter identity.
type SignatureVerifier interface {
	Verify(reporterIdentity string, r attest.Report) error
}

// PayoutSender transfers settled funds to a payee.
type PayoutSender interface {
	// Send transfers amount (cents) to the payee. A returned error means no
	// transfer happened and the caller must surface the failure.
	Send(ctx context.Context, payee string, amount int64, streamID int64) error
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// EventSink receives engine notifications for external observers.
// Emission is advisory: sink errors never roll back engine state.
type EventSink interface {
	Emit(ctx context.Context, e event.Event)
}
