package pricing

import "time"

// Snapshot records the pricing terms in effect when a report was accepted
// (value type). History is append-only: one snapshot at stream creation and
// one per accepted attestation.
type Snapshot struct {
	StreamID      int64
	BaseRate      int64
	CongestionBps int64
	EffectiveRate int64
	Timestamp     time.Time
}

// NewSnapshot builds a snapshot for the given terms.
// This is a PURE function.
func NewSnapshot(streamID, baseRate, congestionBps int64, at time.Time) Snapshot {
	return Snapshot{
		StreamID:      streamID,
		BaseRate:      baseRate,
		CongestionBps: congestionBps,
		EffectiveRate: EffectiveRate(baseRate, congestionBps),
		Timestamp:     at,
	}
}
