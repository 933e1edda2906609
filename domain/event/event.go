// Package event defines the notification vocabulary exposed to observers
// (dashboards, bridges). Events are the only contract with those external
// collaborators; nothing in the engine reads them back.
package event

import "time"

// Type identifies a notification kind.
type Type string

const (
	StreamCreated       Type = "stream.created"
	UsageReported       Type = "usage.reported"
	PricingUpdated      Type = "pricing.updated"
	SettlementExecuted  Type = "settlement.executed"
	SettlementFailed    Type = "settlement.failed"
	SettlementScheduled Type = "settlement.scheduled"
	DepositAdded        Type = "deposit.added"
	StreamPaused        Type = "stream.paused"
	StreamResumed       Type = "stream.resumed"
	LowBalanceWarning   Type = "balance.low"
)

// Event is a single notification (value type).
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	StreamID  int64          `json:"stream_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// AllTypes returns every supported event type.
func AllTypes() []Type {
	return []Type{
		StreamCreated,
		UsageReported,
		PricingUpdated,
		SettlementExecuted,
		SettlementFailed,
		SettlementScheduled,
		DepositAdded,
		StreamPaused,
		StreamResumed,
		LowBalanceWarning,
	}
}
