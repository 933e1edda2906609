package memory

import (
	"context"
	"sync"

	"github.com/meterpay/meterpay/domain/event"
	"github.com/meterpay/meterpay/ports"
)

// EventRecorder is an in-memory EventSink that keeps every emitted event.
type EventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Emit records the event.
func (r *EventRecorder) Emit(ctx context.Context, e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns all recorded events in emission order.
func (r *EventRecorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event{}, r.events...)
}

// OfType returns recorded events of one type, in emission order.
func (r *EventRecorder) OfType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes all recorded events (for testing).
func (r *EventRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Ensure interface compliance.
var _ ports.EventSink = (*EventRecorder)(nil)
