// Package memory provides in-memory adapter implementations.
// Used for tests and single-process deployments without persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
	"github.com/meterpay/meterpay/ports"
)

// StreamStore is an in-memory implementation of ports.StreamStore: an
// arena-style map from stream id to record, ids assigned monotonically.
type StreamStore struct {
	mu        sync.RWMutex
	nextID    int64
	streams   map[int64]stream.Stream
	snapshots map[int64][]pricing.Snapshot
}

// NewStreamStore creates a new in-memory stream store.
func NewStreamStore() *StreamStore {
	return &StreamStore{
		nextID:    1,
		streams:   make(map[int64]stream.Stream),
		snapshots: make(map[int64][]pricing.Snapshot),
	}
}

// Create stores a new stream and returns its assigned id.
func (s *StreamStore) Create(ctx context.Context, rec stream.Stream) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	rec.ID = id
	s.streams[id] = rec
	return id, nil
}

// Get retrieves a stream by id.
func (s *StreamStore) Get(ctx context.Context, id int64) (stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.streams[id]
	if !ok {
		return stream.Stream{}, stream.ErrStreamNotFound
	}
	return rec, nil
}

// Update replaces a stream record.
func (s *StreamStore) Update(ctx context.Context, rec stream.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[rec.ID]; !ok {
		return stream.ErrStreamNotFound
	}
	s.streams[rec.ID] = rec
	return nil
}

// List returns all streams ordered by id.
func (s *StreamStore) List(ctx context.Context) ([]stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]stream.Stream, 0, len(s.streams))
	for _, rec := range s.streams {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendSnapshot appends one pricing history entry for a stream.
func (s *StreamStore) AppendSnapshot(ctx context.Context, snap pricing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.StreamID] = append(s.snapshots[snap.StreamID], snap)
	return nil
}

// Snapshots returns the pricing history for a stream, oldest first.
func (s *StreamStore) Snapshots(ctx context.Context, streamID int64) ([]pricing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[streamID]
	out := make([]pricing.Snapshot, len(history))
	copy(out, history)
	return out, nil
}

// Ensure interface compliance.
var _ ports.StreamStore = (*StreamStore)(nil)
