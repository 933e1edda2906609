// Package meter provides the synthetic usage sample generator used when no
// real telemetry feed exists. It maintains only a running cumulative counter;
// randomness comes from an injected source so tests stay deterministic.
package meter

import (
	"encoding/binary"
	"sync"
)

// RandSource yields raw entropy for sample generation.
type RandSource interface {
	Bytes(n int) ([]byte, error)
}

// Sample is one generated usage observation.
type Sample struct {
	Delta      int64 // units consumed since the previous sample
	Cumulative int64 // running total including this delta
	LoadPct    int   // simulated grid/system load, 0-100
}

// Generator produces monotonically increasing usage samples.
type Generator struct {
	mu         sync.Mutex
	rand       RandSource
	cumulative int64
	minDelta   int64
	maxDelta   int64
}

// NewGenerator creates a generator producing deltas in [minDelta, maxDelta].
func NewGenerator(rand RandSource, minDelta, maxDelta int64) *Generator {
	if minDelta < 1 {
		minDelta = 1
	}
	if maxDelta < minDelta {
		maxDelta = minDelta
	}
	return &Generator{rand: rand, minDelta: minDelta, maxDelta: maxDelta}
}

// Seed sets the cumulative counter, used to resync with engine state.
func (g *Generator) Seed(cumulative int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cumulative = cumulative
}

// Cumulative returns the current running total.
func (g *Generator) Cumulative() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cumulative
}

// Next produces the next sample and advances the cumulative counter.
func (g *Generator) Next() (Sample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, err := g.randInt(g.maxDelta - g.minDelta + 1)
	if err != nil {
		return Sample{}, err
	}
	delta := g.minDelta + d

	load, err := g.randInt(101)
	if err != nil {
		return Sample{}, err
	}

	g.cumulative += delta
	return Sample{
		Delta:      delta,
		Cumulative: g.cumulative,
		LoadPct:    int(load),
	}, nil
}

// randInt returns a value in [0, n) from the injected entropy source.
func (g *Generator) randInt(n int64) (int64, error) {
	if n <= 1 {
		return 0, nil
	}
	b, err := g.rand.Bytes(8)
	if err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b)
	return int64(v % uint64(n)), nil
}
