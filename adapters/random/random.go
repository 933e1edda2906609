// Package random provides Random implementations.
package random

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/meterpay/meterpay/ports"
)

// Crypto reads from the operating system entropy source. If that fails it
// falls back to a time-seeded PRNG rather than erroring: jitter quality
// degrades, probing still works.
type Crypto struct {
	mu       sync.Mutex
	fallback *mathrand.Rand
}

// NewCrypto creates the default random source.
func NewCrypto() *Crypto {
	return &Crypto{}
}

// Bytes generates n random bytes.
func (c *Crypto) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err == nil {
		return b, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback == nil {
		c.fallback = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	for i := range b {
		b[i] = byte(c.fallback.Intn(256))
	}
	return b, nil
}

// Ensure interface compliance.
var _ ports.Random = (*Crypto)(nil)

// Deterministic is a seeded random source for testing.
type Deterministic struct {
	mu  sync.Mutex
	rng *mathrand.Rand
}

// NewDeterministic creates a deterministic source from a fixed seed.
func NewDeterministic(seed int64) *Deterministic {
	return &Deterministic{rng: mathrand.New(mathrand.NewSource(seed))}
}

// Bytes generates n pseudo-random bytes from the seed.
func (d *Deterministic) Bytes(n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := make([]byte, n)
	for i := 0; i+8 <= n; i += 8 {
		binary.BigEndian.PutUint64(b[i:], d.rng.Uint64())
	}
	for i := n - n%8; i < n; i++ {
		b[i] = byte(d.rng.Intn(256))
	}
	return b, nil
}

// Ensure interface compliance.
var _ ports.Random = (*Deterministic)(nil)
