// Package hasher provides admin API key hashing implementations.
package hasher

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/meterpay/meterpay/ports"
)

// Bcrypt hashes admin API keys with bcrypt. Keys are compared on every
// authenticated request, so the cost is a latency knob as much as a security
// one.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. An out-of-range cost falls back to the
// bcrypt default.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash generates a bcrypt hash of the key.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare reports whether the key matches the stored hash.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Ensure interface compliance.
var _ ports.Hasher = (*Bcrypt)(nil)

// Fake stores keys in the clear and compares by equality. Test use only.
type Fake struct{}

// Hash returns the plaintext unchanged.
func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte(plaintext), nil
}

// Compare is plain string equality.
func (Fake) Compare(hash []byte, plaintext string) bool {
	return string(hash) == plaintext
}

// Ensure interface compliance.
var _ ports.Hasher = Fake{}
