// Package signer provides ed25519 signing and verification adapters for
// usage attestations.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/meterpay/meterpay/domain/attest"
	"github.com/meterpay/meterpay/ports"
)

// Ed25519Verifier verifies attestation signatures against reporter
// identities (hex-encoded public keys).
type Ed25519Verifier struct{}

// Verify checks the report signature.
func (Ed25519Verifier) Verify(reporterIdentity string, r attest.Report) error {
	return attest.Verify(reporterIdentity, r)
}

// Ensure interface compliance.
var _ ports.SignatureVerifier = Ed25519Verifier{}

// Ed25519Signer holds a reporter's private key and signs reports.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateSigner creates a signer with a fresh key pair.
func GenerateSigner() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate reporter key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, nil
}

// Sign returns the report with its signature populated.
func (s *Ed25519Signer) Sign(r attest.Report) attest.Report {
	return attest.Sign(s.priv, r)
}

// Identity returns the hex identity of the signer's public key.
func (s *Ed25519Signer) Identity() string {
	return attest.Identity(s.priv.Public().(ed25519.PublicKey))
}
