// Package attest provides the canonical usage/pricing attestation message and
// its ed25519 signing and verification. The message encoding is deterministic
// so signer and verifier never disagree on bytes.
package attest

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// domainTag separates attestation signatures from any other message the same
// key might sign.
const domainTag = "meterpay.usage-report.v1"

// Report is the signed payload a reporter submits: the new cumulative meter
// reading plus the pricing terms it observed (value type).
type Report struct {
	StreamID        int64
	CumulativeUsage int64
	BaseRate        int64
	CongestionBps   int64
	Timestamp       int64 // unix seconds
	Nonce           uint64
	Signature       []byte
}

// CanonicalMessage returns the exact bytes covered by the signature: the
// domain tag followed by the six fields in big-endian order.
// This is a PURE function.
func CanonicalMessage(r Report) []byte {
	buf := make([]byte, 0, len(domainTag)+6*8)
	buf = append(buf, domainTag...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.StreamID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.CumulativeUsage))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.BaseRate))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.CongestionBps))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Timestamp))
	buf = binary.BigEndian.AppendUint64(buf, r.Nonce)
	return buf
}

// Sign returns a copy of the report with the signature populated.
func Sign(priv ed25519.PrivateKey, r Report) Report {
	r.Signature = ed25519.Sign(priv, CanonicalMessage(r))
	return r
}

// Verify checks the report signature against the hex-encoded public key that
// identifies the stream's authorized reporter.
// This is a PURE function.
func Verify(reporterIdentity string, r Report) error {
	pub, err := hex.DecodeString(reporterIdentity)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("reporter identity is not a valid ed25519 public key")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), CanonicalMessage(r), r.Signature) {
		return fmt.Errorf("signature does not verify against reporter %s", reporterIdentity)
	}
	return nil
}

// Identity returns the canonical identity string for an ed25519 public key.
// This is a PURE function.
func Identity(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
