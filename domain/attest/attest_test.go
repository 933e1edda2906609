package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func testReport() Report {
	return Report{
		StreamID:        3,
		CumulativeUsage: 42,
		BaseRate:        100,
		CongestionBps:   11_500,
		Timestamp:       1_772_000_000,
		Nonce:           7,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	signed := Sign(priv, testReport())
	if len(signed.Signature) != ed25519.SignatureSize {
		t.Fatalf("signature length = %d, want %d", len(signed.Signature), ed25519.SignatureSize)
	}
	if err := Verify(Identity(pub), signed); err != nil {
		t.Errorf("Verify() = %v, want nil", err)
	}
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	identity := Identity(pub)

	tests := []struct {
		name   string
		mutate func(*Report)
	}{
		{"usage", func(r *Report) { r.CumulativeUsage++ }},
		{"base rate", func(r *Report) { r.BaseRate++ }},
		{"congestion", func(r *Report) { r.CongestionBps++ }},
		{"timestamp", func(r *Report) { r.Timestamp++ }},
		{"nonce", func(r *Report) { r.Nonce++ }},
		{"stream id", func(r *Report) { r.StreamID++ }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Sign(priv, testReport())
			tt.mutate(&r)
			if err := Verify(identity, r); err == nil {
				t.Error("tampered report verified")
			}
		})
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)

	signed := Sign(priv, testReport())
	if err := Verify(Identity(otherPub), signed); err == nil {
		t.Error("report signed by a different key verified")
	}
}

func TestVerifyRejectsBadIdentity(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	signed := Sign(priv, testReport())

	for _, identity := range []string{"", "zz", "abcd"} {
		if err := Verify(identity, signed); err == nil {
			t.Errorf("identity %q accepted", identity)
		}
	}
}

func TestCanonicalMessageDeterministic(t *testing.T) {
	a := CanonicalMessage(testReport())
	b := CanonicalMessage(testReport())
	if string(a) != string(b) {
		t.Error("canonical message is not deterministic")
	}

	other := testReport()
	other.Nonce++
	if string(a) == string(CanonicalMessage(other)) {
		t.Error("different reports share a canonical message")
	}
}
