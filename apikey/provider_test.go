package apikey

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestGenerateNonceBindingEmail(t *testing.T) {
	m, err := Generate(LoginMethodEmail)
	if err != nil {
		t.Fatalf("Failed to generate material: %v", err)
	}

	if len(m.PublicKey) != 33 {
		t.Errorf("Expected 33-byte compressed key, got %d bytes", len(m.PublicKey))
	}
	if len(m.PublicKeyUncompressed) != 65 {
		t.Errorf("Expected 65-byte uncompressed key, got %d bytes", len(m.PublicKeyUncompressed))
	}

	sum := sha256.Sum256(m.PublicKeyUncompressed)
	want := hex.EncodeToString(sum[:])
	if m.Nonce != want {
		t.Errorf("Email nonce must hash the uncompressed key: got %s, want %s", m.Nonce, want)
	}
}

func TestGenerateNonceBindingSocial(t *testing.T) {
	for _, method := range []LoginMethod{LoginMethodApple, LoginMethodGoogle} {
		m, err := Generate(method)
		if err != nil {
			t.Fatalf("Failed to generate material for %s: %v", method, err)
		}

		sum := sha256.Sum256(m.PublicKey)
		want := hex.EncodeToString(sum[:])
		if m.Nonce != want {
			t.Errorf("%s nonce must hash the compressed key: got %s, want %s", method, m.Nonce, want)
		}
	}
}

func TestGenerateIndependentKeys(t *testing.T) {
	a, err := Generate(LoginMethodEmail)
	if err != nil {
		t.Fatalf("Failed to generate first material: %v", err)
	}
	b, err := Generate(LoginMethodEmail)
	if err != nil {
		t.Fatalf("Failed to generate second material: %v", err)
	}

	if bytes.Equal(a.PublicKey, b.PublicKey) {
		t.Error("Two generations produced the same public key")
	}
	if a.Nonce == b.Nonce {
		t.Error("Two generations produced the same nonce")
	}
}

func TestRefreshReplacesAllFields(t *testing.T) {
	p, err := NewProvider(LoginMethodEmail)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	before := p.Current()
	p.Refresh()
	after := p.Current()

	if before == after {
		t.Fatal("Refresh did not replace the material")
	}
	if bytes.Equal(before.PublicKey, after.PublicKey) {
		t.Error("Refresh kept the old public key")
	}
	if before.Nonce == after.Nonce {
		t.Error("Refresh kept the old nonce")
	}

	// The snapshot must be internally consistent: its nonce is derived
	// from its own public key, never from a prior generation.
	sum := sha256.Sum256(after.PublicKeyUncompressed)
	if after.Nonce != hex.EncodeToString(sum[:]) {
		t.Error("Refreshed material has a nonce that does not match its own key")
	}
}

func TestRefreshKeepsMethod(t *testing.T) {
	p, err := NewProvider(LoginMethodApple)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	p.Refresh()
	m := p.Current()

	if p.Method() != LoginMethodApple {
		t.Errorf("Method = %s, want apple", p.Method())
	}
	sum := sha256.Sum256(m.PublicKey)
	if m.Nonce != hex.EncodeToString(sum[:]) {
		t.Error("Refresh under a social method must keep the compressed-key nonce rule")
	}
}

func TestResetSwitchesMethod(t *testing.T) {
	p, err := NewProvider(LoginMethodEmail)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	p.Reset(LoginMethodApple)
	m := p.Current()

	if p.Method() != LoginMethodApple {
		t.Errorf("Method = %s, want apple", p.Method())
	}
	sum := sha256.Sum256(m.PublicKey)
	if m.Nonce != hex.EncodeToString(sum[:]) {
		t.Error("After switching to a social method the nonce must hash the compressed key")
	}
}
