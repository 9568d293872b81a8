// Package apikey generates the ephemeral P-256 keypairs that bind a login
// attempt to one specific identity assertion. The nonce derived from the
// public key is embedded in the OAuth/OTP request; the private key becomes
// the session signing key once the login completes.
package apikey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// LoginMethod identifies how the user is signing in. The nonce derivation
// differs between email and social logins: email binds the uncompressed
// 65-byte public key, social logins bind the compressed 33-byte form.
type LoginMethod string

const (
	LoginMethodEmail  LoginMethod = "email"
	LoginMethodApple  LoginMethod = "apple"
	LoginMethodGoogle LoginMethod = "google"
)

// Material is one ephemeral keypair plus its derived login nonce.
// A Material is owned by the login attempt that requested it and must not
// be reused across attempts.
type Material struct {
	PrivateKey *ecdsa.PrivateKey

	// PublicKey is the SEC1 compressed encoding (33 bytes).
	PublicKey []byte

	// PublicKeyUncompressed is the SEC1 uncompressed encoding (65 bytes).
	PublicKeyUncompressed []byte

	// Nonce is hex(SHA-256(pub)) over the encoding selected by the
	// login method.
	Nonce string
}

// PublicKeyHex returns the compressed public key as lowercase hex, the
// form the custody API expects as a target/signing key reference.
func (m *Material) PublicKeyHex() string {
	return hex.EncodeToString(m.PublicKey)
}

// Generate creates a fresh keypair and nonce for the given login method.
// Each call draws independent randomness; no state is shared between calls.
func Generate(method LoginMethod) (*Material, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 keypair: %w", err)
	}

	compressed := elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)
	uncompressed := elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)

	m := &Material{
		PrivateKey:            priv,
		PublicKey:             compressed,
		PublicKeyUncompressed: uncompressed,
	}
	m.Nonce = deriveNonce(method, m)
	return m, nil
}

// deriveNonce hashes the method-appropriate public key encoding.
func deriveNonce(method LoginMethod, m *Material) string {
	var pub []byte
	if method == LoginMethodEmail {
		pub = m.PublicKeyUncompressed
	} else {
		pub = m.PublicKey
	}
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Provider holds the material for the current login attempt and replaces it
// atomically between attempts.
type Provider struct {
	mu      sync.RWMutex
	method  LoginMethod
	current *Material
}

// NewProvider creates a provider with an initial keypair for the method.
func NewProvider(method LoginMethod) (*Provider, error) {
	m, err := Generate(method)
	if err != nil {
		return nil, err
	}
	return &Provider{method: method, current: m}, nil
}

// Current returns the material for the in-progress login attempt.
// The returned snapshot is a single generation: private key, public keys and
// nonce always belong together.
func (p *Provider) Current() *Material {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Method returns the login method of the current material.
func (p *Provider) Method() LoginMethod {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.method
}

// Refresh discards the current material and installs a new generation
// under the same login method. Must be called after every completed or
// abandoned login attempt so a nonce is never presented twice. If key
// generation fails the previous material stays in place; the failure is
// logged rather than raised so an RNG hiccup does not crash the calling
// flow.
func (p *Provider) Refresh() {
	p.Reset(p.Method())
}

// Reset switches the provider to a new login method and installs a fresh
// generation under its nonce rule. Same failure behavior as Refresh.
func (p *Provider) Reset(method LoginMethod) {
	m, err := Generate(method)
	if err != nil {
		log.Error().Err(err).Str("method", string(method)).Msg("Key refresh failed, keeping previous material")
		return
	}

	p.mu.Lock()
	p.method = method
	p.current = m
	p.mu.Unlock()
}
