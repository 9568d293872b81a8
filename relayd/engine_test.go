package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/halcyontrade/walletrelay/apikey"
	"github.com/halcyontrade/walletrelay/authflow"
	"github.com/halcyontrade/walletrelay/bridge"
	"github.com/halcyontrade/walletrelay/securestore"
)

type appleDelegate struct {
	bridge.NopDelegate

	mu     sync.Mutex
	nonces []string
}

func (d *appleDelegate) AppleAuthRequest(nonce string) {
	d.mu.Lock()
	d.nonces = append(d.nonces, nonce)
	d.mu.Unlock()
}

func newTestEngine(t *testing.T) (*WalletEngine, *appleDelegate) {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	store, err := securestore.NewStore(":memory:", key)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	delegate := &appleDelegate{}
	router := bridge.NewRouter(time.Second)
	router.SetDelegate(delegate)

	controller := authflow.NewController(authflow.Config{
		BackendURL: "http://backend.invalid",
		CustodyURL: "http://custody.invalid",
	}, store, router)

	provider, err := apikey.NewProvider(apikey.LoginMethodEmail)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	return NewWalletEngine(controller, provider, router), delegate
}

func TestStartAppleLoginPresentsFreshNonce(t *testing.T) {
	engine, delegate := newTestEngine(t)

	engine.StartAppleLogin()

	if len(delegate.nonces) != 1 {
		t.Fatalf("AppleAuthRequest called %d times, want 1", len(delegate.nonces))
	}

	// The prompt nonce is the current generation's, derived under the
	// social rule (compressed key), and stays current until the identity
	// token comes back.
	material := engine.provider.Current()
	if delegate.nonces[0] != material.Nonce {
		t.Error("prompt nonce does not match the current key material")
	}
	if engine.provider.Method() != apikey.LoginMethodApple {
		t.Errorf("provider method = %s, want apple", engine.provider.Method())
	}
	sum := sha256.Sum256(material.PublicKey)
	if material.Nonce != hex.EncodeToString(sum[:]) {
		t.Error("prompt nonce does not hash the compressed public key")
	}
}

func TestStartAppleLoginRotatesBetweenPrompts(t *testing.T) {
	engine, delegate := newTestEngine(t)

	engine.StartAppleLogin()
	engine.StartAppleLogin()

	if len(delegate.nonces) != 2 {
		t.Fatalf("AppleAuthRequest called %d times, want 2", len(delegate.nonces))
	}
	if delegate.nonces[0] == delegate.nonces[1] {
		t.Error("two prompts presented the same nonce")
	}
}
