package securestore

import (
	"crypto/rand"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	store, err := NewStore(":memory:", key)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSetGet(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(SlotEmailSalt, "s1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := store.Get(SlotEmailSalt, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || value != "s1" {
		t.Errorf("Get = (%q, %v), want (s1, true)", value, ok)
	}

	// Non-deleting reads can repeat.
	value, ok, err = store.Get(SlotEmailSalt, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || value != "s1" {
		t.Errorf("second Get = (%q, %v), want (s1, true)", value, ok)
	}
}

func TestDeleteAfterReadIsSingleUse(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(SlotPrivateKey, "deadbeef"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := store.Get(SlotPrivateKey, true)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if !ok || value != "deadbeef" {
		t.Errorf("first Get = (%q, %v), want (deadbeef, true)", value, ok)
	}

	value, ok, err = store.Get(SlotPrivateKey, true)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if ok || value != "" {
		t.Errorf("second Get = (%q, %v), want absent", value, ok)
	}
}

func TestGetMissingSlot(t *testing.T) {
	store := newTestStore(t)

	value, ok, err := store.Get(SlotUserID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || value != "" {
		t.Errorf("Get = (%q, %v), want absent", value, ok)
	}
}

func TestSetOverwrites(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(SlotOrganizationID, "org1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(SlotOrganizationID, "org2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := store.Get(SlotOrganizationID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || value != "org2" {
		t.Errorf("Get = (%q, %v), want (org2, true)", value, ok)
	}
}

func TestValuesEncryptedAtRest(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secrets.db")

	store, err := NewStore(path, key)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Set(SlotEmail, "a@b.com"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var sealed []byte
	if err := store.db.QueryRow(`SELECT value FROM secret_slots WHERE slot = ?`, SlotEmail).Scan(&sealed); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if string(sealed) == "a@b.com" {
		t.Error("value stored in plaintext")
	}
	store.Close()

	// Reopen with the same key and read back.
	store, err = NewStore(path, key)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	value, ok, err := store.Get(SlotEmail, true)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !ok || value != "a@b.com" {
		t.Errorf("Get after reopen = (%q, %v), want (a@b.com, true)", value, ok)
	}
}

func TestWrongKeyFailsDecrypt(t *testing.T) {
	key := make([]byte, 32)
	path := filepath.Join(t.TempDir(), "secrets.db")

	store, err := NewStore(path, key)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Set(SlotUserID, "u1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	store.Close()

	other := make([]byte, 32)
	other[0] = 1
	store, err = NewStore(path, other)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	if _, _, err := store.Get(SlotUserID, false); err == nil {
		t.Error("expected decrypt failure with wrong key")
	}
}
