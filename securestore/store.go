// Package securestore is scoped, delete-on-read persistence for secrets
// that must survive an app-background or magic-link round trip. Values
// are encrypted at rest with ChaCha20-Poly1305 under a 32-byte store
// key; slots read with deleteAfterRead are removed in the same
// transaction, so a secret consumed once can never be replayed.
package securestore

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// Well-known slot names for the OTP continuation fields.
const (
	SlotPrivateKey     = "PRIVATE_KEY"
	SlotEmailSalt      = "EMAIL_SALT"
	SlotOrganizationID = "ORGANIZATION_ID"
	SlotUserID         = "USER_ID"
	SlotEmail          = "EMAIL"
	SlotDydxAddress    = "DYDX_ADDRESS"
)

// Store is an encrypted single-table SQLite store: one row per slot,
// last write wins.
type Store struct {
	db  *sql.DB
	key []byte // 32-byte store key

	mu sync.Mutex
}

// NewStore opens (or creates) the store at path. Use ":memory:" for an
// ephemeral store in tests.
func NewStore(path string, key []byte) (*Store, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("store key must be %d bytes", chacha20poly1305.KeySize)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS secret_slots (
		slot TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, key: key}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set writes a slot, replacing any prior value.
func (s *Store) Set(slot, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt slot %s: %w", slot, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO secret_slots (slot, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		slot, sealed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write slot %s: %w", slot, err)
	}
	return nil
}

// Get reads a slot. With deleteAfterRead the read and the delete happen
// in one transaction, so the value is handed out at most once. A
// missing slot is not an error: ok reports presence.
func (s *Store) Get(slot string, deleteAfterRead bool) (value string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sealed []byte
	err = tx.QueryRow(`SELECT value FROM secret_slots WHERE slot = ?`, slot).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read slot %s: %w", slot, err)
	}

	if deleteAfterRead {
		if _, err := tx.Exec(`DELETE FROM secret_slots WHERE slot = ?`, slot); err != nil {
			return "", false, fmt.Errorf("failed to delete slot %s: %w", slot, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit: %w", err)
	}

	plaintext, err := s.decrypt(sealed)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt slot %s: %w", slot, err)
	}
	return string(plaintext), true, nil
}

// Delete removes a slot without reading it.
func (s *Store) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM secret_slots WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", slot, err)
	}
	return nil
}

// encrypt seals plaintext with ChaCha20-Poly1305, nonce prepended.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:nonceSize]
	ciphertext = ciphertext[nonceSize:]

	return aead.Open(nil, nonce, ciphertext, nil)
}
