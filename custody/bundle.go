package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ECIES bundle format (P-256 + AES-256-GCM):
// Bytes 0-64:   Ephemeral public key (uncompressed P-256 point)
// Bytes 65-76:  Nonce (12 bytes for AES-GCM)
// Bytes 77+:    AES-256-GCM ciphertext (with 16-byte auth tag)
const (
	bundlePublicKeySize = 65
	bundleNonceSize     = 12
	bundleTagSize       = 16
	minBundleSize       = bundlePublicKeySize + bundleNonceSize + bundleTagSize
)

var (
	ErrInvalidBundle       = errors.New("invalid bundle format")
	ErrBundleDecryptFailed = errors.New("bundle decryption failed")
)

var bundleHKDFInfo = []byte("credential-bundle-encryption")

// DecryptBundle decrypts a credential or export bundle addressed to the
// given P-256 private key.
// Format: [65-byte ephemeral pubkey][12-byte nonce][ciphertext+tag]
func DecryptBundle(recipientPrivate *ecdh.PrivateKey, blob []byte) ([]byte, error) {
	if recipientPrivate == nil {
		return nil, fmt.Errorf("%w: missing private key", ErrInvalidBundle)
	}

	if len(blob) < minBundleSize {
		return nil, fmt.Errorf("%w: bundle too short (min %d bytes)", ErrInvalidBundle, minBundleSize)
	}

	ephemeralBytes := blob[:bundlePublicKeySize]
	nonce := blob[bundlePublicKeySize : bundlePublicKeySize+bundleNonceSize]
	ciphertext := blob[bundlePublicKeySize+bundleNonceSize:]

	ephemeralPublic, err := ecdh.P256().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key: %v", ErrInvalidBundle, err)
	}

	sharedSecret, err := recipientPrivate.ECDH(ephemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("ECDH key exchange failed: %w", err)
	}
	defer zeroBytes(sharedSecret)

	aesKey, err := deriveBundleKey(sharedSecret, ephemeralBytes)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(aesKey)

	aead, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleDecryptFailed, err)
	}

	return plaintext, nil
}

// EncryptBundle encrypts plaintext to a P-256 public key in the bundle
// format above. Used by tests and by the relay's local re-encryption path.
func EncryptBundle(recipientPublic *ecdh.PublicKey, plaintext []byte) ([]byte, error) {
	if recipientPublic == nil {
		return nil, fmt.Errorf("%w: missing public key", ErrInvalidBundle)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephemeralBytes := ephemeral.PublicKey().Bytes()

	sharedSecret, err := ephemeral.ECDH(recipientPublic)
	if err != nil {
		return nil, fmt.Errorf("ECDH key exchange failed: %w", err)
	}
	defer zeroBytes(sharedSecret)

	aesKey, err := deriveBundleKey(sharedSecret, ephemeralBytes)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(aesKey)

	aead, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, bundleNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 0, bundlePublicKeySize+bundleNonceSize+len(ciphertext))
	blob = append(blob, ephemeralBytes...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return blob, nil
}

// deriveBundleKey derives the AES key with HKDF-SHA256. Info includes the
// ephemeral public key for domain separation.
func deriveBundleKey(sharedSecret, ephemeralPublic []byte) ([]byte, error) {
	info := append(append([]byte{}, bundleHKDFInfo...), ephemeralPublic...)
	hkdfReader := hkdf.New(sha256.New, sharedSecret, nil, info)
	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, aesKey); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return aesKey, nil
}

func newGCM(aesKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return aead, nil
}

// zeroBytes overwrites a byte slice with zeros
// SECURITY: Used to clear key material from memory
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
