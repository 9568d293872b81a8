package custody

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv
}

func TestSessionTokenRoundTrip(t *testing.T) {
	token, err := EncodeSessionToken("org1", "u1", "02abcd", "READ_WRITE", 1893456000)
	if err != nil {
		t.Fatalf("EncodeSessionToken: %v", err)
	}

	priv := testKey(t)
	session, err := SessionFromToken(token, priv, "https://custody.example")
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if session.OrganizationID != "org1" {
		t.Errorf("OrganizationID = %q, want org1", session.OrganizationID)
	}
	if session.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", session.UserID)
	}
	if session.PublicKey != "02abcd" {
		t.Errorf("PublicKey = %q, want 02abcd", session.PublicKey)
	}
	if session.PrivateKey != priv {
		t.Error("PrivateKey not carried through")
	}
	if session.BaseURL != "https://custody.example" {
		t.Errorf("BaseURL = %q", session.BaseURL)
	}
}

func TestSessionFromTokenMissingFields(t *testing.T) {
	full := map[string]any{
		"organization_id": "org1",
		"user_id":         "u1",
		"public_key":      "02abcd",
		"session_type":    "READ_WRITE",
		"exp":             1893456000,
	}

	for field := range full {
		partial := make(map[string]any, len(full)-1)
		for k, v := range full {
			if k != field {
				partial[k] = v
			}
		}
		payload, err := json.Marshal(partial)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		token := "hdr." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"

		_, err = SessionFromToken(token, testKey(t), "https://custody.example")
		if err == nil {
			t.Fatalf("token missing %s: expected error, got none", field)
		}
		var missing *MissingFieldError
		if !errors.As(err, &missing) {
			t.Fatalf("token missing %s: error %v is not a MissingFieldError", field, err)
		}
		if missing.Field != field {
			t.Errorf("token missing %s: error names field %s", field, missing.Field)
		}
	}
}

func TestSessionFromTokenMalformed(t *testing.T) {
	if _, err := SessionFromToken("not-a-token", testKey(t), ""); err == nil {
		t.Error("expected error for token without segments")
	}
	if _, err := SessionFromToken("hdr.!!!not-base64!!!.sig", testKey(t), ""); err == nil {
		t.Error("expected error for undecodable payload")
	}
	token := "hdr." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".sig"
	if _, err := SessionFromToken(token, testKey(t), ""); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestPrivateKeyFromBytesRoundTrip(t *testing.T) {
	priv := testKey(t)

	rebuilt, err := PrivateKeyFromBytes(priv.D.Bytes())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if rebuilt.PublicKey.X.Cmp(priv.PublicKey.X) != 0 || rebuilt.PublicKey.Y.Cmp(priv.PublicKey.Y) != 0 {
		t.Error("rebuilt key has different public point")
	}
}

func TestPrivateKeyFromBytesRejectsZero(t *testing.T) {
	if _, err := PrivateKeyFromBytes(make([]byte, 32)); err == nil {
		t.Error("expected error for zero scalar")
	}
}
