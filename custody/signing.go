package custody

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrSigningFailed = errors.New("signing result missing from response")

type signRawPayloadParams struct {
	SignWith     string `json:"signWith"`
	Payload      string `json:"payload"`
	Encoding     string `json:"encoding"`
	HashFunction string `json:"hashFunction"`
}

// signDigest asks the custody API to sign a pre-hashed 32-byte digest
// with the key behind signWith. The no-op hash function keeps the
// service from hashing again. Returns the r‖s‖v concatenation as one
// 0x-prefixed hex string.
func (c *Client) signDigest(ctx context.Context, signWith string, digest []byte) (string, error) {
	params := signRawPayloadParams{
		SignWith:     signWith,
		Payload:      "0x" + hex.EncodeToString(digest),
		Encoding:     payloadEncodingHex,
		HashFunction: hashFunctionNoOp,
	}
	result, err := c.submitActivity(ctx, "/public/v1/submit/sign_raw_payload", activitySignRawPayload, params)
	if err != nil {
		return "", err
	}
	sig := result.SignRawPayloadResult
	if sig == nil || sig.R == "" || sig.S == "" || sig.V == "" {
		return "", ErrSigningFailed
	}

	r := strings.TrimPrefix(sig.R, "0x")
	s := strings.TrimPrefix(sig.S, "0x")
	v := strings.TrimPrefix(sig.V, "0x")
	return "0x" + r + s + v, nil
}

// SignOnboardingMessage signs the chain onboarding typed-data digest
// with the account behind address.
func (c *Client) SignOnboardingMessage(ctx context.Context, address, salt string) (string, error) {
	return c.signDigest(ctx, address, OnboardingTypedDataHash(salt))
}

// SignUploadAddressMessage signs the personal-message digest of the
// dYdX address with the EVM account, proving the two belong together.
func (c *Client) SignUploadAddressMessage(ctx context.Context, address, dydxAddress string) (string, error) {
	return c.signDigest(ctx, address, PersonalMessageHash([]byte(dydxAddress)))
}
