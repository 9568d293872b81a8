package authflow

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/halcyontrade/walletrelay/apikey"
	"github.com/halcyontrade/walletrelay/custody"
	"github.com/halcyontrade/walletrelay/securestore"
)

// InitOtpLogin starts an email login: it posts the sign-in request with
// the magic-link template and persists every continuation secret. The
// flow then suspends until the magic-link callback reaches
// CompleteOtpAuth; this call never transitions to Authenticated.
// Nothing is persisted when the backend reports an error.
func (c *Controller) InitOtpLogin(ctx context.Context, email string, material *apikey.Material) error {
	if err := c.beginLogin(string(apikey.LoginMethodEmail)); err != nil {
		return err
	}
	defer c.endLogin()

	req := &SigninRequest{
		SigninMethod:    "email",
		UserEmail:       email,
		TargetPublicKey: hex.EncodeToString(material.PublicKeyUncompressed),
		MagicLink:       c.magicLink,
	}
	resp, err := c.backend.Signin(ctx, req)
	if err != nil {
		c.fail(string(apikey.LoginMethodEmail), err)
		return err
	}

	if err := c.persistOtpState(email, material, resp); err != nil {
		c.fail(string(apikey.LoginMethodEmail), err)
		return err
	}

	log.Info().Str("method", "email").Msg("OTP login initiated, awaiting magic link")
	return nil
}

// persistOtpState writes the fields CompleteOtpAuth will consume after
// the process potentially dies and restarts.
func (c *Controller) persistOtpState(email string, material *apikey.Material, resp *SigninResponse) error {
	if material.PrivateKey != nil {
		keyHex := hex.EncodeToString(material.PrivateKey.D.Bytes())
		if err := c.store.Set(securestore.SlotPrivateKey, keyHex); err != nil {
			return err
		}
	}
	pairs := []struct{ slot, value string }{
		{securestore.SlotEmailSalt, resp.Salt},
		{securestore.SlotOrganizationID, resp.OrganizationID},
		{securestore.SlotUserID, resp.UserID},
		{securestore.SlotEmail, email},
	}
	for _, p := range pairs {
		if err := c.store.Set(p.slot, p.value); err != nil {
			return err
		}
	}
	if resp.DydxAddress != "" {
		if err := c.store.Set(securestore.SlotDydxAddress, resp.DydxAddress); err != nil {
			return err
		}
	}
	return nil
}

// otpState is the continuation state read back (and deleted) when the
// magic link fires.
type otpState struct {
	decryptKeyHex  string
	salt           string
	organizationID string
	userID         string
	email          string
	dydxAddress    string
}

// readOtpState consumes the persisted fields. Every read deletes the
// slot, so a magic-link token can be redeemed at most once. All five
// required fields must be present; a gap aborts with a named error.
func (c *Controller) readOtpState() (*otpState, error) {
	read := func(slot string) (string, bool, error) {
		return c.store.Get(slot, true)
	}

	state := &otpState{}
	fields := []struct {
		slot string
		name string
		dst  *string
	}{
		{securestore.SlotPrivateKey, "decrypt key", &state.decryptKeyHex},
		{securestore.SlotEmailSalt, "salt", &state.salt},
		{securestore.SlotOrganizationID, "organization id", &state.organizationID},
		{securestore.SlotUserID, "user id", &state.userID},
		{securestore.SlotEmail, "user email", &state.email},
	}
	for _, f := range fields {
		value, ok, err := read(f.slot)
		if err != nil {
			return nil, err
		}
		if !ok || value == "" {
			return nil, &custody.MissingFieldError{Field: f.name}
		}
		*f.dst = value
	}

	// Optional; absent when the user has no prior chain address.
	if value, ok, err := read(securestore.SlotDydxAddress); err != nil {
		return nil, err
	} else if ok {
		state.dydxAddress = value
	}
	return state, nil
}

// CompleteOtpAuth finishes an email login when the magic-link token
// arrives: it consumes the persisted continuation state, decrypts the
// token as a credential bundle with the stored decrypt key,
// reconstructs the session, and runs onboarding. Loading is cleared on
// every path.
func (c *Controller) CompleteOtpAuth(ctx context.Context, token string) (*custody.Session, error) {
	if err := c.beginLogin(string(apikey.LoginMethodEmail)); err != nil {
		return nil, err
	}
	defer c.endLogin()

	state, err := c.readOtpState()
	if err != nil {
		c.fail(string(apikey.LoginMethodEmail), err)
		return nil, err
	}

	sessionKey, err := decryptCredentialToken(token, state.decryptKeyHex)
	if err != nil {
		c.fail(string(apikey.LoginMethodEmail), err)
		return nil, err
	}

	session := custody.NewSession(sessionKey, state.organizationID, state.userID, c.custodyURL)
	client := c.newClient(session)

	if err := c.runOnboarding(ctx, client, onboardingInput{
		method:      string(apikey.LoginMethodEmail),
		userEmail:   state.email,
		salt:        state.salt,
		dydxAddress: state.dydxAddress,
	}); err != nil {
		c.fail(string(apikey.LoginMethodEmail), err)
		return nil, err
	}

	c.succeed(string(apikey.LoginMethodEmail), session, client)
	return session, nil
}

// decryptCredentialToken unwraps a magic-link token into the session
// signing key. The bundle rides in the token's second segment when the
// token is `.`-delimited, otherwise the token is the bundle itself.
func decryptCredentialToken(token, decryptKeyHex string) (*ecdsa.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(decryptKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid decrypt key encoding: %w", err)
	}
	decryptKey, err := custody.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid decrypt key: %w", err)
	}
	ecdhKey, err := decryptKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("decrypt key conversion failed: %w", err)
	}

	segment := token
	if parts := strings.Split(token, "."); len(parts) == 3 {
		segment = parts[1]
	}
	blob, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode credential bundle: %w", err)
	}

	plaintext, err := custody.DecryptBundle(ecdhKey, blob)
	if err != nil {
		return nil, err
	}

	// The bundle payload is the raw session key scalar, hex-encoded.
	scalar, err := hex.DecodeString(strings.TrimSpace(string(plaintext)))
	if err != nil {
		scalar = plaintext
	}
	key, err := custody.PrivateKeyFromBytes(scalar)
	if err != nil {
		return nil, fmt.Errorf("credential bundle does not contain a valid key: %w", err)
	}
	return key, nil
}
