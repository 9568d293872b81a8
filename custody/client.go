// Package custody implements the stamped RPC client for the remote
// key-custody service: wallet and account listing, wallet export with
// local bundle decryption, and raw-payload signing. Every request body
// is signed with the session's P-256 key and carried in an X-Stamp
// header; the service never sees the private key.
package custody

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	stampHeader = "X-Stamp"
	stampScheme = "SIGNATURE_SCHEME_TK_API_P256"

	activityExportWallet   = "ACTIVITY_TYPE_EXPORT_WALLET"
	activitySignRawPayload = "ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2"

	payloadEncodingHex = "PAYLOAD_ENCODING_HEXADECIMAL"
	hashFunctionNoOp   = "HASH_FUNCTION_NO_OP"
)

// Client performs stamped calls against the custody API on behalf of a
// single Session. Wallet accounts are memoized for the client's
// lifetime after the first successful fetch.
type Client struct {
	session    *Session
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	accounts *AccountSet
}

// NewClient binds a stamped client to a session. A nil httpClient gets
// a default with a 30s timeout.
func NewClient(session *Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		session:    session,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Session returns the session this client stamps with.
func (c *Client) Session() *Session {
	return c.session
}

// apiStamp is the JSON carried base64url-encoded in the X-Stamp header.
type apiStamp struct {
	PublicKey string `json:"publicKey"`
	Scheme    string `json:"scheme"`
	Signature string `json:"signature"`
}

// stamp signs the request body with the session key: DER ECDSA over
// SHA-256 of the exact bytes on the wire.
func (c *Client) stamp(body []byte) (string, error) {
	digest := sha256.Sum256(body)
	sig, err := ecdsa.SignASN1(rand.Reader, c.session.PrivateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	raw, err := json.Marshal(apiStamp{
		PublicKey: c.session.PublicKey,
		Scheme:    stampScheme,
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode stamp: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// post sends one stamped JSON request and decodes the response body
// into out. A single attempt, no retries: the caller decides whether a
// failure is worth retrying.
func (c *Client) post(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	stamp, err := c.stamp(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.session.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(stampHeader, stamp)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("custody request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read custody response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Custody API returned non-OK status")
		return fmt.Errorf("custody API error (status %d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse custody response: %w", err)
	}
	return nil
}

// activityRequest is the envelope for custody submit calls. Timestamps
// are milliseconds at call time, as a decimal string.
type activityRequest struct {
	Type           string `json:"type"`
	TimestampMs    string `json:"timestampMs"`
	OrganizationID string `json:"organizationId"`
	Parameters     any    `json:"parameters"`
}

type activityResponse struct {
	Activity struct {
		Status string         `json:"status"`
		Result activityResult `json:"result"`
	} `json:"activity"`
}

type activityResult struct {
	ExportWalletResult   *exportWalletResult   `json:"exportWalletResult"`
	SignRawPayloadResult *signRawPayloadResult `json:"signRawPayloadResult"`
}

type exportWalletResult struct {
	WalletID     string `json:"walletId"`
	ExportBundle string `json:"exportBundle"`
}

type signRawPayloadResult struct {
	R string `json:"r"`
	S string `json:"s"`
	V string `json:"v"`
}

// submitActivity posts one timestamped activity and returns its result.
func (c *Client) submitActivity(ctx context.Context, path, activityType string, params any) (*activityResult, error) {
	req := activityRequest{
		Type:           activityType,
		TimestampMs:    strconv.FormatInt(c.now().UnixMilli(), 10),
		OrganizationID: c.session.OrganizationID,
		Parameters:     params,
	}
	var resp activityResponse
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Activity.Result, nil
}

// WhoamiResponse identifies the authenticated session principal.
type WhoamiResponse struct {
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
}

type whoamiRequest struct {
	OrganizationID string `json:"organizationId"`
}

// Whoami asks the custody API which organization and user the stamp
// key resolves to.
func (c *Client) Whoami(ctx context.Context) (*WhoamiResponse, error) {
	var resp WhoamiResponse
	err := c.post(ctx, "/public/v1/query/whoami", whoamiRequest{OrganizationID: c.session.OrganizationID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
