package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BackendError carries the server-reported errors array joined into one
// message, surfaced to the user verbatim.
type BackendError struct {
	Messages []string
}

func (e *BackendError) Error() string {
	return "Backend Error: " + strings.Join(e.Messages, ", ")
}

// BackendClient talks to the trading backend's authentication surface.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackendClient binds a client to the backend API root. A nil
// httpClient gets a default with a 30s timeout.
func NewBackendClient(baseURL string, httpClient *http.Client) *BackendClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &BackendClient{baseURL: baseURL, httpClient: httpClient}
}

// SigninRequest is the body of POST /v4/turnkey/signin. The OTP variant
// sends userEmail/magicLink; the OAuth variant sends provider/oidcToken.
type SigninRequest struct {
	SigninMethod    string `json:"signinMethod"`
	UserEmail       string `json:"userEmail,omitempty"`
	TargetPublicKey string `json:"targetPublicKey"`
	MagicLink       string `json:"magicLink,omitempty"`
	Provider        string `json:"provider,omitempty"`
	OIDCToken       string `json:"oidcToken,omitempty"`
}

// SigninResponse is the success body. The OTP variant omits session;
// the OAuth variant omits organizationId/userId, which are recovered
// later by decoding session.
type SigninResponse struct {
	Salt           string             `json:"salt"`
	OrganizationID string             `json:"organizationId"`
	UserID         string             `json:"userId"`
	Session        string             `json:"session"`
	DydxAddress    string             `json:"dydxAddress"`
	Errors         []backendErrorItem `json:"errors"`
}

type backendErrorItem struct {
	Msg string `json:"msg"`
}

type uploadAddressRequest struct {
	DydxAddress string `json:"dydxAddress"`
	Signature   string `json:"signature"`
}

type uploadAddressResponse struct {
	Errors []backendErrorItem `json:"errors"`
}

// Signin posts one sign-in request. A response carrying an errors array
// is returned as a *BackendError.
func (c *BackendClient) Signin(ctx context.Context, req *SigninRequest) (*SigninResponse, error) {
	var resp SigninResponse
	if err := c.post(ctx, "/v4/turnkey/signin", req, &resp); err != nil {
		return nil, err
	}
	if err := backendErrors(resp.Errors); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadAddress posts the signed dYdX address association.
func (c *BackendClient) UploadAddress(ctx context.Context, dydxAddress, signature string) error {
	var resp uploadAddressResponse
	req := uploadAddressRequest{DydxAddress: dydxAddress, Signature: signature}
	if err := c.post(ctx, "/v4/turnkey/uploadAddress", req, &resp); err != nil {
		return err
	}
	return backendErrors(resp.Errors)
}

func backendErrors(items []backendErrorItem) error {
	if len(items) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, item.Msg)
	}
	return &BackendError{Messages: msgs}
}

func (c *BackendClient) post(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	// Error arrays ride on non-OK statuses too; try the body first.
	if err := json.Unmarshal(respBody, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
		}
		return fmt.Errorf("failed to parse backend response: %w", err)
	}
	return nil
}
