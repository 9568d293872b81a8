package custody

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrExportBundleMissing = errors.New("export bundle missing from response")

type exportWalletParams struct {
	WalletID        string `json:"walletId"`
	TargetPublicKey string `json:"targetPublicKey"`
}

// ExportWallet exports a wallet's mnemonic. A fresh one-time P-256
// keypair addresses the export: the custody service encrypts the bundle
// to its public half and the private half decrypts it locally, then
// both are discarded.
func (c *Client) ExportWallet(ctx context.Context, walletID string) (string, error) {
	exportKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate export key: %w", err)
	}

	params := exportWalletParams{
		WalletID:        walletID,
		TargetPublicKey: hex.EncodeToString(exportKey.PublicKey().Bytes()),
	}
	result, err := c.submitActivity(ctx, "/public/v1/submit/export_wallet", activityExportWallet, params)
	if err != nil {
		return "", err
	}
	if result.ExportWalletResult == nil || result.ExportWalletResult.ExportBundle == "" {
		return "", ErrExportBundleMissing
	}

	blob, err := base64.StdEncoding.DecodeString(result.ExportWalletResult.ExportBundle)
	if err != nil {
		return "", fmt.Errorf("failed to decode export bundle: %w", err)
	}

	mnemonic, err := DecryptBundle(exportKey, blob)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt export bundle: %w", err)
	}
	return strings.TrimSpace(string(mnemonic)), nil
}
