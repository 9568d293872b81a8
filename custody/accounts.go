package custody

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Address formats as reported by the custody API.
const (
	AddressFormatEthereum = "ADDRESS_FORMAT_ETHEREUM"
	AddressFormatSolana   = "ADDRESS_FORMAT_SOLANA"
)

var (
	ErrNoWalletsFound  = errors.New("no wallets found for organization")
	ErrNoAccountsFound = errors.New("no accounts found for wallet")
)

// Wallet is one custody-held wallet.
type Wallet struct {
	WalletID   string `json:"walletId"`
	WalletName string `json:"walletName"`
}

// Account is one derived blockchain account inside a wallet.
type Account struct {
	WalletAccountID string `json:"walletAccountId"`
	Address         string `json:"address"`
	AddressFormat   string `json:"addressFormat"`
	Curve           string `json:"curve"`
	Path            string `json:"path"`
}

// AccountSet is the account list of the session's first wallet, keyed
// by address format through the accessor methods.
type AccountSet struct {
	WalletID string
	Accounts []Account
}

// ByFormat returns the first account with the given address format.
func (s *AccountSet) ByFormat(format string) (*Account, bool) {
	for i := range s.Accounts {
		if s.Accounts[i].AddressFormat == format {
			return &s.Accounts[i], true
		}
	}
	return nil, false
}

// EVM returns the Ethereum-format account, if any.
func (s *AccountSet) EVM() (*Account, bool) {
	return s.ByFormat(AddressFormatEthereum)
}

// Solana returns the Solana-format account, if any.
func (s *AccountSet) Solana() (*Account, bool) {
	return s.ByFormat(AddressFormatSolana)
}

type listWalletsRequest struct {
	OrganizationID string `json:"organizationId"`
}

type listWalletsResponse struct {
	Wallets []Wallet `json:"wallets"`
}

type listWalletAccountsRequest struct {
	OrganizationID string `json:"organizationId"`
	WalletID       string `json:"walletId"`
}

type listWalletAccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// ListWalletAccounts fetches the organization's wallets, takes the
// first, and fetches its accounts. The result is memoized: first
// successful fetch wins, later calls return the cached set without a
// network round trip.
func (c *Client) ListWalletAccounts(ctx context.Context) (*AccountSet, error) {
	c.mu.Lock()
	cached := c.accounts
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var wallets listWalletsResponse
	if err := c.post(ctx, "/public/v1/query/list_wallets", listWalletsRequest{OrganizationID: c.session.OrganizationID}, &wallets); err != nil {
		return nil, err
	}
	if len(wallets.Wallets) == 0 {
		return nil, ErrNoWalletsFound
	}
	walletID := wallets.Wallets[0].WalletID

	var accounts listWalletAccountsResponse
	req := listWalletAccountsRequest{OrganizationID: c.session.OrganizationID, WalletID: walletID}
	if err := c.post(ctx, "/public/v1/query/list_wallet_accounts", req, &accounts); err != nil {
		return nil, err
	}
	if len(accounts.Accounts) == 0 {
		return nil, ErrNoAccountsFound
	}

	set := &AccountSet{WalletID: walletID, Accounts: accounts.Accounts}

	c.mu.Lock()
	if c.accounts == nil {
		c.accounts = set
	} else {
		// A concurrent fetch won the race; keep the first write.
		set = c.accounts
	}
	c.mu.Unlock()

	log.Debug().
		Str("wallet_id", walletID).
		Int("accounts", len(set.Accounts)).
		Msg("Wallet accounts loaded")
	return set, nil
}
