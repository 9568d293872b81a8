package authflow

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/halcyontrade/walletrelay/bridge"
	"github.com/halcyontrade/walletrelay/custody"
)

var (
	ErrNoEVMAccount    = errors.New("no EVM account found for wallet")
	ErrNoSolanaAccount = errors.New("no Solana account found for wallet")
	ErrEmptyMnemonic   = errors.New("wallet export returned an empty mnemonic")
)

type onboardingInput struct {
	method      string
	userEmail   string
	salt        string
	dydxAddress string
}

// runOnboarding is the shared tail of both login paths: discover the
// wallet's accounts, require both an EVM and a Solana account before
// touching the signing or export APIs, sign the onboarding message,
// export the mnemonic, and hand the completed bundle to the host.
func (c *Controller) runOnboarding(ctx context.Context, client *custody.Client, in onboardingInput) error {
	accounts, err := client.ListWalletAccounts(ctx)
	if err != nil {
		return err
	}

	evm, ok := accounts.EVM()
	if !ok {
		return ErrNoEVMAccount
	}
	solana, ok := accounts.Solana()
	if !ok {
		return ErrNoSolanaAccount
	}

	signature, err := client.SignOnboardingMessage(ctx, evm.Address, in.salt)
	if err != nil {
		return err
	}

	mnemonic, err := client.ExportWallet(ctx, accounts.WalletID)
	if err != nil {
		return err
	}
	if mnemonic == "" {
		return ErrEmptyMnemonic
	}

	c.router.Delegate().AuthCompleted(bridge.Completion{
		Signature:   signature,
		EVMAddress:  evm.Address,
		SVMAddress:  solana.Address,
		Mnemonic:    mnemonic,
		LoginMethod: in.method,
		UserEmail:   in.userEmail,
		DydxAddress: in.dydxAddress,
	})

	log.Info().
		Str("method", in.method).
		Str("evm_address", evm.Address).
		Msg("Onboarding completed")
	return nil
}
