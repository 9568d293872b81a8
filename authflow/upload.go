package authflow

import (
	"context"
	"errors"
)

var ErrNoActiveSession = errors.New("no active session")

// UploadDydxAddress signs the chain address with the session's EVM
// account and posts the association to the backend. Unlike the login
// flows, failures here are both dispatched as Error state and returned
// to the caller.
func (c *Controller) UploadDydxAddress(ctx context.Context, dydxAddress string) error {
	c.mu.Lock()
	client := c.client
	method := c.status.Method
	c.mu.Unlock()
	if client == nil {
		c.fail(method, ErrNoActiveSession)
		return ErrNoActiveSession
	}

	accounts, err := client.ListWalletAccounts(ctx)
	if err != nil {
		c.fail(method, err)
		return err
	}
	evm, ok := accounts.EVM()
	if !ok {
		c.fail(method, ErrNoEVMAccount)
		return ErrNoEVMAccount
	}

	signature, err := client.SignUploadAddressMessage(ctx, evm.Address, dydxAddress)
	if err != nil {
		c.fail(method, err)
		return err
	}

	if err := c.backend.UploadAddress(ctx, dydxAddress, signature); err != nil {
		c.fail(method, err)
		return err
	}
	return nil
}
