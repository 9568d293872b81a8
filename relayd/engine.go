package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyontrade/walletrelay/apikey"
	"github.com/halcyontrade/walletrelay/authflow"
	"github.com/halcyontrade/walletrelay/bridge"
)

// WalletEngine is the embedded runtime side of the bridge: it consumes
// broadcast events (email tokens, native Apple sign-in results), serves
// callback-correlated requests, and drives the login flows.
type WalletEngine struct {
	controller *authflow.Controller
	provider   *apikey.Provider
	router     *bridge.Router
	httpClient *http.Client
}

// NewWalletEngine wires the engine to its flow controller and keypair
// provider.
func NewWalletEngine(controller *authflow.Controller, provider *apikey.Provider, router *bridge.Router) *WalletEngine {
	return &WalletEngine{
		controller: controller,
		provider:   provider,
		router:     router,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// StartEmailLogin begins an OTP login for the given address with fresh
// key material.
func (e *WalletEngine) StartEmailLogin(ctx context.Context, email string) error {
	e.provider.Reset(apikey.LoginMethodEmail)
	return e.controller.InitOtpLogin(ctx, email, e.provider.Current())
}

// StartAppleLogin begins a native Apple sign-in: fresh key material is
// generated under the social nonce rule and the host is asked to present
// the prompt bound to its nonce. The identity token comes back later on
// ChannelAppleSignIn and must be completed against this same generation.
func (e *WalletEngine) StartAppleLogin() {
	e.provider.Reset(apikey.LoginMethodApple)
	nonce := e.provider.Current().Nonce
	e.router.Delegate().AppleAuthRequest(nonce)
	log.Info().Str("nonce", nonce).Msg("Apple sign-in prompt requested")
}

// HandleBroadcast consumes fire-and-forget events from the host.
func (e *WalletEngine) HandleBroadcast(ch bridge.Channel, payload any) {
	ctx := context.Background()

	switch ch {
	case bridge.ChannelEmailToken:
		event, ok := payload.(bridge.EmailTokenEvent)
		if !ok {
			log.Warn().Str("channel", string(ch)).Msg("Unexpected payload type, dropping event")
			return
		}
		if _, err := e.controller.CompleteOtpAuth(ctx, event.Token); err != nil {
			log.Error().Err(err).Msg("OTP completion failed")
		}
		// The attempt is over either way; never present a nonce twice.
		e.provider.Refresh()

	case bridge.ChannelAppleSignIn:
		event, ok := payload.(bridge.AppleSignInEvent)
		if !ok {
			log.Warn().Str("channel", string(ch)).Msg("Unexpected payload type, dropping event")
			return
		}
		if event.Error != "" {
			log.Warn().Str("error", event.Error).Msg("Apple sign-in reported an error")
			return
		}
		// Consume the generation StartAppleLogin presented to the
		// native prompt; a fresh keypair here would break the nonce
		// binding.
		material := e.provider.Current()
		if _, err := e.controller.LoginWithOAuth(ctx, event.IdentityToken, "apple", material); err != nil {
			log.Error().Err(err).Msg("Apple login failed")
		}
		e.provider.Refresh()

	default:
		log.Warn().Str("channel", string(ch)).Msg("Broadcast on unhandled channel")
	}
}

// HandleRequest serves callback-correlated requests from the host. Every
// path answers through the router's response entry point, success or
// not, so the host never waits on a swallowed error.
func (e *WalletEngine) HandleRequest(callbackID string, ch bridge.Channel, payload any) {
	switch ch {
	case bridge.ChannelDydxAddress:
		req, ok := payload.(bridge.DydxAddressRequest)
		if !ok {
			e.router.Respond(callbackID, `{"error":"unexpected payload"}`)
			return
		}
		if err := e.controller.UploadDydxAddress(context.Background(), req.DydxAddress); err != nil {
			e.router.Respond(callbackID, fmt.Sprintf(`{"error":%q}`, err.Error()))
			return
		}
		e.router.Respond(callbackID, `{"success":true}`)

	case bridge.ChannelDepositAddresses:
		req, ok := payload.(bridge.DepositAddressesRequest)
		if !ok {
			e.router.Respond(callbackID, `{"error":"unexpected payload"}`)
			return
		}
		result, err := e.fetchDepositAddresses(req)
		if err != nil {
			log.Error().Err(err).Str("address", req.DydxAddress).Msg("Deposit address lookup failed")
			e.router.Respond(callbackID, fmt.Sprintf(`{"error":%q}`, err.Error()))
			return
		}
		e.router.Respond(callbackID, result)

	default:
		e.router.Respond(callbackID, `{"error":"unhandled channel"}`)
	}
}

// fetchDepositAddresses queries the chain indexer for the address's
// deposit routes and returns the raw JSON body.
func (e *WalletEngine) fetchDepositAddresses(req bridge.DepositAddressesRequest) (string, error) {
	url := fmt.Sprintf("%s/v4/addresses/%s", req.IndexerURL, req.DydxAddress)
	resp, err := e.httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read indexer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("indexer error (status %d)", resp.StatusCode)
	}
	return string(body), nil
}
