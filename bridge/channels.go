// Package bridge implements the credential relay transport: the asynchronous
// boundary between the native host side and the embedded auth engine. The
// host pushes events and callback-correlated requests toward the engine; the
// engine reports back through a delegate. Channels are a closed typed set so
// every payload has a fixed schema.
package bridge

// Channel names one host-to-engine event stream.
type Channel string

const (
	// ChannelEmailToken delivers a magic-link token. Fire-and-forget.
	ChannelEmailToken Channel = "emailTokenReceived"

	// ChannelAppleSignIn delivers the outcome of a native Apple sign-in
	// prompt. Fire-and-forget.
	ChannelAppleSignIn Channel = "appleSignInCompleted"

	// ChannelDydxAddress asks the engine to acknowledge the derived chain
	// address. Request/response.
	ChannelDydxAddress Channel = "dydxAddressReceived"

	// ChannelDepositAddresses asks the engine to resolve deposit addresses
	// for the derived chain address. Request/response.
	ChannelDepositAddresses Channel = "fetchDepositAddresses"
)

// EmailTokenEvent is the payload for ChannelEmailToken.
type EmailTokenEvent struct {
	Token string `json:"token"`
}

// AppleSignInEvent is the payload for ChannelAppleSignIn. Exactly one of
// IdentityToken or Error is set.
type AppleSignInEvent struct {
	IdentityToken string `json:"identityToken,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DydxAddressRequest is the payload for ChannelDydxAddress.
type DydxAddressRequest struct {
	DydxAddress string `json:"dydxAddress"`
}

// DepositAddressesRequest is the payload for ChannelDepositAddresses.
type DepositAddressesRequest struct {
	DydxAddress string `json:"dydxAddress"`
	IndexerURL  string `json:"indexerUrl"`
}
