package bridge

// Completion carries everything the host needs to persist the derived chain
// wallet once onboarding has finished.
type Completion struct {
	Signature   string `json:"signature"`
	EVMAddress  string `json:"evmAddress"`
	SVMAddress  string `json:"svmAddress"`
	Mnemonic    string `json:"mnemonics"`
	LoginMethod string `json:"loginMethod"`
	UserEmail   string `json:"userEmail,omitempty"`
	DydxAddress string `json:"dydxAddress,omitempty"`
}

// HostDelegate is the engine-to-host capability surface. The host registers
// an implementation on the router; the engine invokes it synchronously.
// "No listener attached" is represented by NopDelegate, never by nil checks
// scattered through call sites.
type HostDelegate interface {
	// AuthRouteToWallet asks the host to route to the wallet screen.
	AuthRouteToWallet()

	// AuthRouteToDesktopQR asks the host to route to the desktop QR screen.
	AuthRouteToDesktopQR()

	// AuthCompleted hands the finished onboarding result to the host.
	AuthCompleted(c Completion)

	// AppleAuthRequest asks the host to start a native Apple sign-in
	// prompt bound to the given nonce.
	AppleAuthRequest(nonce string)

	// TrackingEvent reports an analytics event.
	TrackingEvent(name string, params map[string]string)
}

// NopDelegate discards every call. It is the required default so that an
// unattached host is an explicit state.
type NopDelegate struct{}

func (NopDelegate) AuthRouteToWallet()                      {}
func (NopDelegate) AuthRouteToDesktopQR()                   {}
func (NopDelegate) AuthCompleted(Completion)                {}
func (NopDelegate) AppleAuthRequest(string)                 {}
func (NopDelegate) TrackingEvent(string, map[string]string) {}

var _ HostDelegate = NopDelegate{}
