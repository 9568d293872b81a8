// Package authflow orchestrates OTP and OAuth login: it builds sign-in
// requests around an ephemeral keypair, persists the secrets that must
// survive the magic-link round trip, decrypts returned credential
// bundles, and drives onboarding (account discovery, message signing,
// wallet export) before handing the completed session to the host
// through the bridge.
package authflow

import (
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/halcyontrade/walletrelay/bridge"
	"github.com/halcyontrade/walletrelay/custody"
	"github.com/halcyontrade/walletrelay/securestore"
)

var ErrLoginInFlight = errors.New("a login is already in flight")

// Phase is the coarse flow state the UI observes.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseLoading       Phase = "loading"
	PhaseError         Phase = "error"
	PhaseAuthenticated Phase = "authenticated"
)

// Status is one observable state snapshot. Method is set while loading
// and on errors; Message only on errors.
type Status struct {
	Phase   Phase
	Method  string
	Message string
}

// Config wires a Controller to its collaborators.
type Config struct {
	// BackendURL is the trading backend API root.
	BackendURL string
	// CustodyURL is the custody API root for sessions created here.
	CustodyURL string
	// MagicLink is the link template embedded in OTP sign-in requests.
	MagicLink string
	// HTTPClient is shared by backend and custody calls; nil gets a
	// default per client.
	HTTPClient *http.Client
}

// Controller runs the login state machine: Idle -> Loading(method) ->
// {Error | Authenticated}. A single-flight guard rejects a second login
// while one is in flight instead of racing it.
type Controller struct {
	backend *BackendClient
	store   *securestore.Store
	router  *bridge.Router

	custodyURL string
	magicLink  string

	// newClient is swappable so tests can point sessions at a fixture
	// server.
	newClient func(*custody.Session) *custody.Client

	onStatus func(Status)

	mu       sync.Mutex
	inFlight bool
	status   Status
	session  *custody.Session
	client   *custody.Client
}

// NewController builds a controller. The store holds OTP continuation
// secrets; the router carries completion and tracking calls to the host.
func NewController(cfg Config, store *securestore.Store, router *bridge.Router) *Controller {
	httpClient := cfg.HTTPClient
	return &Controller{
		backend:    NewBackendClient(cfg.BackendURL, httpClient),
		store:      store,
		router:     router,
		custodyURL: cfg.CustodyURL,
		magicLink:  cfg.MagicLink,
		newClient: func(s *custody.Session) *custody.Client {
			return custody.NewClient(s, httpClient)
		},
		status: Status{Phase: PhaseIdle},
	}
}

// OnStatus registers a callback invoked on every state transition.
// Invoked with the controller lock held; callbacks must not call back
// into the controller.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Status returns the current state snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns the active session, or nil before authentication.
func (c *Controller) Session() *custody.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// beginLogin takes the single-flight slot and enters Loading.
func (c *Controller) beginLogin(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrLoginInFlight
	}
	c.inFlight = true
	c.setStatusLocked(Status{Phase: PhaseLoading, Method: method})
	return nil
}

// endLogin releases the slot and clears Loading if no terminal state
// was reached.
func (c *Controller) endLogin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if c.status.Phase == PhaseLoading {
		c.setStatusLocked(Status{Phase: PhaseIdle})
	}
}

func (c *Controller) setStatusLocked(s Status) {
	c.status = s
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// fail converts an error into the Error state, reports it to the
// analytics sink tagged with the sign-in method, and logs it.
func (c *Controller) fail(method string, err error) {
	msg := err.Error()
	log.Error().Err(err).Str("method", method).Msg("Login flow failed")

	c.router.Delegate().TrackingEvent("auth_error", map[string]string{
		"method":  method,
		"message": msg,
	})

	c.mu.Lock()
	c.setStatusLocked(Status{Phase: PhaseError, Method: method, Message: msg})
	c.mu.Unlock()
}

// succeed installs the session and custody client and enters
// Authenticated.
func (c *Controller) succeed(method string, session *custody.Session, client *custody.Client) {
	c.mu.Lock()
	c.session = session
	c.client = client
	c.setStatusLocked(Status{Phase: PhaseAuthenticated, Method: method})
	c.mu.Unlock()
}
