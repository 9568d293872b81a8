package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Errors
var (
	// ErrRuntimeUnavailable means no engine instance is attached. For
	// broadcasts this is logged and swallowed; Request returns it.
	ErrRuntimeUnavailable = errors.New("no runtime attached")

	// ErrRuntimeDetached is delivered to callers whose request was still
	// pending when the engine instance was torn down.
	ErrRuntimeDetached = errors.New("runtime detached with request pending")

	// ErrRequestTimeout means the engine never responded within the
	// router's configured timeout.
	ErrRequestTimeout = errors.New("bridge request timed out")
)

// RuntimeHandler is the engine-side receiver for host events. Broadcast
// deliveries carry no callback id; request deliveries must eventually be
// answered through Router.Respond with the given id.
type RuntimeHandler interface {
	HandleBroadcast(ch Channel, payload any)
	HandleRequest(callbackID string, ch Channel, payload any)
}

type pendingResult struct {
	value string
	err   error
}

// Router correlates host requests with engine responses. All callback-map
// access is mutex-guarded; delivery order across goroutines is not assumed.
type Router struct {
	mu       sync.Mutex
	runtime  RuntimeHandler
	delegate HostDelegate
	pending  map[string]chan pendingResult

	// timeout bounds how long Request waits for a response. Zero means
	// wait until the context is cancelled or the runtime detaches.
	timeout time.Duration
}

// NewRouter creates a router with no attached engine and a NopDelegate.
func NewRouter(timeout time.Duration) *Router {
	return &Router{
		delegate: NopDelegate{},
		pending:  make(map[string]chan pendingResult),
		timeout:  timeout,
	}
}

// Attach installs the engine instance that will receive host events.
func (r *Router) Attach(h RuntimeHandler) {
	r.mu.Lock()
	r.runtime = h
	r.mu.Unlock()
	log.Debug().Msg("Runtime attached to bridge")
}

// Detach removes the engine instance and fails every pending request.
// Callers suspended in Request observe ErrRuntimeDetached instead of
// hanging until process teardown.
func (r *Router) Detach() {
	r.mu.Lock()
	r.runtime = nil
	orphaned := r.pending
	r.pending = make(map[string]chan pendingResult)
	r.mu.Unlock()

	for id, ch := range orphaned {
		ch <- pendingResult{err: ErrRuntimeDetached}
		log.Warn().Str("callback_id", id).Msg("Failed pending bridge callback on detach")
	}
}

// SetDelegate installs the host delegate. A nil delegate resets to
// NopDelegate.
func (r *Router) SetDelegate(d HostDelegate) {
	r.mu.Lock()
	if d == nil {
		d = NopDelegate{}
	}
	r.delegate = d
	r.mu.Unlock()
}

// Delegate returns the current host delegate.
func (r *Router) Delegate() HostDelegate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delegate
}

// Broadcast delivers a fire-and-forget event to the engine. With no engine
// attached the event is dropped and logged, never raised: a dead runtime is
// a degraded but valid state.
func (r *Router) Broadcast(ch Channel, payload any) {
	r.mu.Lock()
	rt := r.runtime
	r.mu.Unlock()

	if rt == nil {
		log.Warn().Str("channel", string(ch)).Msg("Dropping broadcast, no runtime attached")
		return
	}
	rt.HandleBroadcast(ch, payload)
}

// Attached reports whether an engine instance is installed.
func (r *Router) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runtime != nil
}

// Request delivers a callback-correlated request and suspends until the
// engine responds, the context is cancelled, the router's timeout elapses,
// or the runtime detaches. Each call gets its own unique callback id.
func (r *Router) Request(ctx context.Context, ch Channel, payload any) (string, error) {
	result, _, err := r.RequestWithID(ctx, ch, payload)
	return result, err
}

// RequestWithID is Request exposing the callback id it generated, for
// callers that correlate results onward over another transport.
func (r *Router) RequestWithID(ctx context.Context, ch Channel, payload any) (string, string, error) {
	r.mu.Lock()
	rt := r.runtime
	if rt == nil {
		r.mu.Unlock()
		return "", "", ErrRuntimeUnavailable
	}

	callbackID := uuid.New().String()
	resultCh := make(chan pendingResult, 1)
	r.pending[callbackID] = resultCh
	r.mu.Unlock()

	log.Debug().
		Str("channel", string(ch)).
		Str("callback_id", callbackID).
		Msg("Dispatching bridge request")

	rt.HandleRequest(callbackID, ch, payload)

	var timeoutCh <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-resultCh:
		return res.value, callbackID, res.err
	case <-ctx.Done():
		r.forget(callbackID)
		return "", callbackID, ctx.Err()
	case <-timeoutCh:
		r.forget(callbackID)
		return "", callbackID, ErrRequestTimeout
	}
}

// Respond resolves the request registered under callbackID. The entry is
// removed on first use; a response for an unknown or already-resolved id is
// a logged no-op.
func (r *Router) Respond(callbackID, result string) {
	r.mu.Lock()
	ch, ok := r.pending[callbackID]
	if ok {
		delete(r.pending, callbackID)
	}
	r.mu.Unlock()

	if !ok {
		log.Warn().Str("callback_id", callbackID).Msg("Response for unknown callback id, ignoring")
		return
	}
	ch <- pendingResult{value: result}
}

// PendingCount reports how many requests are awaiting a response.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) forget(callbackID string) {
	r.mu.Lock()
	delete(r.pending, callbackID)
	r.mu.Unlock()
}
