package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingRuntime captures deliveries so tests can respond out of band.
type recordingRuntime struct {
	mu         sync.Mutex
	broadcasts []Channel
	requests   map[string]Channel
}

func newRecordingRuntime() *recordingRuntime {
	return &recordingRuntime{requests: make(map[string]Channel)}
}

func (r *recordingRuntime) HandleBroadcast(ch Channel, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, ch)
}

func (r *recordingRuntime) HandleRequest(callbackID string, ch Channel, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[callbackID] = ch
}

func (r *recordingRuntime) callbackIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.requests))
	for id := range r.requests {
		ids = append(ids, id)
	}
	return ids
}

func TestBroadcastWithoutRuntimeIsDropped(t *testing.T) {
	router := NewRouter(0)
	// Must not panic or block.
	router.Broadcast(ChannelEmailToken, EmailTokenEvent{Token: "tok"})
}

func TestBroadcastDelivered(t *testing.T) {
	router := NewRouter(0)
	rt := newRecordingRuntime()
	router.Attach(rt)

	router.Broadcast(ChannelEmailToken, EmailTokenEvent{Token: "tok"})

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.broadcasts) != 1 || rt.broadcasts[0] != ChannelEmailToken {
		t.Fatalf("Expected one emailTokenReceived broadcast, got %v", rt.broadcasts)
	}
}

func TestRequestWithoutRuntimeFailsFast(t *testing.T) {
	router := NewRouter(0)
	_, err := router.Request(context.Background(), ChannelDydxAddress, DydxAddressRequest{})
	if !errors.Is(err, ErrRuntimeUnavailable) {
		t.Fatalf("Expected ErrRuntimeUnavailable, got %v", err)
	}
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	const n = 8

	router := NewRouter(0)
	rt := newRecordingRuntime()
	router.Attach(rt)

	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = router.Request(context.Background(), ChannelDepositAddresses, DepositAddressesRequest{})
		}(i)
	}

	// Wait for all requests to register.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(rt.callbackIDs()) == n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d registered requests, got %d", n, len(rt.callbackIDs()))
		}
		time.Sleep(time.Millisecond)
	}

	ids := rt.callbackIDs()
	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("Duplicate callback id %s", id)
		}
		seen[id] = true
	}

	// Respond to each with its own id as the result payload.
	for _, id := range ids {
		router.Respond(id, "result-"+id)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Request %d failed: %v", i, errs[i])
		}
		if len(results[i]) == 0 || results[i][:7] != "result-" {
			t.Errorf("Request %d got unexpected result %q", i, results[i])
		}
	}

	if router.PendingCount() != 0 {
		t.Errorf("Expected no pending callbacks after resolution, got %d", router.PendingCount())
	}
}

func TestRespondUnknownIDIsNoOp(t *testing.T) {
	router := NewRouter(0)
	rt := newRecordingRuntime()
	router.Attach(rt)

	// Must not panic.
	router.Respond("no-such-id", "ignored")
}

func TestDuplicateResponseIgnored(t *testing.T) {
	router := NewRouter(0)
	rt := newRecordingRuntime()
	router.Attach(rt)

	done := make(chan string, 1)
	go func() {
		res, _ := router.Request(context.Background(), ChannelDydxAddress, DydxAddressRequest{})
		done <- res
	}()

	var id string
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ids := rt.callbackIDs(); len(ids) == 1 {
			id = ids[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	router.Respond(id, "first")
	router.Respond(id, "second") // entry already removed, silently dropped

	if res := <-done; res != "first" {
		t.Errorf("Expected first response to win, got %q", res)
	}
}

func TestDetachFailsPendingCallbacks(t *testing.T) {
	router := NewRouter(0)
	rt := newRecordingRuntime()
	router.Attach(rt)

	errCh := make(chan error, 1)
	go func() {
		_, err := router.Request(context.Background(), ChannelDepositAddresses, DepositAddressesRequest{})
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(rt.callbackIDs()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	router.Detach()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrRuntimeDetached) {
			t.Fatalf("Expected ErrRuntimeDetached, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pending request was not failed on detach")
	}
}

func TestRequestTimeout(t *testing.T) {
	router := NewRouter(20 * time.Millisecond)
	rt := newRecordingRuntime()
	router.Attach(rt)

	_, err := router.Request(context.Background(), ChannelDydxAddress, DydxAddressRequest{})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("Expected ErrRequestTimeout, got %v", err)
	}
	if router.PendingCount() != 0 {
		t.Errorf("Timed-out callback must be removed, %d still pending", router.PendingCount())
	}
}

func TestRequestContextCancel(t *testing.T) {
	router := NewRouter(0)
	rt := newRecordingRuntime()
	router.Attach(rt)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := router.Request(ctx, ChannelDydxAddress, DydxAddressRequest{})
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(rt.callbackIDs()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestNopDelegateIsDefault(t *testing.T) {
	router := NewRouter(0)
	d := router.Delegate()
	if d == nil {
		t.Fatal("Delegate must never be nil")
	}
	// Calls on the default delegate are safe no-ops.
	d.AuthRouteToWallet()
	d.TrackingEvent("noop", nil)

	router.SetDelegate(nil)
	if router.Delegate() == nil {
		t.Fatal("SetDelegate(nil) must reset to NopDelegate")
	}
}
