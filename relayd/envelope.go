package main

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/halcyontrade/walletrelay/bridge"
)

// Replay protection constants
const (
	// Maximum age of events (reject events older than this)
	maxEventAgeSeconds = 300 // 5 minutes

	// Time window for duplicate detection
	replayCacheRetentionSeconds = 600

	// Maximum entries in replay cache (prevent memory exhaustion)
	maxReplayCacheSize = 50000
)

var (
	ErrEventTooOld    = errors.New("event timestamp too old")
	ErrEventReplayed  = errors.New("event already seen")
	ErrEventNoChannel = errors.New("event has no channel")
)

// Envelope is the CBOR wire frame carried on NATS between the host apps
// and the relay. Payload stays opaque here; the channel decides its
// schema.
type Envelope struct {
	Channel    bridge.Channel  `cbor:"channel"`
	CallbackID string          `cbor:"callback_id,omitempty"`
	EventID    string          `cbor:"event_id"`
	Timestamp  int64           `cbor:"timestamp"`
	Payload    cbor.RawMessage `cbor:"payload,omitempty"`
}

// EncodeEnvelope frames a payload for the wire.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame and checks its shape.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Channel == "" {
		return nil, ErrEventNoChannel
	}
	return &env, nil
}

// EventReplayCache rejects stale and duplicate envelopes. Events ride an
// at-least-once transport, and a login event delivered twice would burn
// the single-use continuation secrets.
type EventReplayCache struct {
	mu      sync.Mutex
	entries map[[32]byte]time.Time
	now     func() time.Time
}

// NewEventReplayCache creates an empty cache.
func NewEventReplayCache() *EventReplayCache {
	return &EventReplayCache{
		entries: make(map[[32]byte]time.Time),
		now:     time.Now,
	}
}

// Check validates an envelope's freshness and uniqueness. A nil return
// means the event may be processed; the envelope is recorded as seen.
func (c *EventReplayCache) Check(env *Envelope) error {
	now := c.now()

	age := now.Unix() - env.Timestamp
	if age > maxEventAgeSeconds {
		return fmt.Errorf("%w: %ds", ErrEventTooOld, age)
	}

	key := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", env.Channel, env.EventID, env.Timestamp)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.entries[key]; seen {
		return ErrEventReplayed
	}

	c.cleanupLocked(now)
	c.entries[key] = now
	return nil
}

// cleanupLocked drops expired entries, and the whole cache if it has
// grown past the hard cap.
func (c *EventReplayCache) cleanupLocked(now time.Time) {
	if len(c.entries) < maxReplayCacheSize {
		for key, seen := range c.entries {
			if now.Sub(seen) > replayCacheRetentionSeconds*time.Second {
				delete(c.entries, key)
			}
		}
		return
	}
	c.entries = make(map[[32]byte]time.Time)
}
