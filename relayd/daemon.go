package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/halcyontrade/walletrelay/apikey"
	"github.com/halcyontrade/walletrelay/authflow"
	"github.com/halcyontrade/walletrelay/bridge"
	"github.com/halcyontrade/walletrelay/securestore"
)

// subjectTree holds the NATS subjects for one environment.
type subjectTree struct {
	// Inbound
	loginEmail       string
	loginApple       string
	emailToken       string
	appleSignIn      string
	dydxAddress      string
	depositAddresses string

	// Outbound
	response      string
	authCompleted string
	appleRequest  string
	route         string
	tracking      string
}

func newSubjectTree(env string) *subjectTree {
	prefix := "wallet." + env
	return &subjectTree{
		loginEmail:       prefix + ".login.email",
		loginApple:       prefix + ".login.apple",
		emailToken:       prefix + ".emailToken",
		appleSignIn:      prefix + ".apple.signin",
		dydxAddress:      prefix + ".dydxAddress",
		depositAddresses: prefix + ".depositAddresses",
		response:         prefix + ".response",
		authCompleted:    prefix + ".authCompleted",
		appleRequest:     prefix + ".apple.request",
		route:            prefix + ".route",
		tracking:         prefix + ".tracking",
	}
}

// Daemon owns the long-lived pieces: the NATS connection, the secret
// store, the bridge router, and the wallet engine attached to it.
type Daemon struct {
	config   *Config
	subjects *subjectTree
	nats     *NATSClient
	store    *securestore.Store
	router   *bridge.Router
	engine   *WalletEngine
	health   *HealthServer
	msgChan  chan *NATSMessage
	replay   *EventReplayCache
}

// NewDaemon builds and wires the daemon from configuration.
func NewDaemon(cfg *Config) (*Daemon, error) {
	storeKey, err := loadOrCreateStoreKey(cfg.Store.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load store key: %w", err)
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	store, err := securestore.NewStore(cfg.Store.Path, storeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	natsClient, err := NewNATSClient(cfg.NATS)
	if err != nil {
		store.Close()
		return nil, err
	}

	subjects := newSubjectTree(cfg.Environment)
	router := bridge.NewRouter(time.Duration(cfg.Bridge.RequestTimeoutMs) * time.Millisecond)
	router.SetDelegate(&natsDelegate{nats: natsClient, subjects: subjects})

	controller := authflow.NewController(authflow.Config{
		BackendURL: cfg.Backend.APIURL,
		CustodyURL: cfg.Custody.URL,
		MagicLink:  cfg.Backend.MagicLink,
	}, store, router)

	provider, err := apikey.NewProvider(apikey.LoginMethodEmail)
	if err != nil {
		natsClient.Close()
		store.Close()
		return nil, err
	}

	engine := NewWalletEngine(controller, provider, router)
	router.Attach(engine)

	return &Daemon{
		config:   cfg,
		subjects: subjects,
		nats:     natsClient,
		store:    store,
		router:   router,
		engine:   engine,
		health:   NewHealthServer(cfg.Health.Port),
		msgChan:  make(chan *NATSMessage, 256),
		replay:   NewEventReplayCache(),
	}, nil
}

// Run subscribes to the environment's subjects and processes events
// until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	subjects := []string{
		d.subjects.loginEmail,
		d.subjects.loginApple,
		d.subjects.emailToken,
		d.subjects.appleSignIn,
		d.subjects.dydxAddress,
		d.subjects.depositAddresses,
	}
	for _, subject := range subjects {
		if err := d.nats.Subscribe(subject, d.msgChan); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}

	go d.health.Start()
	go d.healthLoop(ctx)

	log.Info().
		Str("environment", d.config.Environment).
		Int("subjects", len(subjects)).
		Msg("Relay daemon running")

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case msg := <-d.msgChan:
			d.handleMessage(ctx, msg)
		}
	}
}

// handleMessage routes one inbound NATS message. Decode or replay
// failures drop the message with a log line; the transport retries
// nothing on our behalf.
func (d *Daemon) handleMessage(ctx context.Context, msg *NATSMessage) {
	env, err := DecodeEnvelope(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable event")
		return
	}
	if err := d.replay.Check(env); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Str("event_id", env.EventID).Msg("Dropping event")
		return
	}

	switch msg.Subject {
	case d.subjects.loginEmail:
		var req struct {
			Email string `cbor:"email"`
		}
		if err := cbor.Unmarshal(env.Payload, &req); err != nil || req.Email == "" {
			log.Warn().Str("subject", msg.Subject).Msg("Login event without email")
			return
		}
		go func() {
			if err := d.engine.StartEmailLogin(ctx, req.Email); err != nil {
				log.Error().Err(err).Msg("Email login init failed")
			}
		}()

	case d.subjects.loginApple:
		go d.engine.StartAppleLogin()

	case d.subjects.emailToken:
		var event bridge.EmailTokenEvent
		if err := cbor.Unmarshal(env.Payload, &event); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed email token event")
			return
		}
		go d.router.Broadcast(bridge.ChannelEmailToken, event)

	case d.subjects.appleSignIn:
		var event bridge.AppleSignInEvent
		if err := cbor.Unmarshal(env.Payload, &event); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed Apple sign-in event")
			return
		}
		go d.router.Broadcast(bridge.ChannelAppleSignIn, event)

	case d.subjects.dydxAddress:
		var req bridge.DydxAddressRequest
		if err := cbor.Unmarshal(env.Payload, &req); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed address event")
			return
		}
		go d.serveRequest(ctx, bridge.ChannelDydxAddress, req)

	case d.subjects.depositAddresses:
		var req bridge.DepositAddressesRequest
		if err := cbor.Unmarshal(env.Payload, &req); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed deposit event")
			return
		}
		go d.serveRequest(ctx, bridge.ChannelDepositAddresses, req)
	}
}

type requestResult struct {
	CallbackID string `cbor:"callback_id"`
	Result     string `cbor:"result,omitempty"`
	Error      string `cbor:"error,omitempty"`
}

// serveRequest runs one callback-correlated request through the router
// and publishes the correlated result.
func (d *Daemon) serveRequest(ctx context.Context, ch bridge.Channel, payload any) {
	result, callbackID, err := d.router.RequestWithID(ctx, ch, payload)
	out := requestResult{CallbackID: callbackID, Result: result}
	if err != nil {
		out.Error = err.Error()
	}
	raw, err := cbor.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode request result")
		return
	}
	data, err := EncodeEnvelope(&Envelope{
		Channel:    ch,
		CallbackID: callbackID,
		EventID:    callbackID,
		Timestamp:  time.Now().Unix(),
		Payload:    raw,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode result envelope")
		return
	}
	if err := d.nats.Publish(d.subjects.response, data); err != nil {
		log.Error().Err(err).Msg("Failed to publish request result")
	}
}

func (d *Daemon) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.health.UpdateStatus(d.nats.IsConnected(), d.router.Attached())
		}
	}
}

func (d *Daemon) shutdown() error {
	log.Info().Msg("Shutting down relay daemon")
	d.router.Detach()
	d.health.Stop()
	d.nats.Close()
	return d.store.Close()
}

// loadOrCreateStoreKey reads the hex store key, generating one on first
// run.
func loadOrCreateStoreKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("key file is not valid hex: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("Generated new store key")
	return key, nil
}
