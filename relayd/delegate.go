package main

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/halcyontrade/walletrelay/bridge"
)

// natsDelegate is the daemon's host surface: every delegate call becomes
// an envelope published to the environment's subject tree, where the
// mobile apps pick it up.
type natsDelegate struct {
	nats     *NATSClient
	subjects *subjectTree
}

type routeEvent struct {
	Target string `cbor:"target"`
}

type trackingEvent struct {
	Name   string            `cbor:"name"`
	Params map[string]string `cbor:"params,omitempty"`
}

type appleAuthRequest struct {
	Nonce string `cbor:"nonce"`
}

func (d *natsDelegate) publish(subject string, channel bridge.Channel, payload any) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to encode outbound payload")
		return
	}
	data, err := EncodeEnvelope(&Envelope{
		Channel:   channel,
		EventID:   uuid.New().String(),
		Timestamp: time.Now().Unix(),
		Payload:   raw,
	})
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to encode outbound envelope")
		return
	}
	if err := d.nats.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish outbound event")
	}
}

func (d *natsDelegate) AuthRouteToWallet() {
	d.publish(d.subjects.route, "authRoute", routeEvent{Target: "wallet"})
}

func (d *natsDelegate) AuthRouteToDesktopQR() {
	d.publish(d.subjects.route, "authRoute", routeEvent{Target: "desktopQR"})
}

func (d *natsDelegate) AuthCompleted(c bridge.Completion) {
	d.publish(d.subjects.authCompleted, "authCompleted", c)
	log.Info().Str("method", c.LoginMethod).Msg("Auth completion published")
}

func (d *natsDelegate) AppleAuthRequest(nonce string) {
	d.publish(d.subjects.appleRequest, "appleAuthRequest", appleAuthRequest{Nonce: nonce})
}

func (d *natsDelegate) TrackingEvent(name string, params map[string]string) {
	d.publish(d.subjects.tracking, "trackingEvent", trackingEvent{Name: name, Params: params})
}

var _ bridge.HostDelegate = (*natsDelegate)(nil)
