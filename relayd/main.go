// Package main implements the wallet relay daemon. It bridges the mobile
// hosts to the embedded wallet engine: NATS carries login events and
// callback-correlated requests in, and completed sessions, routing and
// tracking events back out. Continuation secrets for the OTP magic-link
// round trip live in an encrypted local store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/walletrelay/relayd.yaml", "Path to configuration file")
	natsURL := flag.String("nats-url", "", "NATS server URL (overrides config)")
	environment := flag.String("environment", "", "Deployment environment (overrides config)")
	backendURL := flag.String("backend-url", "", "Trading backend API URL (overrides config)")
	custodyURL := flag.String("custody-url", "", "Custody API URL (overrides config)")
	healthPort := flag.Int("health-port", 0, "Health check port (overrides config)")
	flag.Parse()

	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Msg("Wallet relay daemon starting")

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Override with command line flags
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *environment != "" {
		cfg.Environment = *environment
	}
	if *backendURL != "" {
		cfg.Backend.APIURL = *backendURL
	}
	if *custodyURL != "" {
		cfg.Custody.URL = *custodyURL
	}
	if *healthPort != 0 {
		cfg.Health.Port = *healthPort
	}

	daemon, err := NewDaemon(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create daemon")
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := daemon.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Daemon error")
	}

	log.Info().Msg("Relay daemon shutdown complete")
}
