package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"TradeLoop/internal/di"
	"TradeLoop/pkg/config"
	"TradeLoop/pkg/server"
)

// Exit codes.
const (
	exitConfig = 1
	exitBroker = 2
	exitStore  = 3
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		os.Exit(exitConfig)
	}

	log.Printf("env=%s journal=%s broker=%t kafka=%t", cfg.Environment, cfg.Journal.Backend, cfg.Broker.Enabled, cfg.Kafka.Enabled)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		os.Exit(exitCode(err))
	}

	// Blocks until SIGINT/SIGTERM.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps start-up failures to process exit codes. Anything that is
// not a broker or store failure, listen address errors included, counts as
// configuration.
func exitCode(err error) int {
	switch {
	case errors.Is(err, di.ErrBrokerInit):
		return exitBroker
	case errors.Is(err, di.ErrStoreInit), errors.Is(err, server.ErrStoreStart):
		return exitStore
	default:
		return exitConfig
	}
}
