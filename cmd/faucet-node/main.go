package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cosmdrop/faucet-node/api"
	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/chain/lcd"
	"github.com/cosmdrop/faucet-node/db"
	"github.com/cosmdrop/faucet-node/db/metadb"
	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/notify"
	"github.com/cosmdrop/faucet-node/service"
	"github.com/cosmdrop/faucet-node/status"
	"github.com/cosmdrop/faucet-node/storage"
)

// Services holds all the running services
type Services struct {
	Storage *storage.Storage
	Wallet  *service.WalletService
	Faucet  *service.FaucetService
	API     *service.APIService
}

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting faucet-node", "version", Version)

	// Validate configuration
	if err := cfg.CW.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup services
	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	// Wait for shutdown; SIGHUP triggers a chain client reload instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			log.Infow("received SIGHUP, reloading chain clients")
			if err := services.Wallet.Reload(ctx); err != nil {
				log.Warnw("wallet reload failed", "error", err)
			}
			continue
		}
		log.Infow("received signal, shutting down", "signal", sig.String())
		break
	}
}

// setupServices initializes and starts all required services
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	services := &Services{}

	// Open the key-value database and the storage layer
	database, err := metadb.New(db.TypePebble, cfg.Datadir)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	services.Storage = storage.New(database)

	registry := status.NewRegistry()
	hub := notify.NewHub()

	// The wallet manager derives its own key; the factory builds the chain
	// clients around the same derivation so broadcasts are signed with the
	// wallet identity.
	factory := func() (chain.SigningClient, chain.QueryClient, error) {
		key, err := chain.DeriveAccount(cfg.CW.WalletMnemonic, cfg.CW.AddressPrefix)
		if err != nil {
			return nil, nil, err
		}
		client, err := lcd.New(cfg.CW.RPCHost, key)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
	wallet, err := faucet.NewWalletManager(cfg.CW, registry, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet manager: %w", err)
	}

	pipeline, err := faucet.NewPipeline(cfg.CW, wallet, services.Storage, hub)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim pipeline: %w", err)
	}
	refill, err := faucet.NewRefillController(cfg.CW, wallet, pipeline, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create refill controller: %w", err)
	}

	services.Wallet = service.NewWallet(wallet, walletRefreshInterval)
	if err := services.Wallet.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start wallet service: %w", err)
	}

	services.Faucet = service.NewFaucet(pipeline, refill, refillCheckInterval)
	if err := services.Faucet.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start faucet service: %w", err)
	}

	services.API = service.NewAPI(&api.APIConfig{
		Host:     cfg.API.Host,
		Port:     cfg.API.Port,
		Storage:  services.Storage,
		Status:   registry,
		Wallet:   wallet,
		Pipeline: pipeline,
		Refill:   refill,
		Hub:      hub,
	}, false)
	if err := services.API.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start API service: %w", err)
	}

	return services, nil
}

// shutdownServices gracefully shuts down all services
func shutdownServices(services *Services) {
	if services == nil {
		return
	}

	// Stop services in reverse order of startup
	if services.API != nil {
		services.API.Stop()
	}
	if services.Faucet != nil {
		services.Faucet.Stop()
	}
	if services.Wallet != nil {
		services.Wallet.Stop()
	}
	if services.Storage != nil {
		services.Storage.Close()
	}
	log.Infow("services stopped")
}
