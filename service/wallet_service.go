// Package service wraps the faucet components in start/stop lifecycles so
// the node entrypoint can compose and tear them down in order.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/log"
)

// WalletService initializes the faucet wallet and keeps its on-chain state
// fresh on a fixed interval.
type WalletService struct {
	wallet   *faucet.WalletManager
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// NewWallet creates a new WalletService instance.
func NewWallet(wallet *faucet.WalletManager, interval time.Duration) *WalletService {
	return &WalletService{
		wallet:   wallet,
		interval: interval,
	}
}

// Start initializes the wallet and begins the periodic state refresh. It
// returns an error if the service is already running.
func (ws *WalletService) Start(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	ws.cancel = cancel

	if err := ws.wallet.Initialize(ctx); err != nil {
		// Initialization retries on its own timer; the service still runs.
		log.Warnw("wallet initialization pending", "error", err)
	}

	go func() {
		ticker := time.NewTicker(ws.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.wallet.LoadWalletState(ctx); err != nil {
					log.Warnw("wallet state refresh failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Reload rebuilds the chain clients and refreshes the wallet state. Used
// on SIGHUP to recover from a rotated or replaced RPC endpoint.
func (ws *WalletService) Reload(ctx context.Context) error {
	if err := ws.wallet.Reload(); err != nil {
		return err
	}
	return ws.wallet.LoadWalletState(ctx)
}

// Stop halts the periodic refresh.
func (ws *WalletService) Stop() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.cancel != nil {
		ws.cancel()
		ws.cancel = nil
	}
}
