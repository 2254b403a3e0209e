package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/log"
)

// FaucetService runs the claim pipeline and the refill controller. The
// pipeline is restored from storage before its ticker starts so claims
// that survived a restart are processed first.
type FaucetService struct {
	pipeline       *faucet.Pipeline
	refill         *faucet.RefillController
	refillInterval time.Duration
	mu             sync.Mutex
	cancel         context.CancelFunc
}

// NewFaucet creates a new FaucetService instance.
func NewFaucet(pipeline *faucet.Pipeline, refill *faucet.RefillController,
	refillInterval time.Duration) *FaucetService {
	return &FaucetService{
		pipeline:       pipeline,
		refill:         refill,
		refillInterval: refillInterval,
	}
}

// Start restores the pipeline state and launches the queue ticker and the
// refill timer. It returns an error if the service is already running or
// the restore fails.
func (fs *FaucetService) Start(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cancel != nil {
		return fmt.Errorf("service already running")
	}
	if err := fs.pipeline.Restore(); err != nil {
		return fmt.Errorf("failed to restore claim pipeline: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	fs.cancel = cancel
	fs.pipeline.Start(ctx)

	if fs.refill != nil {
		go func() {
			ticker := time.NewTicker(fs.refillInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := fs.refill.Invoke(ctx); err != nil {
						log.Warnw("scheduled refill failed", "error", err)
					}
				}
			}
		}()
	}
	go fs.monitor(ctx)
	return nil
}

// monitor logs pipeline throughput statistics once a minute.
func (fs *FaucetService) monitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress := fs.pipeline.Progress()
			log.Monitor("claim pipeline", map[string]any{
				"queued":       len(fs.pipeline.TransactionQueue(true)) - fs.pipeline.PendingCount(),
				"pending":      fs.pipeline.PendingCount(),
				"processedIdx": progress.ProcessedIdx,
				"confirmedIdx": progress.ConfirmedIdx,
			})
		}
	}
}

// Stop cancels the timers and disposes the pipeline.
func (fs *FaucetService) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cancel == nil {
		return
	}
	fs.cancel()
	fs.cancel = nil
	fs.pipeline.Dispose()
}
