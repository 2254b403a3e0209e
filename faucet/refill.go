package faucet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/log"
)

// attemptCooldown is the minimum spacing between two refill evaluations,
// regardless of outcome. The success cooldown comes from configuration.
const attemptCooldown = 60 * time.Second

// UnclaimedFunc reports the token amount committed to live sessions that
// have not entered the claim pipeline yet. Supplied by the upstream
// session manager.
type UnclaimedFunc func() *big.Int

// RefillState is the observable controller state.
type RefillState struct {
	LastSuccessTime int64 `json:"lastSuccessTime"`
	LastAttemptTime int64 `json:"lastAttemptTime"`
	InFlight        bool  `json:"inFlight"`
}

// RefillController keeps the wallet's available token balance inside the
// configured band by withdrawing from or depositing to the treasury
// contract. Concurrent invocations collapse into one in-flight attempt.
type RefillController struct {
	cfg       config.CW
	wallet    *WalletManager
	pipeline  *Pipeline
	unclaimed UnclaimedFunc

	refillAmount   *big.Int
	threshold      *big.Int
	overflowAmount *big.Int

	group singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time
	lastAttempt time.Time
	inFlight    bool
}

// NewRefillController creates the controller. When refill is disabled in
// the configuration, Invoke is a no-op.
func NewRefillController(cfg config.CW, wallet *WalletManager, pipeline *Pipeline,
	unclaimed UnclaimedFunc) (*RefillController, error) {
	c := &RefillController{
		cfg:       cfg,
		wallet:    wallet,
		pipeline:  pipeline,
		unclaimed: unclaimed,
	}
	if !cfg.RefillEnabled {
		return c, nil
	}
	var err error
	if c.refillAmount, err = config.ParseAmount(cfg.RefillAmount); err != nil {
		return nil, fmt.Errorf("cwRefillAmount: %w", err)
	}
	if c.threshold, err = config.ParseAmount(cfg.RefillThreshold); err != nil {
		return nil, fmt.Errorf("cwRefillThreshold: %w", err)
	}
	if c.overflowAmount, err = config.ParseAmount(cfg.RefillOverflowAmount); err != nil {
		return nil, fmt.Errorf("cwRefillOverflowAmount: %w", err)
	}
	return c, nil
}

// State returns the observable controller state.
func (c *RefillController) State() RefillState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := RefillState{InFlight: c.inFlight}
	if !c.lastSuccess.IsZero() {
		state.LastSuccessTime = c.lastSuccess.Unix()
	}
	if !c.lastAttempt.IsZero() {
		state.LastAttemptTime = c.lastAttempt.Unix()
	}
	return state
}

// Invoke evaluates the balance band and, if a refill or overflow is due,
// executes it against the treasury contract. Concurrent callers share the
// in-flight attempt; cooldown violations return without acting. Errors are
// logged only: the next scheduled invocation is the retry.
func (c *RefillController) Invoke(ctx context.Context) error {
	if !c.cfg.RefillEnabled || c.cfg.RefillContract == "" {
		return nil
	}
	_, err, _ := c.group.Do("refill", func() (any, error) {
		return nil, c.attempt(ctx)
	})
	if err != nil {
		log.Warnw("refill attempt failed", "error", err)
	}
	return err
}

func (c *RefillController) attempt(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastAttempt) < attemptCooldown {
		c.mu.Unlock()
		return nil
	}
	if !c.lastSuccess.IsZero() &&
		now.Sub(c.lastSuccess) < time.Duration(c.cfg.RefillCooldown)*time.Second {
		c.mu.Unlock()
		return nil
	}
	c.lastAttempt = now
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	ws := c.wallet.State()
	if !ws.Ready {
		return ErrWalletNotReady
	}
	available := new(big.Int).Set(ws.TokenBalance)
	if c.unclaimed != nil {
		available.Sub(available, c.unclaimed())
	}
	available.Sub(available, c.pipeline.QueuedAmount())

	switch {
	case available.Cmp(c.overflowAmount) > 0:
		excess := new(big.Int).Sub(available, c.overflowAmount)
		return c.execute(ctx, "overflow",
			map[string]any{"deposit": map[string]any{}},
			[]chain.Coin{{Denom: c.cfg.Denom, Amount: excess}})
	case available.Cmp(c.threshold) < 0:
		return c.execute(ctx, "refill",
			map[string]any{"withdraw": map[string]string{"amount": c.refillAmount.String()}},
			nil)
	default:
		return nil
	}
}

// execute broadcasts the treasury call, awaits its confirmation and, on
// success, stamps the cooldown and refreshes the wallet state.
func (c *RefillController) execute(ctx context.Context, action string, msg any, funds []chain.Coin) error {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", action, err)
	}
	hash, err := c.wallet.ExecuteContract(ctx, c.cfg.RefillContract, msgJSON, funds, c.wallet.txFee())
	if err != nil {
		return fmt.Errorf("%s broadcast: %w", action, err)
	}
	log.Infow("treasury transaction broadcast", "action", action, "txHash", hash)

	if err := c.awaitConfirmation(ctx, hash); err != nil {
		return fmt.Errorf("%s confirmation: %w", action, err)
	}
	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.mu.Unlock()
	if err := c.wallet.LoadWalletState(ctx); err != nil {
		log.Warnw("wallet state refresh after refill failed", "error", err)
	}
	log.Infow("treasury transaction confirmed", "action", action, "txHash", hash)
	return nil
}

func (c *RefillController) awaitConfirmation(ctx context.Context, hash string) error {
	querier := c.wallet.Querier()
	deadline := time.Now().Add(confirmationTimeout)
	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		result, err := querier.Tx(ctx, hash)
		if err != nil {
			if !errors.Is(err, chain.ErrTxNotFound) {
				log.Warnw("treasury transaction lookup failed", "txHash", hash, "error", err)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("transaction %s not confirmed in time", hash)
			}
			continue
		}
		if result.Code != 0 {
			return fmt.Errorf("transaction %s failed with code %d: %s", hash, result.Code, result.RawLog)
		}
		return nil
	}
}
