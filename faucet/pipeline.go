package faucet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/notify"
	"github.com/cosmdrop/faucet-node/storage"
	"github.com/cosmdrop/faucet-node/types"
)

const (
	// tickInterval is the queue drain period.
	tickInterval = 2 * time.Second
	// confirmationPollInterval is the delay between transaction lookups
	// while a broadcast awaits inclusion.
	confirmationPollInterval = time.Second
	// confirmationTimeout bounds the total confirmation wait; past it the
	// claim fails with txErrConfirmationTimeout.
	confirmationTimeout = 2 * time.Minute
	// historyRetention keeps terminal claims queryable after settlement.
	historyRetention = 30 * time.Minute
)

// Client-visible failure messages recorded in Claim.TxError.
const (
	txErrRPCUnreachable      = "Network RPC is currently unreachable."
	txErrOutOfGas            = "Faucet wallet is out of gas funds."
	txErrProcessingPrefix    = "Processing Exception: "
	txErrTxFailed            = "Transaction failed"
	txErrConfirmationTimeout = "confirmation timeout"
)

// Pipeline owns the claim state machine: the ordered queue, the pending
// set awaiting confirmation, and a short-lived history of settled claims.
// A single 2-second tick drains the queue through the wallet; every
// broadcast gets an independent confirmation watcher. All live collections
// are guarded by one mutex which is never held across a chain RPC or a
// storage write.
type Pipeline struct {
	cfg    config.CW
	wallet *WalletManager
	store  *storage.Storage
	hub    *notify.Hub
	hooks  []Hook

	minAmount *big.Int
	maxAmount *big.Int

	mu               sync.Mutex
	queue            []*types.ClaimInfo
	bySession        map[string]*types.ClaimInfo
	pending          map[string]*types.ClaimInfo
	history          map[int64]*types.ClaimInfo
	nextIdx          int64
	lastProcessedIdx int64
	lastConfirmedIdx int64
	lastProgress     types.Progress

	tickBusy atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPipeline creates a claim pipeline. Restore must run before Start so
// claims that survived a restart are reinstated ahead of new ones.
func NewPipeline(cfg config.CW, wallet *WalletManager, store *storage.Storage,
	hub *notify.Hub, hooks ...Hook) (*Pipeline, error) {
	minAmount, err := config.ParseAmount(cfg.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("cwMinAmount: %w", err)
	}
	maxAmount, err := config.ParseAmount(cfg.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("cwMaxAmount: %w", err)
	}
	return &Pipeline{
		cfg:       cfg,
		wallet:    wallet,
		store:     store,
		hub:       hub,
		hooks:     hooks,
		minAmount: minAmount,
		maxAmount: maxAmount,
		bySession: make(map[string]*types.ClaimInfo),
		pending:   make(map[string]*types.ClaimInfo),
		history:   make(map[int64]*types.ClaimInfo),
		nextIdx:   1,
	}, nil
}

// Restore reinstates persisted live claims after a restart. Sessions in
// the claiming state are placed back in the queue or, when a broadcast
// hash exists, in the pending set; confirmation watchers for restored
// pending claims are spawned by Start. The claim index counter resumes
// past the highest restored index.
func (p *Pipeline) Restore() error {
	sessions, err := p.store.SessionsByStatus(types.SessionStatusClaiming)
	if err != nil {
		return fmt.Errorf("restore claims: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var maxIdx int64
	for _, session := range sessions {
		info := session.ClaimInfo()
		if info == nil {
			log.Errorw(fmt.Errorf("claiming session without claim record"), "session "+session.ID)
			continue
		}
		switch info.Claim.Status {
		case types.ClaimStatusQueue, types.ClaimStatusProcessing:
			p.queue = append(p.queue, info)
			p.bySession[session.ID] = info
		case types.ClaimStatusPending:
			if info.Claim.TxHash == "" {
				log.Errorw(fmt.Errorf("pending claim without tx hash"), "session "+session.ID)
				continue
			}
			p.pending[info.Claim.TxHash] = info
			p.bySession[session.ID] = info
			if info.Claim.ClaimIdx > p.lastProcessedIdx {
				p.lastProcessedIdx = info.Claim.ClaimIdx
			}
		default:
			log.Errorw(fmt.Errorf("unexpected claim substatus %q", info.Claim.Status), "session "+session.ID)
			continue
		}
		if info.Claim.ClaimIdx > maxIdx {
			maxIdx = info.Claim.ClaimIdx
		}
	}
	sort.Slice(p.queue, func(i, j int) bool {
		return p.queue[i].Claim.ClaimIdx < p.queue[j].Claim.ClaimIdx
	})
	p.nextIdx = maxIdx + 1
	log.Infow("claim pipeline restored",
		"queued", len(p.queue), "pending", len(p.pending), "nextClaimIdx", p.nextIdx)
	return nil
}

// CreateClaim validates the session against the claim preconditions, runs
// the pre-claim hook chain, flips the session to claiming, persists it and
// enqueues the new claim. Exactly one concurrent caller per session wins;
// the rest get ErrRaceClaiming. The returned record is a snapshot detached
// from the live claim, which only the pipeline mutates.
func (p *Pipeline) CreateClaim(session *types.Session) (*types.ClaimInfo, error) {
	if session.Status != types.SessionStatusClaimable {
		return nil, ErrNotClaimable
	}
	amount := session.DropAmount
	if amount == nil || amount.MathBigInt().Cmp(p.minAmount) < 0 {
		return nil, ErrAmountTooLow
	}
	if amount.MathBigInt().Cmp(p.maxAmount) > 0 {
		return nil, ErrAmountTooHigh
	}
	if !strings.HasPrefix(session.TargetAddr, p.cfg.AddressPrefix) {
		return nil, ErrInvalidAddress
	}

	// Reserve the session slot and allocate the index under the lock, so
	// two racing callers cannot both pass the duplicate check.
	p.mu.Lock()
	if _, exists := p.bySession[session.ID]; exists {
		p.mu.Unlock()
		return nil, ErrRaceClaiming
	}
	claim := &types.Claim{
		ClaimIdx:  p.nextIdx,
		Status:    types.ClaimStatusQueue,
		ClaimTime: time.Now().Unix(),
	}
	info := &types.ClaimInfo{
		SessionID:  session.ID,
		TargetAddr: session.TargetAddr,
		Amount:     amount,
		Claim:      claim,
	}
	p.nextIdx++
	p.bySession[session.ID] = info
	p.mu.Unlock()

	// Hook chain and persistence run outside the lock; on any failure the
	// reservation is released so the session can be claimed again.
	for _, hook := range p.hooks {
		if err := hook.PreClaim(session, info); err != nil {
			p.releaseReservation(session.ID)
			if IsDomainError(err) {
				return nil, err
			}
			log.Warnw("pre-claim hook rejected claim", "hook", hook.Name(), "error", err)
			return nil, fmt.Errorf("%w: hook %s: %v", ErrInternal, hook.Name(), err)
		}
	}

	session.Status = types.SessionStatusClaiming
	claimCopy := *claim
	session.Claim = &claimCopy
	if err := p.store.UpdateSession(session); err != nil {
		p.releaseReservation(session.ID)
		return nil, fmt.Errorf("%w: persist session: %v", ErrInternal, err)
	}
	if err := p.store.UpdateFaucetStats(storage.StatsUpdate{Created: 1}); err != nil {
		log.Warnw("failed to update faucet stats", "error", err)
	}

	// A slow hook on an earlier claim can let a later index reach this
	// point first, so the insert keeps the queue sorted by claim index.
	p.mu.Lock()
	pos := sort.Search(len(p.queue), func(i int) bool {
		return p.queue[i].Claim.ClaimIdx > claim.ClaimIdx
	})
	p.queue = append(p.queue, nil)
	copy(p.queue[pos+1:], p.queue[pos:])
	p.queue[pos] = info
	p.mu.Unlock()

	log.Infow("claim created",
		"session", session.ID,
		"claimIdx", claim.ClaimIdx,
		"target", session.TargetAddr,
		"amount", amount.String())
	return &types.ClaimInfo{
		SessionID:  info.SessionID,
		TargetAddr: info.TargetAddr,
		Amount:     info.Amount,
		Claim:      &claimCopy,
	}, nil
}

func (p *Pipeline) releaseReservation(sessionID string) {
	p.mu.Lock()
	delete(p.bySession, sessionID)
	p.mu.Unlock()
}

// Start launches the queue ticker and spawns confirmation watchers for
// claims restored into the pending set.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	restored := make([]*types.ClaimInfo, 0, len(p.pending))
	for _, info := range p.pending {
		restored = append(restored, info)
	}
	p.mu.Unlock()
	for _, info := range restored {
		p.spawnWatcher(ctx, info)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
	log.Infow("claim pipeline started", "tickInterval", tickInterval.String())
}

// Dispose cancels the ticker and the watchers and clears the hub's replay
// slot. Terminal writes from watchers that already fired are idempotent.
func (p *Pipeline) Dispose() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.hub.Reset()
	log.Infow("claim pipeline stopped")
}

// tick drains the queue while the pending set has room and the wallet can
// pay for gas. Single-flight: overlapping ticks are skipped, not queued.
func (p *Pipeline) tick(ctx context.Context) {
	if !p.tickBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.tickBusy.Store(false)

	for {
		ws := p.wallet.State()
		p.mu.Lock()
		if len(p.pending) >= p.cfg.MaxPending || len(p.queue) == 0 {
			p.mu.Unlock()
			break
		}
		if !ws.Ready || ws.NativeBalance.Cmp(p.wallet.MinGasAmount()) <= 0 {
			p.mu.Unlock()
			break
		}
		info := p.queue[0]
		p.queue = p.queue[1:]
		// Monotone: restored pending claims may carry a higher index than
		// the queue head.
		if info.Claim.ClaimIdx > p.lastProcessedIdx {
			p.lastProcessedIdx = info.Claim.ClaimIdx
		}
		p.mu.Unlock()

		p.processOne(ctx, info)
	}
	p.broadcastProgress()
}

// processOne drives a dequeued claim to pending or failed. The wallet
// checks are repeated here because optimistic debits earlier in the same
// tick may have exhausted the gas budget since the dequeue decision.
func (p *Pipeline) processOne(ctx context.Context, info *types.ClaimInfo) {
	ws := p.wallet.State()
	if !ws.Ready {
		p.finalize(info, types.ClaimStatusFailed, txErrRPCUnreachable, 0)
		return
	}
	if ws.NativeBalance.Cmp(p.wallet.MinGasAmount()) <= 0 {
		p.finalize(info, types.ClaimStatusFailed, txErrOutOfGas, 0)
		return
	}

	// Claim fields are only written under the mutex; persistence works on
	// a snapshot so no reader shares the claim with the encoder.
	p.mu.Lock()
	info.Claim.Status = types.ClaimStatusProcessing
	claim := *info.Claim
	p.mu.Unlock()
	if err := p.store.UpdateClaimData(info.SessionID, &claim); err != nil {
		log.Warnw("failed to persist processing claim", "session", info.SessionID, "error", err)
	}

	hash, err := p.wallet.SendTokens(ctx, info.TargetAddr, info.Amount.MathBigInt())
	if err != nil {
		log.Warnw("claim broadcast failed",
			"session", info.SessionID, "claimIdx", info.Claim.ClaimIdx, "error", err)
		p.finalize(info, types.ClaimStatusFailed, txErrProcessingPrefix+err.Error(), 0)
		return
	}

	p.mu.Lock()
	info.Claim.TxHash = hash
	info.Claim.Status = types.ClaimStatusPending
	claim = *info.Claim
	p.pending[hash] = info
	p.mu.Unlock()
	if err := p.store.UpdateClaimData(info.SessionID, &claim); err != nil {
		log.Warnw("failed to persist pending claim", "session", info.SessionID, "error", err)
	}
	log.Infow("claim broadcast",
		"session", info.SessionID, "claimIdx", info.Claim.ClaimIdx, "txHash", hash)
	p.spawnWatcher(ctx, info)
}

func (p *Pipeline) spawnWatcher(ctx context.Context, info *types.ClaimInfo) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchConfirmation(ctx, info)
	}()
}

// watchConfirmation polls the transaction until inclusion or the bounded
// timeout elapses, then settles the claim.
func (p *Pipeline) watchConfirmation(ctx context.Context, info *types.ClaimInfo) {
	querier := p.wallet.Querier()
	deadline := time.Now().Add(confirmationTimeout)
	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		result, err := querier.Tx(ctx, info.Claim.TxHash)
		if err != nil {
			if !errors.Is(err, chain.ErrTxNotFound) {
				log.Warnw("transaction lookup failed",
					"txHash", info.Claim.TxHash, "error", err)
			}
			if time.Now().After(deadline) {
				p.finalize(info, types.ClaimStatusFailed, txErrConfirmationTimeout, 0)
				return
			}
			continue
		}
		if result.Code != 0 {
			log.Warnw("claim transaction failed on chain",
				"txHash", info.Claim.TxHash, "code", result.Code, "rawLog", result.RawLog)
			p.finalize(info, types.ClaimStatusFailed, txErrTxFailed, 0)
			return
		}
		p.finalize(info, types.ClaimStatusConfirmed, "", result.Height)
		return
	}
}

// finalize settles a claim: it mutates the claim to its terminal status
// under the mutex, evicts it from the live maps, archives it in the
// history, persists the session and, for a confirmed claim, raises the
// confirmation watermark, fires the claimed hooks and updates the
// aggregate stats. Idempotent for a claim already settled.
func (p *Pipeline) finalize(info *types.ClaimInfo, terminal types.ClaimStatus, txError string, txHeight int64) {
	p.mu.Lock()
	if info.Claim.Status.Terminal() {
		p.mu.Unlock()
		return
	}
	info.Claim.Status = terminal
	info.Claim.TxError = txError
	if terminal == types.ClaimStatusConfirmed {
		info.Claim.TxHeight = txHeight
		info.Claim.TxFee = p.cfg.GasAmount
	}
	claim := *info.Claim
	if claim.TxHash != "" {
		delete(p.pending, claim.TxHash)
	}
	delete(p.bySession, info.SessionID)
	idx := claim.ClaimIdx
	p.history[idx] = info
	if terminal == types.ClaimStatusConfirmed && idx > p.lastConfirmedIdx {
		p.lastConfirmedIdx = idx
	}
	p.mu.Unlock()

	time.AfterFunc(historyRetention, func() {
		p.mu.Lock()
		delete(p.history, idx)
		p.mu.Unlock()
	})

	sessionStatus := types.SessionStatusFailed
	if terminal == types.ClaimStatusConfirmed {
		sessionStatus = types.SessionStatusClosed
	}
	session, err := p.store.Session(info.SessionID)
	if err != nil {
		log.Errorw(err, "failed to load session for settlement")
	} else {
		session.Status = sessionStatus
		session.Claim = &claim
		if err := p.store.UpdateSession(session); err != nil {
			log.Errorw(err, "failed to persist settled session")
		}
	}

	update := storage.StatsUpdate{}
	if terminal == types.ClaimStatusConfirmed {
		update.Confirmed = 1
		update.Dispensed = info.Amount
	} else {
		update.Failed = 1
	}
	if err := p.store.UpdateFaucetStats(update); err != nil {
		log.Warnw("failed to update faucet stats", "error", err)
	}

	if terminal == types.ClaimStatusConfirmed {
		for _, hook := range p.hooks {
			hook.SessionClaimed(info)
		}
		log.Infow("claim confirmed",
			"session", info.SessionID, "claimIdx", idx,
			"txHash", claim.TxHash, "txHeight", claim.TxHeight)
	} else {
		log.Infow("claim failed",
			"session", info.SessionID, "claimIdx", idx, "txError", txError)
	}
	p.broadcastProgress()
}

// broadcastProgress publishes the watermark pair when it changed since the
// last broadcast.
func (p *Pipeline) broadcastProgress() {
	p.mu.Lock()
	progress := types.Progress{
		ProcessedIdx: p.lastProcessedIdx,
		ConfirmedIdx: p.lastConfirmedIdx,
	}
	changed := progress != p.lastProgress
	p.lastProgress = progress
	p.mu.Unlock()
	if changed {
		p.hub.Broadcast(progress)
	}
}

// Progress returns the current watermark pair.
func (p *Pipeline) Progress() types.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.Progress{
		ProcessedIdx: p.lastProcessedIdx,
		ConfirmedIdx: p.lastConfirmedIdx,
	}
}

// QueuedAmount returns the total token amount committed to queued claims.
func (p *Pipeline) QueuedAmount() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := new(big.Int)
	for _, info := range p.queue {
		total.Add(total, info.Amount.MathBigInt())
	}
	return total
}

// TransactionQueue returns the live claims ordered by claim index: the
// queue, the pending set and, unless queueOnly is set, the recent history.
// Entries are copies detached from the live claims.
func (p *Pipeline) TransactionQueue(queueOnly bool) []*types.ClaimInfo {
	p.mu.Lock()
	out := make([]*types.ClaimInfo, 0, len(p.queue)+len(p.pending)+len(p.history))
	for _, info := range p.queue {
		out = append(out, snapshotInfo(info))
	}
	for _, info := range p.pending {
		out = append(out, snapshotInfo(info))
	}
	if !queueOnly {
		for _, info := range p.history {
			out = append(out, snapshotInfo(info))
		}
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Claim.ClaimIdx < out[j].Claim.ClaimIdx
	})
	return out
}

// snapshotInfo copies a claim record so callers never share the mutable
// claim with the pipeline. The caller holds p.mu.
func snapshotInfo(info *types.ClaimInfo) *types.ClaimInfo {
	claim := *info.Claim
	clone := *info
	clone.Claim = &claim
	return &clone
}

// PendingCount returns the number of claims awaiting confirmation.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
