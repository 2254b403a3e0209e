package faucet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/db/metadb"
	"github.com/cosmdrop/faucet-node/notify"
	"github.com/cosmdrop/faucet-node/storage"
	"github.com/cosmdrop/faucet-node/types"
)

func newTestPipeline(t *testing.T, cfg config.CW, fake *fakeChain) (*Pipeline, *WalletManager, *storage.Storage, *notify.Hub) {
	t.Helper()
	store := storage.New(metadb.NewTest(t))
	wallet, _ := newTestWallet(t, cfg, fake)
	hub := notify.NewHub()
	pipeline, err := NewPipeline(cfg, wallet, store, hub)
	qt.Assert(t, err, qt.IsNil)
	return pipeline, wallet, store, hub
}

func newClaimableSession(t *testing.T, store *storage.Storage, amount int64) *types.Session {
	t.Helper()
	session := &types.Session{
		Status:     types.SessionStatusClaimable,
		TargetAddr: "wasm1destination",
		DropAmount: types.NewInt(amount),
	}
	qt.Assert(t, store.NewSession(session), qt.IsNil)
	return session
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCreateClaimPreconditions(t *testing.T) {
	c := qt.New(t)
	pipeline, _, store, _ := newTestPipeline(t, testCW(), newFakeChain())

	closed := newClaimableSession(t, store, 1_000_000)
	closed.Status = types.SessionStatusClosed
	_, err := pipeline.CreateClaim(closed)
	c.Assert(err, qt.ErrorIs, ErrNotClaimable)

	low := newClaimableSession(t, store, 10) // below cwMinAmount
	_, err = pipeline.CreateClaim(low)
	c.Assert(err, qt.ErrorIs, ErrAmountTooLow)

	high := newClaimableSession(t, store, 100_000_000) // above cwMaxAmount
	_, err = pipeline.CreateClaim(high)
	c.Assert(err, qt.ErrorIs, ErrAmountTooHigh)

	wrongChain := newClaimableSession(t, store, 1_000_000)
	wrongChain.TargetAddr = "cosmos1destination"
	_, err = pipeline.CreateClaim(wrongChain)
	c.Assert(err, qt.ErrorIs, ErrInvalidAddress)

	ok := newClaimableSession(t, store, 1_000_000)
	info, err := pipeline.CreateClaim(ok)
	c.Assert(err, qt.IsNil)
	c.Assert(info.Claim.ClaimIdx, qt.Equals, int64(1))
	c.Assert(info.Claim.Status, qt.Equals, types.ClaimStatusQueue)

	// The session is now claiming, so a repeat claim is rejected before the
	// race check even triggers.
	stored, err := store.Session(ok.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Status, qt.Equals, types.SessionStatusClaiming)
	_, err = pipeline.CreateClaim(stored)
	c.Assert(err, qt.ErrorIs, ErrNotClaimable)
}

func TestDoubleClaimRace(t *testing.T) {
	c := qt.New(t)
	pipeline, _, store, _ := newTestPipeline(t, testCW(), newFakeChain())
	session := newClaimableSession(t, store, 1_000_000)

	// Each goroutine works on its own copy, as two API requests would.
	const racers = 2
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clone := *session
			_, results[i] = pipeline.CreateClaim(&clone)
		}(i)
	}
	wg.Wait()

	var won, raced int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrRaceClaiming):
			raced++
		}
	}
	c.Assert(won, qt.Equals, 1)
	c.Assert(raced, qt.Equals, 1)
}

func TestHappyPathNativeClaim(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	pipeline, _, store, hub := newTestPipeline(t, testCW(), fake)
	session := newClaimableSession(t, store, 1_000_000)

	_, err := pipeline.CreateClaim(session)
	c.Assert(err, qt.IsNil)
	c.Assert(len(pipeline.TransactionQueue(true)), qt.Equals, 1)

	pipeline.tick(context.Background())
	c.Assert(pipeline.PendingCount(), qt.Equals, 1)
	live := pipeline.TransactionQueue(true)
	c.Assert(len(live), qt.Equals, 1)
	c.Assert(live[0].Claim.TxHash, qt.Not(qt.Equals), "")
	c.Assert(hub.LastBroadcast().ProcessedIdx, qt.Equals, int64(1))

	// The watcher picks up the auto-confirmed transaction.
	waitFor(t, func() bool {
		stored, err := store.Session(session.ID)
		return err == nil && stored.Status == types.SessionStatusClosed
	})
	stored, err := store.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Claim.Status, qt.Equals, types.ClaimStatusConfirmed)
	c.Assert(stored.Claim.TxHeight, qt.Not(qt.Equals), int64(0))
	c.Assert(stored.Claim.TxFee, qt.Equals, "200")

	c.Assert(pipeline.PendingCount(), qt.Equals, 0)
	progress := pipeline.Progress()
	c.Assert(progress, qt.Equals, types.Progress{ProcessedIdx: 1, ConfirmedIdx: 1})
	c.Assert(hub.LastBroadcast().ConfirmedIdx, qt.Equals, int64(1))

	// Settled claim stays queryable in the history.
	history := pipeline.TransactionQueue(false)
	c.Assert(len(history), qt.Equals, 1)
	c.Assert(history[0].Claim.Status, qt.Equals, types.ClaimStatusConfirmed)

	stats := store.FaucetStats()
	c.Assert(stats.ClaimsConfirmed, qt.Equals, int64(1))
	c.Assert(stats.TotalDispensed.String(), qt.Equals, "1000000")
}

func TestGasExhaustionLeavesQueueIntact(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	fake.nativeBalance = big.NewInt(10_000) // exactly cwMinGasAmount
	pipeline, _, store, hub := newTestPipeline(t, testCW(), fake)
	session := newClaimableSession(t, store, 1_000_000)

	_, err := pipeline.CreateClaim(session)
	c.Assert(err, qt.IsNil)

	pipeline.tick(context.Background())
	c.Assert(pipeline.PendingCount(), qt.Equals, 0)
	c.Assert(len(pipeline.TransactionQueue(true)), qt.Equals, 1)
	c.Assert(hub.LastBroadcast(), qt.IsNil)
	c.Assert(fake.sentCount(), qt.Equals, 0)
}

func TestMaxPendingBound(t *testing.T) {
	c := qt.New(t)
	cfg := testCW()
	cfg.MaxPending = 2
	fake := newFakeChain()
	fake.autoConfirm = false
	pipeline, _, store, _ := newTestPipeline(t, cfg, fake)

	for i := 0; i < 4; i++ {
		_, err := pipeline.CreateClaim(newClaimableSession(t, store, 1_000_000))
		c.Assert(err, qt.IsNil)
	}
	pipeline.tick(context.Background())
	c.Assert(pipeline.PendingCount(), qt.Equals, 2)
	c.Assert(len(pipeline.TransactionQueue(true)), qt.Equals, 4)
}

func TestBroadcastFailureFailsClaim(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	fake.broadcastErr = fmt.Errorf("insufficient fees")
	pipeline, _, store, _ := newTestPipeline(t, testCW(), fake)
	session := newClaimableSession(t, store, 1_000_000)

	_, err := pipeline.CreateClaim(session)
	c.Assert(err, qt.IsNil)
	pipeline.tick(context.Background())

	stored, err := store.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Status, qt.Equals, types.SessionStatusFailed)
	c.Assert(stored.Claim.Status, qt.Equals, types.ClaimStatusFailed)
	c.Assert(stored.Claim.TxError, qt.Contains, "Processing Exception: ")
	c.Assert(stored.Claim.TxError, qt.Contains, "insufficient fees")
	c.Assert(pipeline.PendingCount(), qt.Equals, 0)
}

func TestConfirmationFailure(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	fake.confirmCode = 11 // out of gas on chain
	pipeline, _, store, _ := newTestPipeline(t, testCW(), fake)
	session := newClaimableSession(t, store, 1_000_000)

	_, err := pipeline.CreateClaim(session)
	c.Assert(err, qt.IsNil)
	pipeline.tick(context.Background())

	waitFor(t, func() bool {
		stored, err := store.Session(session.ID)
		return err == nil && stored.Status == types.SessionStatusFailed
	})
	stored, err := store.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Claim.TxError, qt.Equals, "Transaction failed")
	c.Assert(pipeline.PendingCount(), qt.Equals, 0)

	// A failure never advances the confirmation watermark.
	c.Assert(pipeline.Progress().ConfirmedIdx, qt.Equals, int64(0))
}

func TestCrashRecovery(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	store := storage.New(metadb.NewTest(t))

	// Two claims survived the crash: one mid-processing, one awaiting its
	// confirmation.
	s3 := &types.Session{
		ID:         "S3",
		Status:     types.SessionStatusClaiming,
		TargetAddr: "wasm1destination",
		DropAmount: types.NewInt(1_000_000),
		Claim: &types.Claim{
			ClaimIdx: 7, Status: types.ClaimStatusProcessing, ClaimTime: time.Now().Unix(),
		},
	}
	s4 := &types.Session{
		ID:         "S4",
		Status:     types.SessionStatusClaiming,
		TargetAddr: "wasm1destination",
		DropAmount: types.NewInt(2_000_000),
		Claim: &types.Claim{
			ClaimIdx: 8, Status: types.ClaimStatusPending, ClaimTime: time.Now().Unix(),
			TxHash: "0xAB",
		},
	}
	c.Assert(store.NewSession(s3), qt.IsNil)
	c.Assert(store.NewSession(s4), qt.IsNil)

	wallet, _ := newTestWallet(t, testCW(), fake)
	hub := notify.NewHub()
	pipeline, err := NewPipeline(testCW(), wallet, store, hub)
	c.Assert(err, qt.IsNil)
	c.Assert(pipeline.Restore(), qt.IsNil)

	queued := pipeline.TransactionQueue(true)
	c.Assert(len(queued), qt.Equals, 2)
	c.Assert(queued[0].SessionID, qt.Equals, "S3")
	c.Assert(queued[1].SessionID, qt.Equals, "S4")
	c.Assert(pipeline.PendingCount(), qt.Equals, 1)
	c.Assert(pipeline.nextIdx, qt.Equals, int64(9))

	// The restored watcher is bound to the persisted hash: once the chain
	// reports it, S4 settles without a new broadcast.
	pipeline.Start(context.Background())
	defer pipeline.Dispose()
	fake.confirm("0xAB", 0)
	waitFor(t, func() bool {
		stored, err := store.Session("S4")
		return err == nil && stored.Status == types.SessionStatusClosed
	})
	stored, err := store.Session("S4")
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Claim.Status, qt.Equals, types.ClaimStatusConfirmed)
	c.Assert(pipeline.Progress().ConfirmedIdx, qt.Equals, int64(8))
}

// stallFirstHook blocks its first PreClaim invocation until released, so a
// later claim can finish enqueueing before an earlier one.
type stallFirstHook struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *stallFirstHook) Name() string { return "stall-first" }

func (h *stallFirstHook) PreClaim(*types.Session, *types.ClaimInfo) error {
	var first bool
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		<-h.release
	}
	return nil
}

func (h *stallFirstHook) SessionClaimed(*types.ClaimInfo) {}

func TestQueueOrderWithSlowHook(t *testing.T) {
	c := qt.New(t)
	store := storage.New(metadb.NewTest(t))
	wallet, _ := newTestWallet(t, testCW(), newFakeChain())
	hook := &stallFirstHook{entered: make(chan struct{}), release: make(chan struct{})}
	pipeline, err := NewPipeline(testCW(), wallet, store, notify.NewHub(), hook)
	c.Assert(err, qt.IsNil)

	first := newClaimableSession(t, store, 1_000_000)
	second := newClaimableSession(t, store, 1_000_000)

	done := make(chan error, 1)
	go func() {
		_, err := pipeline.CreateClaim(first)
		done <- err
	}()
	<-hook.entered

	// The second claim overtakes the stalled first one.
	_, err = pipeline.CreateClaim(second)
	c.Assert(err, qt.IsNil)
	close(hook.release)
	c.Assert(<-done, qt.IsNil)

	// The queue stays sorted by claim index regardless of enqueue order.
	pipeline.mu.Lock()
	idxs := make([]int64, 0, len(pipeline.queue))
	for _, info := range pipeline.queue {
		idxs = append(idxs, info.Claim.ClaimIdx)
	}
	pipeline.mu.Unlock()
	c.Assert(idxs, qt.DeepEquals, []int64{1, 2})
}

func TestClaimRecordsAreDetached(t *testing.T) {
	c := qt.New(t)
	pipeline, _, store, _ := newTestPipeline(t, testCW(), newFakeChain())
	session := newClaimableSession(t, store, 1_000_000)

	info, err := pipeline.CreateClaim(session)
	c.Assert(err, qt.IsNil)
	pipeline.tick(context.Background())
	waitFor(t, func() bool {
		stored, err := store.Session(session.ID)
		return err == nil && stored.Status == types.SessionStatusClosed
	})

	// The record returned at creation is a snapshot; settlement does not
	// reach into it.
	c.Assert(info.Claim.Status, qt.Equals, types.ClaimStatusQueue)
	c.Assert(info.Claim.TxHash, qt.Equals, "")

	// Mutating a listed record does not leak back into the pipeline.
	listed := pipeline.TransactionQueue(false)
	c.Assert(len(listed), qt.Equals, 1)
	listed[0].Claim.Status = types.ClaimStatusFailed
	again := pipeline.TransactionQueue(false)
	c.Assert(again[0].Claim.Status, qt.Equals, types.ClaimStatusConfirmed)
}

func TestStatusReadsDuringSettlement(t *testing.T) {
	c := qt.New(t)
	pipeline, _, store, _ := newTestPipeline(t, testCW(), newFakeChain())
	for i := 0; i < 5; i++ {
		_, err := pipeline.CreateClaim(newClaimableSession(t, store, 1_000_000))
		c.Assert(err, qt.IsNil)
	}

	// Marshal the claim listing continuously while the claims settle, the
	// way the queue status endpoint reads it.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 2; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := json.Marshal(pipeline.TransactionQueue(false)); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	pipeline.tick(context.Background())
	waitFor(t, func() bool { return pipeline.Progress().ConfirmedIdx == 5 })
	close(stop)
	readers.Wait()
}

func TestWatermarksMonotone(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	pipeline, _, store, _ := newTestPipeline(t, testCW(), fake)

	for i := 0; i < 3; i++ {
		_, err := pipeline.CreateClaim(newClaimableSession(t, store, 1_000_000))
		c.Assert(err, qt.IsNil)
	}
	pipeline.tick(context.Background())
	c.Assert(pipeline.Progress().ProcessedIdx, qt.Equals, int64(3))
	waitFor(t, func() bool {
		return pipeline.Progress().ConfirmedIdx == 3
	})
	c.Assert(pipeline.Progress(), qt.Equals, types.Progress{ProcessedIdx: 3, ConfirmedIdx: 3})
}
