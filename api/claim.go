package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/storage"
	"github.com/cosmdrop/faucet-node/types"
)

const queueCacheKey = "queueStatus"

// claimReward creates a claim for the session in the request body and
// returns the updated session status.
func (a *API) claimReward(w http.ResponseWriter, r *http.Request) {
	req := &ClaimRewardRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Session == "" {
		ErrMalformedParam.Withf("missing session").Write(w)
		return
	}
	session, err := a.storage.Session(req.Session)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrSessionNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	if _, err := a.pipeline.CreateClaim(session); err != nil {
		claimError(err).Write(w)
		return
	}
	httpWriteJSON(w, newSessionStatus(session))
}

// getSessionStatus returns the session and its claim record, including the
// failure message of a failed claim.
func (a *API) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(SessionQueryParam)
	if id == "" {
		ErrMalformedParam.Withf("missing session").Write(w)
		return
	}
	session, err := a.storage.Session(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrSessionNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, newSessionStatus(session))
}

// getQueueStatus returns the aggregated queue snapshot. The snapshot is
// rebuilt at most once per TTL window; concurrent readers share the cached
// value.
func (a *API) getQueueStatus(w http.ResponseWriter, _ *http.Request) {
	if cached, ok := a.queueCache.Get(queueCacheKey); ok {
		httpWriteJSON(w, cached)
		return
	}
	progress := a.pipeline.Progress()
	snapshot := &QueueStatus{
		QueueLength:  len(a.pipeline.TransactionQueue(true)) - a.pipeline.PendingCount(),
		PendingCount: a.pipeline.PendingCount(),
		ProcessedIdx: progress.ProcessedIdx,
		ConfirmedIdx: progress.ConfirmedIdx,
		QueuedAmount: (*types.BigInt)(a.pipeline.QueuedAmount()),
		Wallet:       a.wallet.State(),
		Stats:        a.storage.FaucetStats(),
	}
	if a.refill != nil {
		state := a.refill.State()
		snapshot.Refill = &state
	}
	if a.status != nil {
		snapshot.Health = a.status.All()
	}
	a.queueCache.Add(queueCacheKey, snapshot)
	httpWriteJSON(w, snapshot)
}

// claimError maps a claim domain error to the HTTP error catalog.
func claimError(err error) Error {
	switch {
	case errors.Is(err, faucet.ErrNotClaimable):
		return ErrSessionNotClaimable
	case errors.Is(err, faucet.ErrAmountTooLow):
		return ErrAmountTooLow
	case errors.Is(err, faucet.ErrAmountTooHigh):
		return ErrAmountTooHigh
	case errors.Is(err, faucet.ErrInvalidAddress):
		return ErrInvalidAddress
	case errors.Is(err, faucet.ErrRaceClaiming):
		return ErrClaimInProgress
	default:
		return ErrGenericInternalServerError.WithErr(err)
	}
}
