package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/db/metadb"
	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/notify"
	"github.com/cosmdrop/faucet-node/status"
	"github.com/cosmdrop/faucet-node/storage"
	"github.com/cosmdrop/faucet-node/types"
)

func newTestAPI(t *testing.T) (*API, *storage.Storage) {
	t.Helper()
	c := qt.New(t)

	cfg := config.DefaultCW()
	cfg.RPCHost = []string{"http://localhost:1317"}
	cfg.WalletMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	cfg.MinAmount = "1000"
	cfg.MaxAmount = "10000000"

	store := storage.New(metadb.NewTest(t))
	registry := status.NewRegistry()
	hub := notify.NewHub()

	// Claim creation never touches the chain; the wallet stays
	// uninitialized for these handler tests.
	wallet, err := faucet.NewWalletManager(cfg, registry,
		func() (chain.SigningClient, chain.QueryClient, error) {
			return nil, nil, fmt.Errorf("no chain in handler tests")
		})
	c.Assert(err, qt.IsNil)
	pipeline, err := faucet.NewPipeline(cfg, wallet, store, hub)
	c.Assert(err, qt.IsNil)

	a, err := New(&APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Storage:  store,
		Status:   registry,
		Wallet:   wallet,
		Pipeline: pipeline,
		Hub:      hub,
	})
	c.Assert(err, qt.IsNil)
	return a, store
}

func doRequest(t *testing.T, a *API, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		qt.Assert(t, json.NewEncoder(&buf).Encode(body), qt.IsNil)
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func TestClaimReward(t *testing.T) {
	c := qt.New(t)
	a, store := newTestAPI(t)

	session := &types.Session{
		Status:     types.SessionStatusClaimable,
		TargetAddr: "wasm1destination",
		DropAmount: types.NewInt(1_000_000),
	}
	c.Assert(store.NewSession(session), qt.IsNil)

	rec := doRequest(t, a, http.MethodPost, ClaimRewardEndpoint, ClaimRewardRequest{Session: session.ID})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	resp := &SessionStatus{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), resp), qt.IsNil)
	c.Assert(resp.Status, qt.Equals, types.SessionStatusClaiming)
	c.Assert(resp.ClaimStatus, qt.Equals, types.ClaimStatusQueue)
	c.Assert(resp.ClaimIdx, qt.Equals, int64(1))

	// A second claim for the same session is rejected.
	rec = doRequest(t, a, http.MethodPost, ClaimRewardEndpoint, ClaimRewardRequest{Session: session.ID})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	apiErr := struct {
		Code int `json:"code"`
	}{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &apiErr), qt.IsNil)
	c.Assert(apiErr.Code, qt.Equals, ErrSessionNotClaimable.Code)
}

func TestClaimRewardValidation(t *testing.T) {
	c := qt.New(t)
	a, store := newTestAPI(t)

	rec := doRequest(t, a, http.MethodPost, ClaimRewardEndpoint, ClaimRewardRequest{Session: "nope"})
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)

	rec = doRequest(t, a, http.MethodPost, ClaimRewardEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)

	tooLow := &types.Session{
		Status:     types.SessionStatusClaimable,
		TargetAddr: "wasm1destination",
		DropAmount: types.NewInt(1),
	}
	c.Assert(store.NewSession(tooLow), qt.IsNil)
	rec = doRequest(t, a, http.MethodPost, ClaimRewardEndpoint, ClaimRewardRequest{Session: tooLow.ID})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	apiErr := struct {
		Code int `json:"code"`
	}{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &apiErr), qt.IsNil)
	c.Assert(apiErr.Code, qt.Equals, ErrAmountTooLow.Code)
}

func TestGetSessionStatus(t *testing.T) {
	c := qt.New(t)
	a, store := newTestAPI(t)

	session := &types.Session{
		Status:     types.SessionStatusFailed,
		TargetAddr: "wasm1destination",
		DropAmount: types.NewInt(1_000_000),
		Claim: &types.Claim{
			ClaimIdx: 12,
			Status:   types.ClaimStatusFailed,
			TxError:  "Faucet wallet is out of gas funds.",
		},
	}
	c.Assert(store.NewSession(session), qt.IsNil)

	rec := doRequest(t, a, http.MethodGet, SessionStatusEndpoint+"?session="+session.ID, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	resp := &SessionStatus{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), resp), qt.IsNil)
	c.Assert(resp.ClaimStatus, qt.Equals, types.ClaimStatusFailed)
	c.Assert(resp.ClaimMessage, qt.Equals, "Faucet wallet is out of gas funds.")

	rec = doRequest(t, a, http.MethodGet, SessionStatusEndpoint+"?session=missing", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)

	rec = doRequest(t, a, http.MethodGet, SessionStatusEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestGetQueueStatus(t *testing.T) {
	c := qt.New(t)
	a, _ := newTestAPI(t)

	rec := doRequest(t, a, http.MethodGet, QueueStatusEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	resp := &QueueStatus{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), resp), qt.IsNil)
	c.Assert(resp.QueueLength, qt.Equals, 0)
	c.Assert(resp.Wallet, qt.Not(qt.IsNil))
	c.Assert(resp.Wallet.Ready, qt.IsFalse)

	// The snapshot is cached; a second request inside the TTL returns the
	// same value without rebuilding it.
	rec = doRequest(t, a, http.MethodGet, QueueStatusEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}
