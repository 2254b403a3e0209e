// Package lcd implements the chain client interfaces over the REST (LCD)
// gateway of a CosmWasm-enabled chain. Queries use the standard
// cosmos/wasm REST paths; broadcasts use legacy amino StdTx signing, which
// the faucet targets on chains with the amino gateway enabled.
package lcd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/log"
)

const (
	requestTimeout = 15 * time.Second

	bankBalancePath = "/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s"
	authAccountPath = "/cosmos/auth/v1beta1/accounts/%s"
	wasmSmartPath   = "/cosmwasm/wasm/v1/contract/%s/smart/%s"
	txByHashPath    = "/cosmos/tx/v1beta1/txs/%s"
	nodeInfoPath    = "/cosmos/base/tendermint/v1beta1/node_info"
	broadcastPath   = "/txs"
)

// Client talks to one or more LCD endpoints with failover. It implements
// both chain.QueryClient and chain.SigningClient; the signing identity is
// optional for read-only use.
type Client struct {
	endpoints []string
	http      *http.Client
	key       *chain.AccountKey

	mu      sync.Mutex
	chainID string
}

var (
	_ chain.QueryClient   = (*Client)(nil)
	_ chain.SigningClient = (*Client)(nil)
)

// New creates an LCD client over the given endpoints. The key may be nil
// for a read-only client.
func New(endpoints []string, key *chain.AccountKey) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one LCD endpoint is required")
	}
	trimmed := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		trimmed = append(trimmed, strings.TrimRight(e, "/"))
	}
	return &Client{
		endpoints: trimmed,
		http:      &http.Client{Timeout: requestTimeout},
		key:       key,
	}, nil
}

// ChainID returns the network identifier reported by the node, cached
// after the first successful lookup.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != "" {
		return c.chainID, nil
	}
	var resp struct {
		DefaultNodeInfo struct {
			Network string `json:"network"`
		} `json:"default_node_info"`
	}
	if err := c.get(ctx, nodeInfoPath, &resp); err != nil {
		return "", fmt.Errorf("query node info: %w", err)
	}
	if resp.DefaultNodeInfo.Network == "" {
		return "", fmt.Errorf("node info reports empty network")
	}
	c.chainID = resp.DefaultNodeInfo.Network
	return c.chainID, nil
}

// Balance implements chain.QueryClient.
func (c *Client) Balance(ctx context.Context, addr, denom string) (*big.Int, error) {
	var resp struct {
		Balance struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"balance"`
	}
	path := fmt.Sprintf(bankBalancePath, url.PathEscape(addr), url.QueryEscape(denom))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	if resp.Balance.Amount == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(resp.Balance.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance amount %q", resp.Balance.Amount)
	}
	return amount, nil
}

// Account implements chain.SigningClient.
func (c *Client) Account(ctx context.Context, addr string) (*chain.Account, error) {
	var resp struct {
		Account struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"account"`
	}
	if err := c.get(ctx, fmt.Sprintf(authAccountPath, url.PathEscape(addr)), &resp); err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	number, err := strconv.ParseUint(resp.Account.AccountNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid account number %q", resp.Account.AccountNumber)
	}
	sequence, err := strconv.ParseUint(resp.Account.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid account sequence %q", resp.Account.Sequence)
	}
	return &chain.Account{Number: number, Sequence: sequence}, nil
}

// SmartQuery implements chain.QueryClient.
func (c *Client) SmartQuery(ctx context.Context, contract string, query []byte, out any) error {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	encoded := base64.StdEncoding.EncodeToString(query)
	path := fmt.Sprintf(wasmSmartPath, url.PathEscape(contract), url.PathEscape(encoded))
	if err := c.get(ctx, path, &resp); err != nil {
		return fmt.Errorf("smart query: %w", err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

// Tx implements chain.QueryClient. Returns chain.ErrTxNotFound while the
// transaction is not included in a block.
func (c *Client) Tx(ctx context.Context, hash string) (*chain.TxResult, error) {
	var resp struct {
		TxResponse struct {
			Height    string `json:"height"`
			TxHash    string `json:"txhash"`
			Code      uint32 `json:"code"`
			RawLog    string `json:"raw_log"`
			GasWanted string `json:"gas_wanted"`
			GasUsed   string `json:"gas_used"`
		} `json:"tx_response"`
	}
	err := c.get(ctx, fmt.Sprintf(txByHashPath, url.PathEscape(hash)), &resp)
	if err != nil {
		if isNotFound(err) {
			return nil, chain.ErrTxNotFound
		}
		return nil, fmt.Errorf("query tx: %w", err)
	}
	if resp.TxResponse.TxHash == "" {
		return nil, chain.ErrTxNotFound
	}
	height, _ := strconv.ParseInt(resp.TxResponse.Height, 10, 64)
	gasWanted, _ := strconv.ParseInt(resp.TxResponse.GasWanted, 10, 64)
	gasUsed, _ := strconv.ParseInt(resp.TxResponse.GasUsed, 10, 64)
	return &chain.TxResult{
		Hash:      resp.TxResponse.TxHash,
		Height:    height,
		Code:      resp.TxResponse.Code,
		RawLog:    resp.TxResponse.RawLog,
		GasWanted: gasWanted,
		GasUsed:   gasUsed,
	}, nil
}

// get performs a GET against each endpoint in order until one succeeds.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for _, endpoint := range c.endpoints {
		if err := c.getOne(ctx, endpoint+path, out); err != nil {
			lastErr = err
			if isNotFound(err) {
				// A 404 is an answer, not an endpoint failure.
				return err
			}
			log.Debugw("lcd endpoint failed, trying next", "endpoint", endpoint, "error", err)
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) getOne(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close response body", "error", err)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return &httpError{status: resp.StatusCode, body: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return &httpError{status: resp.StatusCode, body: string(body)}
	}
	return json.Unmarshal(body, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var lastErr error
	for _, endpoint := range c.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnw("failed to close response body", "error", cerr)
		}
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = &httpError{status: resp.StatusCode, body: string(respBody)}
			continue
		}
		return json.Unmarshal(respBody, out)
	}
	return lastErr
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	he, ok := err.(*httpError)
	return ok && he.status == http.StatusNotFound
}
