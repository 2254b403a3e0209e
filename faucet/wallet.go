// Package faucet implements the claim-settlement core of the token
// faucet: the wallet-state monitor, the bounded claim pipeline, and the
// refill/overflow controller that keeps the dispensing wallet inside its
// balance band.
package faucet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/status"
	"github.com/cosmdrop/faucet-node/types"
)

const (
	// initRetryInterval is the delay before an initialization retry. The
	// retry timer is a single slot, so failures never accumulate retries.
	initRetryInterval = 5 * time.Second

	// statusProducerWallet is the wallet's slot in the status registry.
	statusProducerWallet = "wallet"
)

// ClientFactory builds the chain clients. Called at initialization and
// again when a reload is requested; tests inject fakes through it.
type ClientFactory func() (chain.SigningClient, chain.QueryClient, error)

// WalletManager owns the hot wallet derived from the configured mnemonic
// and the two chain clients. It publishes an immutable WalletState
// snapshot which is replaced atomically; the pipeline is the only other
// writer, applying optimistic local debits after successful broadcasts.
type WalletManager struct {
	cfg      config.CW
	registry *status.Registry
	factory  ClientFactory

	gasAmount    *big.Int
	minGasAmount *big.Int
	minBalance   *big.Int
	lowBalance   *big.Int

	state         atomic.Pointer[types.WalletState]
	lastRefreshAt atomic.Int64

	mu          sync.Mutex
	key         *chain.AccountKey
	signer      chain.SigningClient
	querier     chain.QueryClient
	retryTimer  *time.Timer
	initialized bool
}

// NewWalletManager creates a wallet manager. Initialize must be called
// before any operation that touches the chain.
func NewWalletManager(cfg config.CW, registry *status.Registry, factory ClientFactory) (*WalletManager, error) {
	gasAmount, err := config.ParseAmount(cfg.GasAmount)
	if err != nil {
		return nil, fmt.Errorf("cwGasAmount: %w", err)
	}
	minGas, err := config.ParseAmount(cfg.MinGasAmount)
	if err != nil {
		return nil, fmt.Errorf("cwMinGasAmount: %w", err)
	}
	minBalance, err := config.ParseAmount(cfg.MinBalance)
	if err != nil {
		return nil, fmt.Errorf("cwMinBalance: %w", err)
	}
	lowBalance, err := config.ParseAmount(cfg.LowBalanceThreshold)
	if err != nil {
		return nil, fmt.Errorf("cwLowBalanceThreshold: %w", err)
	}
	m := &WalletManager{
		cfg:          cfg,
		registry:     registry,
		factory:      factory,
		gasAmount:    gasAmount,
		minGasAmount: minGas,
		minBalance:   minBalance,
		lowBalance:   lowBalance,
	}
	m.state.Store(&types.WalletState{
		TokenBalance:  big.NewInt(0),
		NativeBalance: big.NewInt(0),
	})
	return m, nil
}

// Initialize derives the wallet address and opens the chain clients, then
// loads the first wallet state. On any error it logs, exposes ready=false
// and schedules a single retry in 5 seconds. Idempotent.
func (m *WalletManager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	if m.key == nil {
		key, err := chain.DeriveAccount(m.cfg.WalletMnemonic, m.cfg.AddressPrefix)
		if err != nil {
			m.mu.Unlock()
			m.initFailed(ctx, fmt.Errorf("derive wallet account: %w", err))
			return err
		}
		m.key = key
	}
	signer, querier, err := m.factory()
	if err != nil {
		m.mu.Unlock()
		m.initFailed(ctx, fmt.Errorf("build chain clients: %w", err))
		return err
	}
	m.signer = signer
	m.querier = querier
	m.initialized = true
	address := m.key.Address
	m.mu.Unlock()

	log.Infow("faucet wallet initialized", "address", address, "denom", m.cfg.Denom)
	if err := m.LoadWalletState(ctx); err != nil {
		log.Warnw("initial wallet state load failed", "error", err)
	}
	return nil
}

// initFailed publishes a not-ready state and arms the single-slot retry
// timer.
func (m *WalletManager) initFailed(ctx context.Context, err error) {
	log.Errorw(err, "wallet initialization failed")
	m.storeState(&types.WalletState{
		TokenBalance:  big.NewInt(0),
		NativeBalance: big.NewInt(0),
	})
	m.publishStatus()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(initRetryInterval, func() {
		if ctx.Err() != nil {
			return
		}
		if err := m.Initialize(ctx); err != nil {
			log.Warnw("wallet initialization retry failed", "error", err)
		}
	})
}

// Reload rebuilds the chain clients and resets lastRefreshAt to zero so
// the refill controller re-evaluates at the next opportunity.
func (m *WalletManager) Reload() error {
	signer, querier, err := m.factory()
	if err != nil {
		return fmt.Errorf("rebuild chain clients: %w", err)
	}
	m.mu.Lock()
	m.signer = signer
	m.querier = querier
	m.mu.Unlock()
	m.lastRefreshAt.Store(0)
	log.Infow("chain clients reloaded")
	return nil
}

// Address returns the bech32 account address of the hot wallet. Empty
// before initialization.
func (m *WalletManager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return ""
	}
	return m.key.Address
}

// State returns the current wallet snapshot.
func (m *WalletManager) State() *types.WalletState {
	return m.state.Load()
}

// LastRefreshAt returns the unix time of the last LoadWalletState call,
// zero after a reload.
func (m *WalletManager) LastRefreshAt() int64 {
	return m.lastRefreshAt.Load()
}

// cw20BalanceQuery is the balance view of a CW20-style token contract.
type cw20BalanceQuery struct {
	Balance struct {
		Address string `json:"address"`
	} `json:"balance"`
}

type cw20BalanceResponse struct {
	Balance string `json:"balance"`
}

// LoadWalletState queries the account sequence, the native denom balance
// and, for a contract token, the contract balance view, then swaps in a
// fresh snapshot. On any failure a not-ready snapshot with zeroed
// balances is published. Always updates lastRefreshAt and republishes the
// wallet status slot. Not single-flight; callers must not invoke it
// concurrently with itself.
func (m *WalletManager) LoadWalletState(ctx context.Context) error {
	defer func() {
		m.lastRefreshAt.Store(time.Now().Unix())
		m.publishStatus()
	}()

	m.mu.Lock()
	signer, querier, key := m.signer, m.querier, m.key
	m.mu.Unlock()
	if signer == nil || querier == nil || key == nil {
		m.storeNotReady()
		return fmt.Errorf("%w: clients not initialized", ErrWalletNotReady)
	}

	account, err := signer.Account(ctx, key.Address)
	if err != nil {
		m.storeNotReady()
		return fmt.Errorf("%w: query account: %v", ErrChainRPC, err)
	}
	native, err := querier.Balance(ctx, key.Address, m.cfg.Denom)
	if err != nil {
		m.storeNotReady()
		return fmt.Errorf("%w: query native balance: %v", ErrChainRPC, err)
	}
	token := new(big.Int).Set(native)
	if !m.cfg.IsNativeToken {
		query := cw20BalanceQuery{}
		query.Balance.Address = key.Address
		queryJSON, err := json.Marshal(query)
		if err != nil {
			m.storeNotReady()
			return fmt.Errorf("marshal balance query: %w", err)
		}
		var resp cw20BalanceResponse
		if err := querier.SmartQuery(ctx, m.cfg.ContractAddress, queryJSON, &resp); err != nil {
			m.storeNotReady()
			return fmt.Errorf("%w: query token balance: %v", ErrChainRPC, err)
		}
		token, err = config.ParseAmount(resp.Balance)
		if err != nil {
			m.storeNotReady()
			return fmt.Errorf("parse token balance: %w", err)
		}
	}

	m.storeState(&types.WalletState{
		Ready:         true,
		Sequence:      account.Sequence,
		TokenBalance:  token,
		NativeBalance: native,
	})
	log.Debugw("wallet state refreshed",
		"sequence", account.Sequence,
		"tokenBalance", token.String(),
		"nativeBalance", native.String())
	return nil
}

// SendTokens transfers the drop amount to the recipient, as a bank send
// for the native denom or a CW20 transfer for a contract token. On a
// successful broadcast the local snapshot is debited optimistically; the
// next LoadWalletState is the reconciling authority.
func (m *WalletManager) SendTokens(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	ws := m.State()
	if !ws.Ready {
		return "", ErrWalletNotReady
	}
	fee := m.txFee()

	m.mu.Lock()
	signer := m.signer
	m.mu.Unlock()

	var hash string
	var err error
	if m.cfg.IsNativeToken {
		hash, err = signer.BankSend(ctx, recipient, chain.Coin{Denom: m.cfg.Denom, Amount: amount}, fee)
	} else {
		transfer := map[string]any{
			"transfer": map[string]string{
				"recipient": recipient,
				"amount":    amount.String(),
			},
		}
		var msg []byte
		if msg, err = json.Marshal(transfer); err == nil {
			hash, err = signer.ExecuteContract(ctx, m.cfg.ContractAddress, msg, nil, fee)
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTxBroadcast, err)
	}

	m.applyDebit(func(next *types.WalletState) {
		next.Sequence++
		next.TokenBalance.Sub(next.TokenBalance, amount)
		next.NativeBalance.Sub(next.NativeBalance, m.gasAmount)
		if m.cfg.IsNativeToken {
			next.NativeBalance.Sub(next.NativeBalance, amount)
		}
	})
	return hash, nil
}

// ExecuteContract invokes an arbitrary contract with the wallet identity,
// optionally attaching funds. The local debit covers the sequence and the
// fee only; the token balance is untouched.
func (m *WalletManager) ExecuteContract(ctx context.Context, contract string, msg []byte, funds []chain.Coin, fee chain.Fee) (string, error) {
	ws := m.State()
	if !ws.Ready {
		return "", ErrWalletNotReady
	}
	m.mu.Lock()
	signer := m.signer
	m.mu.Unlock()

	hash, err := signer.ExecuteContract(ctx, contract, msg, funds, fee)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTxBroadcast, err)
	}
	m.applyDebit(func(next *types.WalletState) {
		next.Sequence++
		if len(fee.Amount) > 0 {
			next.NativeBalance.Sub(next.NativeBalance, fee.Amount[0].Amount)
		}
	})
	return hash, nil
}

// WalletBalance is a read-through query of an external address; no
// caching.
func (m *WalletManager) WalletBalance(ctx context.Context, addr string) (*big.Int, error) {
	m.mu.Lock()
	querier := m.querier
	m.mu.Unlock()
	if querier == nil {
		return nil, ErrWalletNotReady
	}
	if m.cfg.IsNativeToken {
		balance, err := querier.Balance(ctx, addr, m.cfg.Denom)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainRPC, err)
		}
		return balance, nil
	}
	query := cw20BalanceQuery{}
	query.Balance.Address = addr
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	var resp cw20BalanceResponse
	if err := querier.SmartQuery(ctx, m.cfg.ContractAddress, queryJSON, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainRPC, err)
	}
	return config.ParseAmount(resp.Balance)
}

// Querier returns the read-only chain client, used by the pipeline for
// transaction lookups.
func (m *WalletManager) Querier() chain.QueryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.querier
}

// GasAmount returns the configured gas fee in base units.
func (m *WalletManager) GasAmount() *big.Int {
	return new(big.Int).Set(m.gasAmount)
}

// MinGasAmount returns the minimum native balance required to process
// claims.
func (m *WalletManager) MinGasAmount() *big.Int {
	return new(big.Int).Set(m.minGasAmount)
}

// txFee builds the explicit fee attached to every faucet transaction.
func (m *WalletManager) txFee() chain.Fee {
	return chain.Fee{
		Amount:   []chain.Coin{{Denom: m.cfg.Denom, Amount: new(big.Int).Set(m.gasAmount)}},
		GasLimit: m.cfg.GasLimit,
	}
}

// ReadableAmount formats a base-unit amount as a decimal number truncated
// to 3 fractional digits, suffixed with the token symbol. Pure.
func (m *WalletManager) ReadableAmount(amount *big.Int) string {
	return FormatAmount(amount, m.cfg.Decimals, m.cfg.Symbol)
}

// FormatAmount renders amount/10^decimals truncated (not rounded) to 3
// fractional digits with the symbol appended.
func FormatAmount(amount *big.Int, decimals int, symbol string) string {
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart, frac := new(big.Int).QuoRem(amount, div, new(big.Int))
	var frac3 *big.Int
	if decimals > 3 {
		frac3 = new(big.Int).Quo(frac, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-3)), nil))
	} else {
		frac3 = new(big.Int).Mul(frac, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(3-decimals)), nil))
	}
	out := intPart.String()
	if frac3.Sign() > 0 {
		digits := strings.TrimRight(fmt.Sprintf("%03d", frac3), "0")
		out += "." + digits
	}
	return out + " " + symbol
}

// applyDebit clones the current snapshot, applies the mutation and swaps
// the result in. Only the pipeline's own task calls this; the next
// LoadWalletState overwrites the speculative values.
func (m *WalletManager) applyDebit(mutate func(*types.WalletState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.Load().Clone()
	mutate(next)
	m.state.Store(next)
}

func (m *WalletManager) storeState(ws *types.WalletState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Store(ws)
}

func (m *WalletManager) storeNotReady() {
	m.storeState(&types.WalletState{
		TokenBalance:  big.NewInt(0),
		NativeBalance: big.NewInt(0),
	})
}

// publishStatus writes the most severe applicable wallet condition to the
// status registry.
func (m *WalletManager) publishStatus() {
	if m.registry == nil {
		return
	}
	ws := m.State()
	switch {
	case !ws.Ready:
		m.registry.Set(statusProducerWallet, status.LevelError, "Cannot connect to network")
	case ws.TokenBalance.Cmp(m.minBalance) <= 0 || ws.NativeBalance.Cmp(m.minGasAmount) <= 0:
		m.registry.Set(statusProducerWallet, status.LevelError, "The faucet is out of funds!")
	case ws.TokenBalance.Cmp(m.lowBalance) <= 0:
		m.registry.Set(statusProducerWallet, status.LevelWarning,
			fmt.Sprintf("The faucet is running low on funds! Balance: %s", m.ReadableAmount(ws.TokenBalance)))
	default:
		m.registry.Set(statusProducerWallet, status.LevelInfo, "")
	}
}
