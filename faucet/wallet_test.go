package faucet

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/cosmdrop/faucet-node/chain"
	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/status"
)

func testCW() config.CW {
	cfg := config.DefaultCW()
	cfg.RPCHost = []string{"http://localhost:1317"}
	cfg.WalletMnemonic = testMnemonic
	cfg.Decimals = 6
	cfg.MinAmount = "1000"
	cfg.MaxAmount = "10000000"
	cfg.GasAmount = "200"
	cfg.MinGasAmount = "10000"
	cfg.MinBalance = "1000"
	cfg.LowBalanceThreshold = "100000"
	cfg.MaxPending = 5
	return cfg
}

func newTestWallet(t *testing.T, cfg config.CW, fake *fakeChain) (*WalletManager, *status.Registry) {
	t.Helper()
	registry := status.NewRegistry()
	wallet, err := NewWalletManager(cfg, registry, func() (chain.SigningClient, chain.QueryClient, error) {
		return fake, fake, nil
	})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, wallet.Initialize(context.Background()), qt.IsNil)
	return wallet, registry
}

func TestFormatAmount(t *testing.T) {
	c := qt.New(t)
	cases := []struct {
		amount   int64
		decimals int
		want     string
	}{
		{1234, 3, "1.234 SYM"},
		{1239, 3, "1.239 SYM"},
		{1, 3, "0.001 SYM"},
		{0, 3, "0 SYM"},
		{1500000, 6, "1.5 SYM"},
		{1234567, 6, "1.234 SYM"}, // truncated, never rounded
		{1999999, 6, "1.999 SYM"},
		{42, 0, "42 SYM"},
	}
	for _, tc := range cases {
		got := FormatAmount(big.NewInt(tc.amount), tc.decimals, "SYM")
		c.Assert(got, qt.Equals, tc.want, qt.Commentf("amount=%d decimals=%d", tc.amount, tc.decimals))
	}
}

func TestSequenceAccounting(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	fake.sequence = 42
	wallet, _ := newTestWallet(t, testCW(), fake)

	initial := wallet.State()
	c.Assert(initial.Ready, qt.IsTrue)
	c.Assert(initial.Sequence, qt.Equals, uint64(42))

	amount := big.NewInt(1_000_000)
	const n = 3
	for i := 0; i < n; i++ {
		_, err := wallet.SendTokens(context.Background(), "wasm1destination", amount)
		c.Assert(err, qt.IsNil)
	}

	ws := wallet.State()
	c.Assert(ws.Sequence, qt.Equals, initial.Sequence+n)

	// Native faucet: every send debits the amount plus the gas fee from the
	// native balance, and the token balance mirrors the native one.
	spent := new(big.Int).Mul(big.NewInt(n), new(big.Int).Add(amount, big.NewInt(200)))
	wantNative := new(big.Int).Sub(initial.NativeBalance, spent)
	c.Assert(ws.NativeBalance.String(), qt.Equals, wantNative.String())
}

func TestContractTokenSend(t *testing.T) {
	c := qt.New(t)
	cfg := testCW()
	cfg.IsNativeToken = false
	cfg.ContractAddress = "wasm1tokencontract"
	fake := newFakeChain()
	wallet, _ := newTestWallet(t, cfg, fake)

	_, err := wallet.SendTokens(context.Background(), "wasm1destination", big.NewInt(5000))
	c.Assert(err, qt.IsNil)

	sent := fake.lastSent()
	c.Assert(sent.contract, qt.Equals, "wasm1tokencontract")
	c.Assert(string(sent.msg), qt.Contains, `"transfer"`)
	c.Assert(string(sent.msg), qt.Contains, `"amount":"5000"`)
	c.Assert(string(sent.msg), qt.Contains, `"recipient":"wasm1destination"`)

	ws := wallet.State()
	c.Assert(ws.TokenBalance.String(), qt.Equals,
		new(big.Int).Sub(fake.tokenBalance, big.NewInt(5000)).String())
}

func TestSendRequiresReadyWallet(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	fake.accountErr = fmt.Errorf("connection refused")
	wallet, registry := newTestWallet(t, testCW(), fake)

	c.Assert(wallet.State().Ready, qt.IsFalse)
	_, err := wallet.SendTokens(context.Background(), "wasm1destination", big.NewInt(1000))
	c.Assert(err, qt.ErrorIs, ErrWalletNotReady)

	entry := registry.Get("wallet")
	c.Assert(entry.Level, qt.Equals, status.LevelError)
	c.Assert(entry.Message, qt.Equals, "Cannot connect to network")
}

func TestWalletStatusSeverity(t *testing.T) {
	c := qt.New(t)
	cfg := testCW()
	fake := newFakeChain()
	wallet, registry := newTestWallet(t, cfg, fake)
	c.Assert(registry.Get("wallet").Level, qt.Equals, status.LevelInfo)

	// Token balance inside the warning band.
	fake.mu.Lock()
	fake.nativeBalance = big.NewInt(50_000) // > minGasAmount, <= lowBalanceThreshold
	fake.mu.Unlock()
	c.Assert(wallet.LoadWalletState(context.Background()), qt.IsNil)
	entry := registry.Get("wallet")
	c.Assert(entry.Level, qt.Equals, status.LevelWarning)
	c.Assert(entry.Message, qt.Contains, "running low on funds")
	c.Assert(entry.Message, qt.Contains, "0.05 STAKE")

	// Out of gas means out of funds, regardless of token balance.
	fake.mu.Lock()
	fake.nativeBalance = big.NewInt(100) // <= minGasAmount
	fake.mu.Unlock()
	c.Assert(wallet.LoadWalletState(context.Background()), qt.IsNil)
	entry = registry.Get("wallet")
	c.Assert(entry.Level, qt.Equals, status.LevelError)
	c.Assert(entry.Message, qt.Equals, "The faucet is out of funds!")
}

func TestLoadWalletStateRecovers(t *testing.T) {
	c := qt.New(t)
	fake := newFakeChain()
	fake.accountErr = fmt.Errorf("temporary outage")
	wallet, _ := newTestWallet(t, testCW(), fake)
	c.Assert(wallet.State().Ready, qt.IsFalse)

	fake.mu.Lock()
	fake.accountErr = nil
	fake.mu.Unlock()
	c.Assert(wallet.LoadWalletState(context.Background()), qt.IsNil)
	c.Assert(wallet.State().Ready, qt.IsTrue)
	c.Assert(wallet.LastRefreshAt(), qt.Not(qt.Equals), int64(0))
}

func TestDeriveAccountAddress(t *testing.T) {
	c := qt.New(t)
	key, err := chain.DeriveAccount(testMnemonic, "wasm")
	c.Assert(err, qt.IsNil)
	c.Assert(key.Address, qt.Matches, "wasm1[a-z0-9]{38}")

	// Derivation is deterministic.
	again, err := chain.DeriveAccount(testMnemonic, "wasm")
	c.Assert(err, qt.IsNil)
	c.Assert(again.Address, qt.Equals, key.Address)
}
