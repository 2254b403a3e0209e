package faucet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/cosmdrop/faucet-node/chain"
)

// testMnemonic is the BIP39 reference vector; funds never touch a chain.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type sentTx struct {
	hash     string
	to       string
	contract string
	msg      []byte
	funds    []chain.Coin
	amount   *big.Int
}

// fakeChain implements chain.SigningClient and chain.QueryClient in
// memory. Broadcasts are assigned sequential hashes; confirmations appear
// according to confirmCode when autoConfirm is set.
type fakeChain struct {
	mu sync.Mutex

	sequence      uint64
	accountErr    error
	nativeBalance *big.Int
	tokenBalance  *big.Int

	broadcastErr error
	autoConfirm  bool
	confirmCode  uint32

	nextHash int
	sent     []sentTx
	txs      map[string]*chain.TxResult
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		sequence:      7,
		nativeBalance: big.NewInt(1_000_000_000),
		tokenBalance:  big.NewInt(1_000_000_000),
		autoConfirm:   true,
		txs:           make(map[string]*chain.TxResult),
	}
}

func (f *fakeChain) Account(_ context.Context, _ string) (*chain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &chain.Account{Number: 1, Sequence: f.sequence}, nil
}

func (f *fakeChain) Balance(_ context.Context, _, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return new(big.Int).Set(f.nativeBalance), nil
}

func (f *fakeChain) SmartQuery(_ context.Context, _ string, query []byte, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := cw20BalanceQuery{}
	if err := json.Unmarshal(query, &req); err != nil {
		return err
	}
	resp, err := json.Marshal(cw20BalanceResponse{Balance: f.tokenBalance.String()})
	if err != nil {
		return err
	}
	return json.Unmarshal(resp, out)
}

func (f *fakeChain) Tx(_ context.Context, hash string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.txs[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return result, nil
}

func (f *fakeChain) BankSend(_ context.Context, to string, amount chain.Coin, _ chain.Fee) (string, error) {
	return f.broadcast(sentTx{to: to, amount: amount.Amount})
}

func (f *fakeChain) ExecuteContract(_ context.Context, contract string, msg []byte, funds []chain.Coin, _ chain.Fee) (string, error) {
	return f.broadcast(sentTx{contract: contract, msg: msg, funds: funds})
}

func (f *fakeChain) broadcast(tx sentTx) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	f.nextHash++
	tx.hash = fmt.Sprintf("HASH%04d", f.nextHash)
	f.sent = append(f.sent, tx)
	if f.autoConfirm {
		f.txs[tx.hash] = &chain.TxResult{
			Hash:   tx.hash,
			Height: int64(1000 + f.nextHash),
			Code:   f.confirmCode,
		}
	}
	return tx.hash, nil
}

// confirm registers an inclusion result for a hash after the fact.
func (f *fakeChain) confirm(hash string, code uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[hash] = &chain.TxResult{Hash: hash, Height: 4242, Code: code}
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChain) lastSent() sentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}
