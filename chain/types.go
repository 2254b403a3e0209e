// Package chain defines the client interfaces and wire types the faucet
// uses to talk to a CosmWasm-enabled chain, plus the hot wallet account
// derivation. The concrete REST implementation lives in the lcd subpackage.
package chain

import (
	"context"
	"errors"
	"math/big"
)

// ErrTxNotFound is returned by QueryClient.Tx while the transaction has not
// been included in a block yet.
var ErrTxNotFound = errors.New("transaction not found")

// Coin is an amount of a single denom in base units.
type Coin struct {
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// Fee is the explicit fee attached to a transaction. The faucet never
// estimates fees; gas price and limit come from configuration.
type Fee struct {
	Amount   []Coin `json:"amount"`
	GasLimit uint64 `json:"gas"`
}

// Account is the on-chain account state of an address.
type Account struct {
	Number   uint64 `json:"account_number"`
	Sequence uint64 `json:"sequence"`
}

// TxResult is the inclusion result of a transaction. Code zero means
// success; any other code carries the failure reason in RawLog.
type TxResult struct {
	Hash      string `json:"txhash"`
	Height    int64  `json:"height"`
	Code      uint32 `json:"code"`
	RawLog    string `json:"raw_log"`
	GasWanted int64  `json:"gas_wanted"`
	GasUsed   int64  `json:"gas_used"`
}

// SigningClient broadcasts transactions signed with the faucet hot wallet.
type SigningClient interface {
	// BankSend transfers a native coin to the recipient address.
	BankSend(ctx context.Context, to string, amount Coin, fee Fee) (string, error)
	// ExecuteContract invokes a smart contract with the given JSON message
	// and optional attached funds.
	ExecuteContract(ctx context.Context, contract string, msg []byte, funds []Coin, fee Fee) (string, error)
	// Account returns the account number and sequence of an address.
	Account(ctx context.Context, addr string) (*Account, error)
}

// QueryClient is the read-only client used for balances, contract views
// and transaction lookups.
type QueryClient interface {
	// Tx looks up a transaction by hash. Returns ErrTxNotFound while the
	// transaction is not included in a block.
	Tx(ctx context.Context, hash string) (*TxResult, error)
	// Balance returns the balance of addr for the given denom.
	Balance(ctx context.Context, addr, denom string) (*big.Int, error)
	// SmartQuery runs a smart contract query with the given JSON message
	// and decodes the result into out.
	SmartQuery(ctx context.Context, contract string, query []byte, out any) error
}
