package types

import "math/big"

// WalletState is an immutable snapshot of the dispensing wallet. It is
// replaced atomically by its owner and never mutated in place, so readers
// always observe a consistent view.
type WalletState struct {
	Ready         bool     `json:"ready"`
	Sequence      uint64   `json:"sequence"`
	TokenBalance  *big.Int `json:"tokenBalance"`
	NativeBalance *big.Int `json:"nativeBalance"`
}

// Clone returns a deep copy of the snapshot, used to derive the next state
// when applying local debits.
func (w *WalletState) Clone() *WalletState {
	out := &WalletState{
		Ready:         w.Ready,
		Sequence:      w.Sequence,
		TokenBalance:  big.NewInt(0),
		NativeBalance: big.NewInt(0),
	}
	if w.TokenBalance != nil {
		out.TokenBalance.Set(w.TokenBalance)
	}
	if w.NativeBalance != nil {
		out.NativeBalance.Set(w.NativeBalance)
	}
	return out
}

// Progress is the watermark pair published to claim subscribers after each
// queue tick and confirmation.
type Progress struct {
	ProcessedIdx int64 `json:"processedIdx"`
	ConfirmedIdx int64 `json:"confirmedIdx"`
}
