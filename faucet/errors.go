package faucet

import "errors"

// Domain errors surfaced to the API layer by CreateClaim. They are mapped
// to the HTTP error catalog by the api package.
var (
	ErrNotClaimable   = errors.New("session is not claimable")
	ErrAmountTooLow   = errors.New("drop amount below the configured minimum")
	ErrAmountTooHigh  = errors.New("drop amount above the configured maximum")
	ErrInvalidAddress = errors.New("target address does not match the chain prefix")
	ErrRaceClaiming   = errors.New("a claim for this session is already in progress")
	ErrInternal       = errors.New("internal error")
)

// Operator errors, logged and reflected in the faucet status slots.
var (
	ErrWalletNotReady = errors.New("wallet not ready")
	ErrTxBroadcast    = errors.New("transaction broadcast failed")
	ErrChainRPC       = errors.New("chain rpc error")
)

// IsDomainError reports whether err is one of the client-visible claim
// errors, which must be re-raised verbatim through the hook chain.
func IsDomainError(err error) bool {
	for _, domain := range []error{
		ErrNotClaimable,
		ErrAmountTooLow,
		ErrAmountTooHigh,
		ErrInvalidAddress,
		ErrRaceClaiming,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}
