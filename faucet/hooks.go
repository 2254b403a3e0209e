package faucet

import "github.com/cosmdrop/faucet-node/types"

// Hook is the extension point the eligibility and anti-abuse modules
// implement. PreClaim runs before a claim is enqueued and may reject it
// with a domain error, which is surfaced to the client verbatim; any other
// error is wrapped as ErrInternal. SessionClaimed fires after a claim
// confirms on chain.
type Hook interface {
	Name() string
	PreClaim(session *types.Session, info *types.ClaimInfo) error
	SessionClaimed(info *types.ClaimInfo)
}
