package api

import (
	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/status"
	"github.com/cosmdrop/faucet-node/storage"
	"github.com/cosmdrop/faucet-node/types"
)

// ClaimRewardRequest is the body of POST /api/claimReward.
type ClaimRewardRequest struct {
	Session string `json:"session"`
}

// SessionStatus is the client-visible session status object returned by
// claimReward and getSessionStatus.
type SessionStatus struct {
	SessionID    string              `json:"sessionId"`
	Status       types.SessionStatus `json:"status"`
	TargetAddr   string              `json:"targetAddr"`
	DropAmount   *types.BigInt       `json:"dropAmount"`
	CreatedAt    int64               `json:"createdAt"`
	ClaimIdx     int64               `json:"claimIdx,omitempty"`
	ClaimStatus  types.ClaimStatus   `json:"claimStatus,omitempty"`
	TxHash       string              `json:"txHash,omitempty"`
	TxHeight     int64               `json:"txHeight,omitempty"`
	ClaimMessage string              `json:"claimMessage,omitempty"`
}

// QueueStatus is the aggregated queue snapshot served by getQueueStatus,
// cached for a few seconds.
type QueueStatus struct {
	QueueLength  int                     `json:"queueLength"`
	PendingCount int                     `json:"pendingCount"`
	ProcessedIdx int64                   `json:"processedIdx"`
	ConfirmedIdx int64                   `json:"confirmedIdx"`
	QueuedAmount *types.BigInt           `json:"queuedAmount"`
	Wallet       *types.WalletState      `json:"wallet"`
	Stats        *storage.FaucetStats    `json:"stats"`
	Refill       *faucet.RefillState     `json:"refill,omitempty"`
	Health       map[string]status.Entry `json:"health"`
}

// newSessionStatus flattens a session and its claim record.
func newSessionStatus(session *types.Session) *SessionStatus {
	out := &SessionStatus{
		SessionID:  session.ID,
		Status:     session.Status,
		TargetAddr: session.TargetAddr,
		DropAmount: session.DropAmount,
		CreatedAt:  session.CreatedAt,
	}
	if claim := session.Claim; claim != nil {
		out.ClaimIdx = claim.ClaimIdx
		out.ClaimStatus = claim.Status
		out.TxHash = claim.TxHash
		out.TxHeight = claim.TxHeight
		out.ClaimMessage = claim.TxError
	}
	return out
}
