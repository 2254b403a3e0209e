package types

// SessionStatus is the lifecycle status of a faucet session. The claim
// subsystem only acts on sessions in StatusClaimable (a claim may be
// created) and StatusClaiming (a claim is live).
type SessionStatus string

const (
	SessionStatusClaimable SessionStatus = "claimable"
	SessionStatusClaiming  SessionStatus = "claiming"
	SessionStatusClosed    SessionStatus = "closed"
	SessionStatusFailed    SessionStatus = "failed"
)

// ClaimStatus is the substatus of a live claim.
type ClaimStatus string

const (
	ClaimStatusQueue      ClaimStatus = "queue"
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusPending    ClaimStatus = "pending"
	ClaimStatusConfirmed  ClaimStatus = "confirmed"
	ClaimStatusFailed     ClaimStatus = "failed"
)

// Terminal reports whether the claim status is final. Terminal claims never
// transition again and are evicted from the live maps.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusConfirmed || s == ClaimStatusFailed
}

// Claim is the settlement record of a session. ClaimIdx is a system-wide
// monotonically increasing identifier assigned at creation; ClaimTime is
// set once and never updated.
type Claim struct {
	ClaimIdx  int64       `json:"claimIdx"`
	Status    ClaimStatus `json:"claimStatus"`
	ClaimTime int64       `json:"claimTime"`
	TxHash    string      `json:"txHash,omitempty"`
	TxHeight  int64       `json:"txHeight,omitempty"`
	TxFee     string      `json:"txFee,omitempty"`
	TxError   string      `json:"txError,omitempty"`
}

// ClaimInfo associates a claim with its session, target address and amount.
// There is at most one live ClaimInfo per session.
type ClaimInfo struct {
	SessionID  string  `json:"sessionId"`
	TargetAddr string  `json:"targetAddr"`
	Amount     *BigInt `json:"amount"`
	Claim      *Claim  `json:"claim"`
}

// Session is the persisted faucet session. Eligibility bookkeeping happens
// upstream; the claim subsystem reads DropAmount and TargetAddr, flips
// Status from claimable to claiming and maintains the Claim record.
type Session struct {
	ID         string        `json:"sessionId"`
	Status     SessionStatus `json:"status"`
	TargetAddr string        `json:"targetAddr"`
	DropAmount *BigInt       `json:"dropAmount"`
	CreatedAt  int64         `json:"createdAt"`
	Claim      *Claim        `json:"claim,omitempty"`
}

// ClaimInfo assembles the live claim view of the session. Returns nil if
// the session has no claim record.
func (s *Session) ClaimInfo() *ClaimInfo {
	if s.Claim == nil {
		return nil
	}
	return &ClaimInfo{
		SessionID:  s.ID,
		TargetAddr: s.TargetAddr,
		Amount:     s.DropAmount,
		Claim:      s.Claim,
	}
}
