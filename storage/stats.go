package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/types"
)

var statsKey = []byte("total")

// FaucetStats holds the aggregate dispensing statistics, updated when
// claims reach a terminal state.
type FaucetStats struct {
	ClaimsCreated   int64        `json:"claimsCreated"`
	ClaimsConfirmed int64        `json:"claimsConfirmed"`
	ClaimsFailed    int64        `json:"claimsFailed"`
	TotalDispensed  *types.BigInt `json:"totalDispensed"`
	LastClaimTime   int64        `json:"lastClaimTime"`
}

// StatsUpdate is a single counter bump applied to the aggregate stats.
type StatsUpdate struct {
	Created   int64
	Confirmed int64
	Failed    int64
	Dispensed *types.BigInt
}

// UpdateFaucetStats applies the update to the persisted aggregate stats in
// a read-modify-write under the global lock.
func (s *Storage) UpdateFaucetStats(update StatsUpdate) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	stats := &FaucetStats{TotalDispensed: types.NewInt(0)}
	if err := s.getArtifact(statsPrefix, statsKey, stats); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to get faucet stats: %w", err)
	}
	if stats.TotalDispensed == nil {
		stats.TotalDispensed = types.NewInt(0)
	}
	stats.ClaimsCreated += update.Created
	stats.ClaimsConfirmed += update.Confirmed
	stats.ClaimsFailed += update.Failed
	if update.Dispensed != nil {
		stats.TotalDispensed.Add(stats.TotalDispensed, update.Dispensed)
	}
	if update.Confirmed > 0 {
		stats.LastClaimTime = time.Now().Unix()
	}
	return s.setArtifact(statsPrefix, statsKey, stats)
}

// FaucetStats returns the aggregate stats; zero values if none persisted.
func (s *Storage) FaucetStats() *FaucetStats {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	stats := &FaucetStats{TotalDispensed: types.NewInt(0)}
	if err := s.getArtifact(statsPrefix, statsKey, stats); err != nil && !errors.Is(err, ErrNotFound) {
		log.Warnw("failed to read faucet stats", "error", err)
	}
	if stats.TotalDispensed == nil {
		stats.TotalDispensed = types.NewInt(0)
	}
	return stats
}
