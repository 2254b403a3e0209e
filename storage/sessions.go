package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cosmdrop/faucet-node/types"
)

// NewSession persists a session for the first time. If the session has no
// ID yet, a random one is assigned. Returns ErrKeyAlreadyExists if a
// session with the same ID is already stored.
func (s *Storage) NewSession(session *types.Session) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}
	if _, err := s.sessionUnsafe(session.ID); err == nil {
		return ErrKeyAlreadyExists
	}
	return s.setArtifact(sessionPrefix, []byte(session.ID), session)
}

// Session retrieves a session by ID. Returns ErrNotFound if it does not
// exist.
func (s *Storage) Session(id string) (*types.Session, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.sessionUnsafe(id)
}

func (s *Storage) sessionUnsafe(id string) (*types.Session, error) {
	session := &types.Session{}
	if err := s.getArtifact(sessionPrefix, []byte(id), session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateSession overwrites the full session record.
func (s *Storage) UpdateSession(session *types.Session) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if session.ID == "" {
		return fmt.Errorf("cannot update session without ID")
	}
	return s.setArtifact(sessionPrefix, []byte(session.ID), session)
}

// UpdateClaimData writes the claim record of a session without touching the
// rest of the session fields.
func (s *Storage) UpdateClaimData(sessionID string, claim *types.Claim) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	session, err := s.sessionUnsafe(sessionID)
	if err != nil {
		return fmt.Errorf("update claim data: %w", err)
	}
	session.Claim = claim
	return s.setArtifact(sessionPrefix, []byte(sessionID), session)
}

// SessionsByStatus returns all sessions with the given status, in session
// ID order.
func (s *Storage) SessionsByStatus(status types.SessionStatus) ([]*types.Session, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	var sessions []*types.Session
	var decodeErr error
	if err := s.iterateSessions(func(session *types.Session) bool {
		if session.Status == status {
			sessions = append(sessions, session)
		}
		return true
	}, &decodeErr); err != nil {
		return nil, err
	}
	return sessions, decodeErr
}

// DeleteSession removes a session. Deleting a missing session is not an
// error.
func (s *Storage) DeleteSession(id string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if err := s.deleteArtifact(sessionPrefix, []byte(id)); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (s *Storage) iterateSessions(callback func(*types.Session) bool, decodeErr *error) error {
	pr := s.db
	return pr.Iterate(sessionPrefix, func(_, value []byte) bool {
		session := &types.Session{}
		if err := DecodeArtifact(value, session); err != nil {
			*decodeErr = fmt.Errorf("decode session: %w", err)
			return true
		}
		return callback(session)
	})
}
