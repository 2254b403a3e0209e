/*
Package storage provides the persistent layer for the faucet node.

The storage uses a key-value database with prefixed namespaces:

  - s/  : sessionID → Session (status, target address, drop amount, claim data)
  - fs/ : single key holding the aggregate faucet statistics

Sessions carry their claim record inline; the in-memory claim queue is
rebuilt from sessions in claiming status at startup, so no separate queue
namespace exists.
*/
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cosmdrop/faucet-node/db"
	"github.com/cosmdrop/faucet-node/db/prefixeddb"
	"github.com/cosmdrop/faucet-node/log"
)

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNotFound         = errors.New("not found")

	// Prefixes
	sessionPrefix = []byte("s/")
	statsPrefix   = []byte("fs/")
)

// Storage manages sessions and aggregate statistics.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex // Lock for cross-key operations
}

// New creates a new Storage instance.
func New(database db.Database) *Storage {
	return &Storage{db: database}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err)
	}
}

// setArtifact stores an encoded artifact under prefix/key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return err
	}
	return wTx.Commit()
}

// getArtifact retrieves an artifact from prefix/key into out. Returns
// ErrNotFound when the key does not exist.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		return ErrNotFound
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// deleteArtifact removes an artifact. Deleting a missing key is a no-op.
func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Delete(key); err != nil {
		return err
	}
	return wTx.Commit()
}
