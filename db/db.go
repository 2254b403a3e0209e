// Package db defines the key-value database interfaces used by the faucet
// storage layer. Implementations live in the pebbledb (persistent) and
// inmemory (testing) subpackages; metadb dispatches between them.
package db

import "errors"

var (
	// ErrKeyNotFound is returned when the key is not found in the database.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned on commit when the transaction lost a write
	// race against another transaction.
	ErrConflict = errors.New("transaction conflict")
)

// Database types supported by metadb.New.
const (
	TypePebble   = "pebble"
	TypeInMemory = "inmemory"
)

// Options contains the options for opening a database.
type Options struct {
	Path string
}

// Reader is the interface for reading from a key-value database.
type Reader interface {
	// Get retrieves the value for the given key. Returns ErrKeyNotFound
	// if the key does not exist.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback with all key-value pairs whose key starts
	// with prefix, in lexicographic key order. The iteration stops when
	// the callback returns false. The callback must not retain the slices.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a write transaction. It must be terminated by Commit or
// Discard; Discard after Commit is a no-op.
type WriteTx interface {
	Reader
	// Set adds or updates a key-value pair.
	Set(key, value []byte) error
	// Delete removes the key. Deleting a non-existent key is not an error.
	Delete(key []byte) error
	// Commit applies all the pending writes atomically.
	Commit() error
	// Discard drops the pending writes.
	Discard()
}

// Database is a key-value database with transactional writes.
type Database interface {
	Reader
	// WriteTx creates a new write transaction.
	WriteTx() WriteTx
	// Close closes the database.
	Close() error
	// Compact compacts the underlying storage, if supported.
	Compact() error
}
