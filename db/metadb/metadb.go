// Package metadb dispatches database construction by engine type.
package metadb

import (
	"fmt"
	"testing"

	"github.com/cosmdrop/faucet-node/db"
	"github.com/cosmdrop/faucet-node/db/inmemory"
	"github.com/cosmdrop/faucet-node/db/pebbledb"
)

// New opens a database of the given type rooted at dir.
func New(typ, dir string) (db.Database, error) {
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		return pebbledb.New(opts)
	case db.TypeInMemory:
		return inmemory.New(opts)
	default:
		return nil, fmt.Errorf("invalid database type: %q", typ)
	}
}

// NewTest returns a pebble database in a temporary directory, cleaned up
// with the test.
func NewTest(tb testing.TB) db.Database {
	database, err := New(db.TypePebble, tb.TempDir())
	if err != nil {
		tb.Fatalf("metadb.New: %v", err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Logf("error closing test database: %v", err)
		}
	})
	return database
}
