package storage

import (
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
	BackendBolt     = "bolt"
)

// Options selects and configures a BlockStore backend.
type Options struct {
	Backend string
	// Path is the database location for sqlite, leveldb and bolt.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open constructs the BlockStore named by opts.Backend.
func Open(opts Options) (BlockStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemStore(), nil
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendPostgres:
		return OpenPostgres(opts.DSN)
	case BackendLevelDB:
		return NewLevelStore(opts.Path)
	case BackendBolt:
		return NewBoltStore(opts.Path, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
