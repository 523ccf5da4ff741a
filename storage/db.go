package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate is returned when a record would reuse an existing hash or
	// previous hash. Each block has exactly one child, so a second record with
	// the same previous hash is a fork attempt.
	ErrDuplicate = errors.New("storage: duplicate record")
	// ErrUnknownBackend is returned by Open for unsupported backend names.
	ErrUnknownBackend = errors.New("storage: unknown backend")
	// ErrPathRequired is returned by file-backed stores opened without a path.
	ErrPathRequired = errors.New("storage: path required")
)

// Record is the persisted form of a sealed ledger block. ID is the 1-based
// chain position assigned by the store on insert.
type Record struct {
	ID           int64           `json:"id"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previousHash"`
	Data         json.RawMessage `json:"data"`
	Timestamp    int64           `json:"timestamp"`
	Nonce        int64           `json:"nonce"`
}

// BlockStore is the append-only persistence contract used by the ledger.
// Implementations never update or delete records.
type BlockStore interface {
	// CreateRecord inserts rec and returns it with its assigned ID.
	CreateRecord(ctx context.Context, rec Record) (Record, error)
	// LatestRecord returns the record with the highest ID.
	LatestRecord(ctx context.Context) (Record, error)
	// RecordByHash returns the record whose hash matches exactly.
	RecordByHash(ctx context.Context, hash string) (Record, error)
	// Record returns the record at the given 1-based position.
	Record(ctx context.Context, position int64) (Record, error)
	// RecordCount reports the number of persisted records.
	RecordCount(ctx context.Context) (int64, error)
	Close() error
}

func (r Record) validate() error {
	if strings.TrimSpace(r.Hash) == "" {
		return fmt.Errorf("record hash required")
	}
	if r.PreviousHash == "" {
		return fmt.Errorf("record previous hash required")
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("record data required")
	}
	if !json.Valid(r.Data) {
		return fmt.Errorf("record data is not valid JSON")
	}
	if r.Nonce < 0 {
		return fmt.Errorf("record nonce must be non-negative")
	}
	return nil
}

func (r Record) clone() Record {
	out := r
	out.Data = append(json.RawMessage(nil), r.Data...)
	return out
}
