package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

const (
	levelBlockPrefix  = "block:"
	levelHashPrefix   = "hash:"
	levelParentPrefix = "prev:"
	levelCountKey     = "meta:count"
)

// LevelStore is a BlockStore backed by LevelDB. Records are JSON encoded under
// their big-endian position; hash and parent indexes point back at positions.
type LevelStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// NewLevelStore creates or opens a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) CreateRecord(_ context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range [][]byte{
		[]byte(levelHashPrefix + rec.Hash),
		[]byte(levelParentPrefix + rec.PreviousHash),
	} {
		ok, err := s.db.Has(key, nil)
		if err != nil {
			return Record{}, fmt.Errorf("check index: %w", err)
		}
		if ok {
			return Record{}, ErrDuplicate
		}
	}

	count, err := s.count()
	if err != nil {
		return Record{}, err
	}
	stored := rec.clone()
	stored.ID = count + 1
	encoded, err := json.Marshal(stored)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}
	position := encodePosition(stored.ID)

	batch := new(leveldb.Batch)
	batch.Put(levelBlockKey(stored.ID), encoded)
	batch.Put([]byte(levelHashPrefix+stored.Hash), position)
	batch.Put([]byte(levelParentPrefix+stored.PreviousHash), position)
	batch.Put([]byte(levelCountKey), position)
	if err := s.db.Write(batch, nil); err != nil {
		return Record{}, fmt.Errorf("write record: %w", err)
	}
	return stored, nil
}

func (s *LevelStore) LatestRecord(ctx context.Context) (Record, error) {
	count, err := s.count()
	if err != nil {
		return Record{}, err
	}
	if count == 0 {
		return Record{}, ErrNotFound
	}
	return s.Record(ctx, count)
}

func (s *LevelStore) RecordByHash(ctx context.Context, hash string) (Record, error) {
	raw, err := s.db.Get([]byte(levelHashPrefix+hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load hash index: %w", err)
	}
	return s.Record(ctx, decodePosition(raw))
}

func (s *LevelStore) Record(_ context.Context, position int64) (Record, error) {
	if position < 1 {
		return Record{}, ErrNotFound
	}
	raw, err := s.db.Get(levelBlockKey(position), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %d: %w", position, err)
	}
	return rec, nil
}

func (s *LevelStore) RecordCount(_ context.Context) (int64, error) {
	return s.count()
}

// Close closes the database connection.
func (s *LevelStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *LevelStore) count() (int64, error) {
	raw, err := s.db.Get([]byte(levelCountKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load record count: %w", err)
	}
	return decodePosition(raw), nil
}

func levelBlockKey(position int64) []byte {
	return append([]byte(levelBlockPrefix), encodePosition(position)...)
}

func encodePosition(position int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(position))
	return buf
}

func decodePosition(raw []byte) int64 {
	if len(raw) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw))
}
