package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks  = []byte("blocks")
	bucketHashes  = []byte("hashes")
	bucketParents = []byte("parents")
)

// BoltStore is a BlockStore backed by a single BoltDB file. Positions come
// from the blocks bucket sequence, so IDs stay gapless across restarts.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore initialises (and migrates) the BoltDB-backed store.
func NewBoltStore(path string, options *bolt.Options) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrPathRequired
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketHashes, bucketParents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) CreateRecord(_ context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	var stored Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		hashes := tx.Bucket(bucketHashes)
		parents := tx.Bucket(bucketParents)
		if hashes.Get([]byte(rec.Hash)) != nil || parents.Get([]byte(rec.PreviousHash)) != nil {
			return ErrDuplicate
		}
		seq, err := blocks.NextSequence()
		if err != nil {
			return err
		}
		stored = rec.clone()
		stored.ID = int64(seq)
		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		position := encodePosition(stored.ID)
		if err := blocks.Put(position, encoded); err != nil {
			return err
		}
		if err := hashes.Put([]byte(stored.Hash), position); err != nil {
			return err
		}
		return parents.Put([]byte(stored.PreviousHash), position)
	})
	if err != nil {
		return Record{}, err
	}
	return stored, nil
}

func (s *BoltStore) LatestRecord(_ context.Context) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		_, raw := tx.Bucket(bucketBlocks).Cursor().Last()
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

func (s *BoltStore) RecordByHash(_ context.Context, hash string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		position := tx.Bucket(bucketHashes).Get([]byte(hash))
		if position == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(bucketBlocks).Get(position)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

func (s *BoltStore) Record(_ context.Context, position int64) (Record, error) {
	if position < 1 {
		return Record{}, ErrNotFound
	}
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(encodePosition(position))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

func (s *BoltStore) RecordCount(_ context.Context) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bolt.Tx) error {
		count = int64(tx.Bucket(bucketBlocks).Sequence())
		return nil
	})
	return count, err
}

// Close releases the underlying Bolt database handle.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
