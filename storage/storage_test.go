package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) BlockStore

func backends() map[string]storeFactory {
	factories := map[string]storeFactory{
		BackendMemory: func(t *testing.T) BlockStore {
			return NewMemStore()
		},
		BackendSQLite: func(t *testing.T) BlockStore {
			store, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
			require.NoError(t, err)
			return store
		},
		BackendLevelDB: func(t *testing.T) BlockStore {
			store, err := NewLevelStore(t.TempDir())
			require.NoError(t, err)
			return store
		},
		BackendBolt: func(t *testing.T) BlockStore {
			store, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"), nil)
			require.NoError(t, err)
			return store
		},
	}
	if dsn := os.Getenv("VOTECHAIN_TEST_POSTGRES_DSN"); dsn != "" {
		factories[BackendPostgres] = func(t *testing.T) BlockStore {
			store, err := OpenPostgres(dsn)
			require.NoError(t, err)
			require.NoError(t, store.db.Exec("DELETE FROM blockchain_records").Error)
			return store
		}
	}
	return factories
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store BlockStore)) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			fn(t, store)
		})
	}
}

func testRecord(hash, prev string) Record {
	return Record{
		Hash:         hash,
		PreviousHash: prev,
		Data:         json.RawMessage(`{"action":"VERIFY","amount":1.50}`),
		Timestamp:    1700000000,
		Nonce:        42,
	}
}

func TestCreateAndLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store BlockStore) {
		ctx := context.Background()

		count, err := store.RecordCount(ctx)
		require.NoError(t, err)
		require.Zero(t, count)

		_, err = store.LatestRecord(ctx)
		require.ErrorIs(t, err, ErrNotFound)

		first, err := store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)
		require.Equal(t, int64(1), first.ID)

		second, err := store.CreateRecord(ctx, testRecord("bb", "aa"))
		require.NoError(t, err)
		require.Equal(t, int64(2), second.ID)

		latest, err := store.LatestRecord(ctx)
		require.NoError(t, err)
		require.Equal(t, "bb", latest.Hash)
		require.Equal(t, "aa", latest.PreviousHash)
		require.Equal(t, int64(42), latest.Nonce)
		require.Equal(t, int64(1700000000), latest.Timestamp)
		// Stored text must survive byte for byte; hashes depend on it.
		require.Equal(t, `{"action":"VERIFY","amount":1.50}`, string(latest.Data))

		byHash, err := store.RecordByHash(ctx, "aa")
		require.NoError(t, err)
		require.Equal(t, int64(1), byHash.ID)

		at, err := store.Record(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, "bb", at.Hash)

		count, err = store.RecordCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), count)
	})
}

func TestLookupMisses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store BlockStore) {
		ctx := context.Background()
		_, err := store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)

		_, err = store.RecordByHash(ctx, "AA")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = store.RecordByHash(ctx, "")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = store.Record(ctx, 0)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = store.Record(ctx, 2)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDuplicateRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store BlockStore) {
		ctx := context.Background()
		_, err := store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)

		_, err = store.CreateRecord(ctx, testRecord("aa", "zz"))
		require.ErrorIs(t, err, ErrDuplicate)

		// A second child of the same parent is a fork.
		_, err = store.CreateRecord(ctx, testRecord("cc", "0"))
		require.ErrorIs(t, err, ErrDuplicate)

		count, err := store.RecordCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), count)

		next, err := store.CreateRecord(ctx, testRecord("bb", "aa"))
		require.NoError(t, err)
		require.Equal(t, int64(2), next.ID, "rejected inserts must not leave gaps")
	})
}

func TestInvalidRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store BlockStore) {
		ctx := context.Background()
		cases := map[string]Record{
			"no hash":      {PreviousHash: "0", Data: json.RawMessage(`{}`)},
			"no previous":  {Hash: "aa", Data: json.RawMessage(`{}`)},
			"no data":      {Hash: "aa", PreviousHash: "0"},
			"bad json":     {Hash: "aa", PreviousHash: "0", Data: json.RawMessage(`{`)},
			"negative pow": {Hash: "aa", PreviousHash: "0", Data: json.RawMessage(`{}`), Nonce: -1},
		}
		for name, rec := range cases {
			_, err := store.CreateRecord(ctx, rec)
			require.Error(t, err, name)
			require.False(t, errors.Is(err, ErrDuplicate), name)
		}
	})
}

func TestConcurrentForkAttempts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store BlockStore) {
		ctx := context.Background()
		_, err := store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)

		const writers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.CreateRecord(ctx, testRecord(fmt.Sprintf("child-%d", i), "aa"))
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 1, accepted)

		count, err := store.RecordCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), count)
	})
}

func TestFileStoresReopen(t *testing.T) {
	ctx := context.Background()

	t.Run(BackendLevelDB, func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewLevelStore(dir)
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := NewLevelStore(dir)
		require.NoError(t, err)
		defer reopened.Close()
		latest, err := reopened.LatestRecord(ctx)
		require.NoError(t, err)
		require.Equal(t, "aa", latest.Hash)
	})

	t.Run(BackendBolt, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.db")
		store, err := NewBoltStore(path, nil)
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := NewBoltStore(path, nil)
		require.NoError(t, err)
		defer reopened.Close()
		next, err := reopened.CreateRecord(ctx, testRecord("bb", "aa"))
		require.NoError(t, err)
		require.Equal(t, int64(2), next.ID)
	})

	t.Run(BackendSQLite, func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.sqlite")
		store, err := OpenSQLite(path)
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, testRecord("aa", "0"))
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := OpenSQLite(path)
		require.NoError(t, err)
		defer reopened.Close()
		count, err := reopened.RecordCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), count)
	})
}

func TestOpenBackends(t *testing.T) {
	store, err := Open(Options{})
	require.NoError(t, err)
	require.IsType(t, &MemStore{}, store)

	_, err = Open(Options{Backend: "cassandra"})
	require.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(Options{Backend: BackendLevelDB})
	require.ErrorIs(t, err, ErrPathRequired)

	_, err = Open(Options{Backend: BackendPostgres})
	require.Error(t, err)

	bolt, err := Open(Options{Backend: "BOLT", Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	require.NoError(t, bolt.Close())
}

func TestFileDSN(t *testing.T) {
	_, err := FileDSN("  ")
	require.ErrorIs(t, err, ErrPathRequired)

	dsn, err := FileDSN("file:abc?mode=memory")
	require.NoError(t, err)
	require.Equal(t, "file:abc?mode=memory", dsn)

	dsn, err = FileDSN("ledger.sqlite")
	require.NoError(t, err)
	abs, _ := filepath.Abs("ledger.sqlite")
	require.Equal(t, "file:"+abs+"?"+defaultFilePragmas, dsn)
}
