package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"votechain/observability"
	"votechain/storage"
)

// GenesisData is the payload of the first block of every chain.
func GenesisData() map[string]any {
	return map[string]any{"data": "Genesis Block"}
}

// Ledger manages the append-only block sequence held by a BlockStore.
type Ledger struct {
	store      storage.BlockStore
	mu         sync.Mutex
	difficulty int
	strict     bool
	clock      func() time.Time
	logger     *slog.Logger
	metrics    *observability.LedgerMetrics
	tracer     trace.Tracer
	feed       *feed
	closed     bool
}

// Option customises a Ledger at Open.
type Option func(*Ledger)

// WithDifficulty overrides the proof-of-work difficulty for new blocks.
func WithDifficulty(difficulty int) Option {
	return func(l *Ledger) { l.difficulty = difficulty }
}

// WithStrictProofOfWork makes validation also require every stored hash to
// meet the configured difficulty.
func WithStrictProofOfWork() Option {
	return func(l *Ledger) { l.strict = true }
}

// WithClock overrides the block timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Open attaches a ledger to store, persisting a genesis block when the store
// is empty.
func Open(ctx context.Context, store storage.BlockStore, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: block store required")
	}
	metrics := observability.Ledger()
	l := &Ledger{
		store:      store,
		difficulty: Difficulty,
		clock:      time.Now,
		logger:     slog.Default(),
		metrics:    metrics,
		tracer:     otel.Tracer("votechain/ledger"),
		feed:       newFeed(metrics.ObserveFeedDrop),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.difficulty < 0 || l.difficulty > 64 {
		return nil, ErrInvalidDifficulty
	}
	if err := l.ensureGenesis(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureGenesis(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.store.RecordCount(ctx)
	if err != nil {
		return fmt.Errorf("count blocks: %w", err)
	}
	if count > 0 {
		l.metrics.SetLength(count)
		l.logger.Info("ledger opened", "length", count)
		return nil
	}
	genesis, err := NewBlock(GenesisData(), GenesisPreviousHash, l.clock())
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	if err := genesis.Mine(l.difficulty); err != nil {
		return fmt.Errorf("mine genesis: %w", err)
	}
	rec, err := genesis.record()
	if err != nil {
		return err
	}
	if _, err := l.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			l.logger.Info("genesis block already present")
			return nil
		}
		return fmt.Errorf("persist genesis: %w", err)
	}
	l.metrics.SetLength(1)
	l.logger.Info("genesis block created", "hash", genesis.Hash, "nonce", genesis.Nonce)
	return nil
}

// AddBlock seals data into a new block linked to the current tip and
// persists it.
func (l *Ledger) AddBlock(ctx context.Context, data map[string]any) (*Block, error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger.add_block")
	defer span.End()

	block, err := l.appendLocked(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.metrics.ObserveAppend(time.Since(start), 0, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("ledger.position", block.Position),
		attribute.Int64("ledger.nonce", int64(block.Nonce)),
	)
	l.metrics.ObserveAppend(time.Since(start), block.Nonce+1, nil)
	return block, nil
}

func (l *Ledger) appendLocked(ctx context.Context, data map[string]any) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	previousHash := GenesisPreviousHash
	tip, err := l.store.LatestRecord(ctx)
	switch {
	case err == nil:
		previousHash = tip.Hash
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load tip: %w", err)
	}

	block, err := NewBlock(data, previousHash, l.clock())
	if err != nil {
		return nil, err
	}
	if err := block.Mine(l.difficulty); err != nil {
		return nil, err
	}
	rec, err := block.record()
	if err != nil {
		return nil, err
	}
	stored, err := l.store.CreateRecord(ctx, rec)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %v", ErrChainConflict, err)
		}
		return nil, fmt.Errorf("persist block: %w", err)
	}
	block.Position = stored.ID
	l.metrics.SetLength(stored.ID)
	l.feed.publish(block)
	l.logger.Debug("block appended", "position", block.Position, "hash", block.Hash, "nonce", block.Nonce)
	return block, nil
}

// LatestBlock returns the chain tip.
func (l *Ledger) LatestBlock(ctx context.Context) (*Block, error) {
	rec, err := l.store.LatestRecord(ctx)
	if err != nil {
		return nil, lookupError("load tip", err)
	}
	return blockFromRecord(rec)
}

// BlockByHash returns the block whose hash matches exactly.
func (l *Ledger) BlockByHash(ctx context.Context, hash string) (*Block, error) {
	if hash == "" {
		return nil, ErrBlockNotFound
	}
	rec, err := l.store.RecordByHash(ctx, hash)
	if err != nil {
		return nil, lookupError("load block by hash", err)
	}
	return blockFromRecord(rec)
}

// BlockAt returns the block at the 1-based position.
func (l *Ledger) BlockAt(ctx context.Context, position int64) (*Block, error) {
	if position < 1 {
		return nil, ErrBlockNotFound
	}
	rec, err := l.store.Record(ctx, position)
	if err != nil {
		return nil, lookupError("load block", err)
	}
	return blockFromRecord(rec)
}

// Length reports the number of persisted blocks.
func (l *Ledger) Length(ctx context.Context) (int64, error) {
	count, err := l.store.RecordCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return count, nil
}

// Difficulty reports the proof-of-work difficulty applied to new blocks.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

// Subscribe registers for blocks appended from now on. The returned function
// cancels the subscription and closes the channel.
func (l *Ledger) Subscribe(buffer int) (<-chan Block, func()) {
	return l.feed.subscribe(buffer)
}

// Close stops appends and closes every subscriber channel. The store is
// owned by the caller and stays open.
func (l *Ledger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.feed.close()
	return nil
}

func lookupError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrBlockNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
