package exports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"votechain/ledger"
)

// Source is the read side of the ledger used by exports.
type Source interface {
	Length(ctx context.Context) (int64, error)
	BlockAt(ctx context.Context, position int64) (*ledger.Block, error)
}

// Range selects positions From..To inclusive. Zero values mean the first and
// last block respectively.
type Range struct {
	From int64
	To   int64
}

// ErrEmptyRange is returned when the requested range selects no blocks.
var ErrEmptyRange = errors.New("export range selects no blocks")

// Collect loads the blocks in r in chain order.
func Collect(ctx context.Context, src Source, r Range) ([]*ledger.Block, error) {
	length, err := src.Length(ctx)
	if err != nil {
		return nil, err
	}
	from, to := r.From, r.To
	if from <= 0 {
		from = 1
	}
	if to <= 0 || to > length {
		to = length
	}
	if from > to {
		return nil, ErrEmptyRange
	}
	blocks := make([]*ledger.Block, 0, to-from+1)
	for position := from; position <= to; position++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := src.BlockAt(ctx, position)
		if err != nil {
			return nil, fmt.Errorf("load block %d: %w", position, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func formatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
