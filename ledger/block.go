package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"votechain/storage"
)

// GenesisPreviousHash links the first block of every chain.
const GenesisPreviousHash = "0"

// Block is one sealed, hash-linked unit of ledger data.
type Block struct {
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
	Data         map[string]any `json:"data"`
	Timestamp    int64          `json:"timestamp"`
	Nonce        uint64         `json:"nonce"`
	// Position is the 1-based chain position; zero until persisted.
	Position int64 `json:"position,omitempty"`
}

// NewBlock builds an unsealed block over data linked to previousHash with
// nonce zero. An empty previousHash links to genesis.
func NewBlock(data map[string]any, previousHash string, now time.Time) (*Block, error) {
	ts := now.Unix()
	if ts < math.MinInt32 || ts > math.MaxInt32 {
		return nil, ErrTimestampRange
	}
	normalized, err := normalize(data)
	if err != nil {
		return nil, err
	}
	if previousHash == "" {
		previousHash = GenesisPreviousHash
	}
	b := &Block{
		PreviousHash: previousHash,
		Data:         normalized,
		Timestamp:    ts,
	}
	hash, err := b.CalculateHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}

// CalculateHash recomputes the block digest from its content fields.
func (b *Block) CalculateHash() (string, error) {
	prefix, err := b.hashPrefix()
	if err != nil {
		return "", err
	}
	return hashWithNonce(prefix, b.Nonce), nil
}

// Intact reports whether the stored hash matches the block content.
func (b *Block) Intact() bool {
	hash, err := b.CalculateHash()
	return err == nil && hash == b.Hash
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	out := *b
	if b.Data != nil {
		out.Data = cloneValue(b.Data).(map[string]any)
	}
	return &out
}

func (b *Block) hashPrefix() (string, error) {
	canonical, err := Canonicalize(b.Data)
	if err != nil {
		return "", err
	}
	return b.PreviousHash + strconv.FormatInt(b.Timestamp, 10) + string(canonical), nil
}

func hashWithNonce(prefix string, nonce uint64) string {
	sum := sha256.Sum256([]byte(prefix + strconv.FormatUint(nonce, 10)))
	return hex.EncodeToString(sum[:])
}

func (b *Block) record() (storage.Record, error) {
	canonical, err := Canonicalize(b.Data)
	if err != nil {
		return storage.Record{}, err
	}
	if b.Nonce > math.MaxInt64 {
		return storage.Record{}, fmt.Errorf("nonce %d exceeds storage range", b.Nonce)
	}
	return storage.Record{
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		Data:         canonical,
		Timestamp:    b.Timestamp,
		Nonce:        int64(b.Nonce),
	}, nil
}

func blockFromRecord(rec storage.Record) (*Block, error) {
	data, err := decodeData(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", rec.ID, err)
	}
	if rec.Nonce < 0 {
		return nil, fmt.Errorf("block %d: negative nonce", rec.ID)
	}
	return &Block{
		Hash:         rec.Hash,
		PreviousHash: rec.PreviousHash,
		Data:         data,
		Timestamp:    rec.Timestamp,
		Nonce:        uint64(rec.Nonce),
		Position:     rec.ID,
	}, nil
}
