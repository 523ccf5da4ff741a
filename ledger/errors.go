package ledger

import "errors"

var (
	// ErrBlockNotFound is returned by lookups that match no persisted block.
	ErrBlockNotFound = errors.New("ledger: block not found")
	// ErrChainConflict is returned when another writer extended the tip first.
	ErrChainConflict = errors.New("ledger: chain tip moved during append")
	// ErrTimestampRange is returned for timestamps that do not fit 32 bits.
	ErrTimestampRange = errors.New("ledger: timestamp outside 32-bit range")
	// ErrInvalidDifficulty is returned for difficulties outside 0..64.
	ErrInvalidDifficulty = errors.New("ledger: invalid difficulty")
	// ErrClosed is returned by AddBlock after Close.
	ErrClosed = errors.New("ledger: closed")
)
