package ledger

import "strings"

// Difficulty is the number of leading zero hex characters a sealed block hash
// must carry.
const Difficulty = 2

// MeetsDifficulty reports whether hash starts with difficulty '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

// Mine searches nonces from the current one until the hash satisfies
// difficulty. The current hash is checked first, so mining a sealed block is
// a no-op.
func (b *Block) Mine(difficulty int) error {
	if difficulty < 0 || difficulty > 64 {
		return ErrInvalidDifficulty
	}
	prefix, err := b.hashPrefix()
	if err != nil {
		return err
	}
	b.Hash = hashWithNonce(prefix, b.Nonce)
	for !MeetsDifficulty(b.Hash, difficulty) {
		b.Nonce++
		b.Hash = hashWithNonce(prefix, b.Nonce)
	}
	return nil
}
