package verification

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"

	"lukechampine.com/blake3"
)

var otpPattern = regexp.MustCompile(`^\d{6}$`)

func randomCode() (string, error) {
	nBig, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", nBig.Int64()), nil
}

// otpDigest binds a code to its session so a digest anchored on the ledger
// cannot be replayed for another session.
func otpDigest(salt []byte, sessionID, code string) string {
	h := blake3.New(32, nil)
	_, _ = h.Write(salt)
	_, _ = h.Write([]byte("otp:"))
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func digestsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
