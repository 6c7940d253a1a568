package ambassador

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codePrefix = "AMB"
	codeLength = 6
	// No 0/O or 1/I so codes survive being read aloud.
	codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
)

// NewReferralCode returns a random code such as AMB7KQ2XM.
func NewReferralCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return codePrefix + string(b), nil
}
