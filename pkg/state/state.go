// Package state issues and verifies the anti-forgery state that binds an
// authorization request to its callback.
package state

import (
	"crypto/rand"
	"math/big"
)

const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultLength of a state issued by the login endpoint.
const DefaultLength = 16

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns length characters drawn uniformly from Alphabet using
// crypto/rand. Non-positive lengths yield an empty string.
func Generate(length int) string {
	if length <= 0 {
		return ""
	}
	ret := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			panic("Random number generation failed")
		}
		ret[i] = Alphabet[num.Int64()]
	}
	return string(ret)
}
