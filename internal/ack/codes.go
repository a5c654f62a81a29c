package ack

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var codeSpace = big.NewInt(1_000_000)

// NewCode returns a random 6-digit confirmation code, zero-padded, so
// "042319" is as likely as "482913".
func NewCode() string {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(fmt.Sprintf("confirmation code entropy: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}
