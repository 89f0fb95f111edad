package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const joinCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewJoinCode returns a random lowercase alphanumeric code of the given length.
func NewJoinCode(length int) string {
	code := make([]byte, length)
	limit := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(err)
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code)
}
