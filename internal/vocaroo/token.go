package vocaroo

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// TokenLength is the length of an upload session token.
const TokenLength = 22

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewSessionToken returns a random alphanumeric upload session token.
func NewSessionToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	token := make([]byte, TokenLength)
	for i := range token {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("vocaroo: generate session token: %w", err)
		}
		token[i] = tokenAlphabet[n.Int64()]
	}
	return string(token), nil
}
