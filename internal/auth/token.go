package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// tokenBytes is the entropy of an issued bearer token.
const tokenBytes = 32

// ErrEmptyToken is returned when an empty token is hashed.
var ErrEmptyToken = errors.New("token cannot be empty")

// newToken returns a random base64url token.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken derives the stored lookup key for a bearer token as the
// hex-encoded SHA-256 of the token. Tokens are high-entropy random values,
// so a fast unsalted hash is enough to keep them out of the database.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}
