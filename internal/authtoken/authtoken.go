// Package authtoken hashes and verifies the bearer token gating the
// internal-service listener (the "service_server" surface of spec §4.9).
// The shape mirrors the teacher's internal/auth token_hash.go (generate a
// random token, store only its hash, compare on request), but hashes with
// bcrypt rather than a raw SHA-256 digest: the token configured by an
// operator is low-entropy compared to session.go's generated 256-bit
// tokens, so the hash needs to be deliberately slow, not just collision
// resistant.
package authtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrTokenRequired is returned when hashing or comparing against an empty
// token.
var ErrTokenRequired = errors.New("authtoken: token required")

// Generate returns a random hex-encoded token of the given byte length,
// the same shape as the teacher's generateToken helper.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Hash bcrypt-hashes token for storage. The configured bearer token never
// needs to be recovered, only verified, so only the hash is retained.
func Hash(token string) (string, error) {
	if token == "" {
		return "", ErrTokenRequired
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether candidate matches the bcrypt hash produced by
// Hash. A mismatch and a malformed hash are both reported as a non-nil
// error; callers that only care about pass/fail should check err == nil.
func Verify(hash, candidate string) error {
	if candidate == "" {
		return ErrTokenRequired
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate))
}
