// Package commit implements the hash commitment scheme used by both parties
// of a game: each side publishes Commit(secret) before the other reveals.
package commit

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	// SecretBytes is the amount of randomness in a secret (256 bits).
	SecretBytes = 32

	// HexLength is the length of a hex-encoded secret or commitment.
	HexLength = SecretBytes * 2
)

var wellFormed = regexp.MustCompile(`^[a-f0-9]{64}$`)

// GenerateSecret draws a fresh 256-bit secret from crypto/rand and returns
// it hex-encoded. It is safe for concurrent use.
func GenerateSecret() (string, error) {
	var b [SecretBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Commit returns the hex-encoded SHA-256 of the secret's UTF-8 bytes.
func Commit(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether secret is the preimage of commitment.
// The comparison runs in constant time over the hex strings.
func Verify(secret, commitment string) bool {
	return subtle.ConstantTimeCompare([]byte(Commit(secret)), []byte(commitment)) == 1
}

// WellFormed reports whether s is 64 lowercase hex characters, the wire
// format of both secrets and commitments.
func WellFormed(s string) bool {
	return wellFormed.MatchString(s)
}
