// Package auth provides the credential primitives: API key secret
// generation and hashing, admin password hashing, session token signing and
// verification, and resolution of heterogeneous credentials into a single
// authorization context.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// secretBytes is the length of the random part of an API key secret.
	secretBytes = 32

	// KeyIDPrefix and SubKeyIDPrefix distinguish the two credential tables in
	// opaque identifiers.
	KeyIDPrefix    = "c8k"
	SubKeyIDPrefix = "c8s"

	// SecretPrefix marks raw secrets so clients and logs can recognize them
	// without ever storing them.
	SecretPrefix = "ctx8"
)

// NewKeyID returns a fresh root key identifier.
func NewKeyID() string { return fmt.Sprintf("%s_%s", KeyIDPrefix, uuid.NewString()) }

// NewSubKeyID returns a fresh sub key identifier.
func NewSubKeyID() string { return fmt.Sprintf("%s_%s", SubKeyIDPrefix, uuid.NewString()) }

// GenerateSecret creates a new random API key secret. The raw value is
// returned exactly once; only HashSecret of it is ever stored.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key secret: %w", err)
	}
	return fmt.Sprintf("%s_%s", SecretPrefix, base64.RawURLEncoding.EncodeToString(raw)), nil
}

// HashSecret is the deterministic lookup hash of an API key secret. It must
// be deterministic so the credential row can be found by hash alone, which
// rules out salted hashes here; secrets carry enough entropy that offline
// guessing is not a concern.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix truncates a secret for logs and one-time display headers.
func DisplayPrefix(secret string) string {
	if len(secret) > 12 {
		return secret[:12]
	}
	return secret
}

// LooksLikeSecret reports whether a bearer value is shaped like an API key
// secret rather than a session token.
func LooksLikeSecret(value string) bool {
	return strings.HasPrefix(value, SecretPrefix+"_")
}
