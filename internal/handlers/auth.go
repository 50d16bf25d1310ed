package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// TokenHeader carries the static shared secret.
const TokenHeader = "X-Winlog-Token"

// SecretChecker verifies the shared secret against a bcrypt hash. Digests of
// accepted tokens are remembered so bcrypt runs once per distinct token.
type SecretChecker struct {
	hash []byte

	mu       sync.RWMutex
	accepted [][sha256.Size]byte
}

// NewSecretChecker returns nil when hash is empty, which disables the check.
func NewSecretChecker(hash string) *SecretChecker {
	if hash == "" {
		return nil
	}
	return &SecretChecker{hash: []byte(hash)}
}

// Check reports whether token matches the configured secret.
func (c *SecretChecker) Check(token string) bool {
	if c == nil {
		return true
	}
	if token == "" {
		return false
	}

	digest := sha256.Sum256([]byte(token))

	c.mu.RLock()
	for _, known := range c.accepted {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			c.mu.RUnlock()
			return true
		}
	}
	c.mu.RUnlock()

	if bcrypt.CompareHashAndPassword(c.hash, []byte(token)) != nil {
		return false
	}

	c.mu.Lock()
	if len(c.accepted) < 8 {
		c.accepted = append(c.accepted, digest)
	}
	c.mu.Unlock()
	return true
}
