package auth

import (
	"crypto/sha512"
	"encoding/hex"
)

// PasswordHasher derives and checks the salted digest stored on protected
// sessions. Verification is plain string equality of precomputed digests:
// clients transport the digest itself as the credential, so there is no
// constant-time comparison here.
type PasswordHasher struct {
	salt string
}

// NewPasswordHasher constructs a hasher bound to the deployment salt.
func NewPasswordHasher(salt string) *PasswordHasher {
	return &PasswordHasher{salt: salt}
}

// Hash digests a plain-text password with the deployment salt.
func (h *PasswordHasher) Hash(plain string) string {
	digest := sha512.Sum512([]byte(plain + h.salt))
	return hex.EncodeToString(digest[:])
}

// Verify reports whether the plain-text password produces the stored digest.
func (h *PasswordHasher) Verify(plain, storedHash string) bool {
	return h.Hash(plain) == storedHash
}
