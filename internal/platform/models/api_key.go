package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefixLength is how much of a secret is kept in clear for display.
const KeyPrefixLength = 8

type APIKey struct {
	ID         int64    `json:"id"`
	Secret     string   `json:"-"` // only set on the record returned from creation
	KeyHash    string   `json:"-"`
	KeyPrefix  string   `json:"key_prefix"`
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"` // JSON array in DB
	CreatedBy  *int64   `json:"created_by,omitempty"`
	LastUsedAt *int64   `json:"last_used_at,omitempty"`
	ExpiresAt  *int64   `json:"expires_at,omitempty"`
	RevokedAt  *int64   `json:"revoked_at,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

// HashSecret returns the hex sha256 digest stored in place of a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretPrefix returns the displayable head of secret.
func SecretPrefix(secret string) string {
	if len(secret) <= KeyPrefixLength {
		return ""
	}
	return secret[:KeyPrefixLength]
}

// Hash returns the stored digest, deriving it from Secret for records that
// have not been persisted yet.
func (k *APIKey) Hash() string {
	if k.KeyHash != "" {
		return k.KeyHash
	}
	return HashSecret(k.Secret)
}

// Preview is the masked form of the secret shown in listings.
func (k *APIKey) Preview() string {
	prefix := k.KeyPrefix
	if prefix == "" {
		prefix = SecretPrefix(k.Secret)
	}
	if prefix == "" {
		return "****"
	}
	return prefix + "..."
}
