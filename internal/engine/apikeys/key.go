package apikeys

import (
	"time"

	"chatgate/internal/platform/models"
)

// Usable returns nil for a key that can authenticate at now. Revocation is
// reported before expiry when both apply.
func Usable(k *models.APIKey, now time.Time) error {
	if k.RevokedAt != nil {
		return ErrKeyRevoked
	}
	if k.ExpiresAt != nil && *k.ExpiresAt <= now.Unix() {
		return ErrKeyExpired
	}
	return nil
}

// HasScope reports whether scopes grant required, directly or through the wildcard.
func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required || s == models.WildcardScope {
			return true
		}
	}
	return false
}
