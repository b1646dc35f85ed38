package apikeys

import (
	"errors"
)

var (
	ErrNoSuchKey  = errors.New("no_such_key")
	ErrKeyRevoked = errors.New("key_revoked")
	ErrKeyExpired = errors.New("key_expired")
	ErrNotFound   = errors.New("api key not found")
)

// MissingScopeError reports that a usable key lacks the required scope.
type MissingScopeError struct {
	Scope string
}

func (e *MissingScopeError) Error() string {
	return "missing_scope:" + e.Scope
}

// ReasonCode renders an authorization error as its stable reason string.
// Unknown errors, such as store failures, report "store_error".
func ReasonCode(err error) string {
	var scopeErr *MissingScopeError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSuchKey):
		return "no_such_key"
	case errors.Is(err, ErrKeyRevoked):
		return "key_revoked"
	case errors.Is(err, ErrKeyExpired):
		return "key_expired"
	case errors.As(err, &scopeErr):
		return scopeErr.Error()
	default:
		return "store_error"
	}
}
