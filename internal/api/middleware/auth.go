package middleware

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	apiContext "chatgate/internal/api/context"
	"chatgate/internal/engine/apikeys"
	"chatgate/internal/engine/scopes"
	"chatgate/internal/pkg/errors"
	"chatgate/internal/platform/audit"
	"chatgate/internal/platform/auth"
	"chatgate/internal/platform/models"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	authz    *apikeys.Authorizer
	catalog  *scopes.Catalog
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, authz *apikeys.Authorizer, catalog *scopes.Catalog) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, authz: authz, catalog: catalog}
}

// Handle authorizes the bearer API key against the scope the catalog
// requires for the request.
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret, ok := bearer(r)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}
		m.withKey(w, r, secret, next)
	}
}

// Admin accepts either an admin session token or an API key. Keys are held
// to the catalog scope like any other route.
func (m *AuthMiddleware) Admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret, ok := bearer(r)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		if m.tokenSvc != nil && strings.Count(secret, ".") == 2 {
			claims, err := m.tokenSvc.ValidateToken(secret)
			if err != nil {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
				return
			}
			if claims.Role != models.RoleAdmin {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			userID := claims.UserID
			ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
			ctx = audit.WithActor(ctx, &userID, nil)
			ctx = audit.WithRequest(ctx, r)
			next(w, r.WithContext(ctx))
			return
		}

		m.withKey(w, r, secret, next)
	}
}

func (m *AuthMiddleware) withKey(w http.ResponseWriter, r *http.Request, secret string, next http.HandlerFunc) {
	scope, _ := m.catalog.RequiredScope(r.Method, r.URL.Path)

	identity, err := m.authz.Authorize(r.Context(), secret, scope)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	ctx := context.WithValue(r.Context(), apiContext.Identity, identity)
	keyID := identity.KeyID
	ctx = audit.WithActor(ctx, identity.CreatedBy, &keyID)
	ctx = audit.WithRequest(ctx, r)
	next(w, r.WithContext(ctx))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var scopeErr *apikeys.MissingScopeError
	switch {
	case stderrors.Is(err, apikeys.ErrNoSuchKey):
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeNoSuchKey, "No valid api key found", nil)
	case stderrors.Is(err, apikeys.ErrKeyRevoked):
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeKeyRevoked, "API key has been revoked", nil)
	case stderrors.Is(err, apikeys.ErrKeyExpired):
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeKeyExpired, "API key has expired", nil)
	case stderrors.As(err, &scopeErr):
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeMissingScope, "API key is missing the required scope",
			map[string]string{"scope": scopeErr.Scope})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("api key lookup failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to verify api key", nil)
	}
}

// bearer extracts the token from the Authorization header. A missing header
// yields an empty secret, which the authorizer reports as no_such_key.
func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", true
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// IdentityFrom returns the API key identity set by Handle, if any.
func IdentityFrom(ctx context.Context) *apikeys.Identity {
	id, _ := ctx.Value(apiContext.Identity).(*apikeys.Identity)
	return id
}

// ClaimsFrom returns the admin session claims set by Admin, if any.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(apiContext.Claims).(*auth.Claims)
	return c
}
