package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatgate/internal/pkg/logger"
	"chatgate/internal/pkg/metrics"
	"chatgate/internal/platform/models"
	"github.com/rs/zerolog"
)

// KeyStore looks up key records. GetBySecret returns nil, nil when the
// secret is unknown.
type KeyStore interface {
	GetBySecret(ctx context.Context, secret string) (*models.APIKey, error)
}

// LastUsedRecorder stamps a key as used. Optional.
type LastUsedRecorder interface {
	UpdateLastUsed(ctx context.Context, id int64, at time.Time) error
}

// Identity is the result of a successful authorization.
type Identity struct {
	KeyID     int64    `json:"key_id"`
	Name      string   `json:"name"`
	CreatedBy *int64   `json:"created_by,omitempty"`
	Scopes    []string `json:"scopes"`
}

// UserID returns the key owner, or 0 when the key has no creator.
func (i *Identity) UserID() int64 {
	if i == nil || i.CreatedBy == nil {
		return 0
	}
	return *i.CreatedBy
}

type Authorizer struct {
	store    KeyStore
	cache    *Cache
	recorder LastUsedRecorder
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Authorizer)

// WithCache enables the key record cache. A non-positive ttl leaves it off.
func WithCache(ttl time.Duration) Option {
	return func(a *Authorizer) {
		if ttl > 0 {
			a.cache = NewCache(ttl)
		}
	}
}

func WithLastUsed(r LastUsedRecorder) Option {
	return func(a *Authorizer) { a.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

func NewAuthorizer(store KeyStore, opts ...Option) *Authorizer {
	a := &Authorizer{
		store: store,
		now:   time.Now,
		log:   logger.Component("apikeys"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache != nil {
		a.cache.now = a.now
	}
	return a
}

// Authorize validates secret and, when requiredScope is non-empty, checks
// that the key grants it. A store failure is returned as an error and never
// treated as success.
func (a *Authorizer) Authorize(ctx context.Context, secret, requiredScope string) (*Identity, error) {
	id, err := a.authorize(ctx, secret, requiredScope)
	if err != nil {
		metrics.Authorizations.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	metrics.Authorizations.WithLabelValues("ok").Inc()
	return id, nil
}

func (a *Authorizer) authorize(ctx context.Context, secret, requiredScope string) (*Identity, error) {
	if secret == "" {
		return nil, ErrNoSuchKey
	}

	key, err := a.lookup(ctx, secret)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrNoSuchKey
	}

	now := a.now()
	if err := Usable(key, now); err != nil {
		return nil, err
	}

	scopes := models.NormalizeScopes(key.Scopes)
	if requiredScope != "" && !HasScope(scopes, requiredScope) {
		return nil, &MissingScopeError{Scope: requiredScope}
	}

	a.touch(ctx, key.ID, now)

	return &Identity{
		KeyID:     key.ID,
		Name:      key.Name,
		CreatedBy: key.CreatedBy,
		Scopes:    scopes,
	}, nil
}

func (a *Authorizer) lookup(ctx context.Context, secret string) (*models.APIKey, error) {
	if a.cache != nil {
		if k, ok := a.cache.Get(secret); ok {
			return k, nil
		}
	}

	key, err := a.store.GetBySecret(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if key != nil && a.cache != nil {
		a.cache.Set(key)
	}
	return key, nil
}

func (a *Authorizer) touch(ctx context.Context, id int64, at time.Time) {
	if a.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.recorder.UpdateLastUsed(ctx, id, at); err != nil {
			a.log.Warn().Err(err).Int64("api_key_id", id).Msg("failed to record key usage")
		}
	}()
}

// Invalidate drops any cached record for the key.
func (a *Authorizer) Invalidate(id int64) {
	if a.cache != nil {
		a.cache.InvalidateID(id)
	}
}

func resultLabel(err error) string {
	var scopeErr *MissingScopeError
	if errors.As(err, &scopeErr) {
		return "missing_scope"
	}
	return ReasonCode(err)
}
