package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatgate/internal/platform/database"
	"chatgate/internal/platform/models"
	"github.com/google/uuid"
)

var ErrInvalid = errors.New("invalid api key input")

const (
	maxNameLength  = 120
	createAttempts = 3
)

// Store is the persistence needed for key administration.
type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id int64) (*models.APIKey, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Update(ctx context.Context, key *models.APIKey) error
	Revoke(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type Auditor interface {
	Log(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{})
}

type CreateInput struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *int64   `json:"expires_at"`
	CreatedBy *int64   `json:"-"`
}

// KeyUpdate carries the optional fields of a PATCH. ClearExpiry removes
// the expiry; Revoke soft-deletes the key.
type KeyUpdate struct {
	Name        *string  `json:"name"`
	Scopes      []string `json:"scopes"`
	ExpiresAt   *int64   `json:"expires_at"`
	ClearExpiry bool     `json:"clear_expiry"`
	Revoke      bool     `json:"revoke"`
}

type Service struct {
	store  Store
	authz  *Authorizer
	audit  Auditor
	prefix string
	now    func() time.Time
}

func NewService(store Store, authz *Authorizer, audit Auditor, secretPrefix string) *Service {
	return &Service{store: store, authz: authz, audit: audit, prefix: secretPrefix, now: time.Now}
}

// Create stores a new key and returns it with its secret populated. The
// secret is only ever returned here.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.APIKey, error) {
	name := strings.TrimSpace(in.Name)
	if len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
	}
	if in.ExpiresAt != nil && *in.ExpiresAt <= s.now().Unix() {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalid)
	}

	key := &models.APIKey{
		Name:      name,
		Scopes:    models.NormalizeScopes(in.Scopes),
		CreatedBy: in.CreatedBy,
		ExpiresAt: in.ExpiresAt,
	}
	// A colliding hash gets a fresh secret.
	for attempt := 1; ; attempt++ {
		key.Secret = s.generateSecret()
		key.KeyHash, key.KeyPrefix = "", ""
		err := s.store.Create(ctx, key)
		if err == nil {
			break
		}
		if !database.IsUniqueViolation(err) || attempt == createAttempts {
			return nil, fmt.Errorf("create api key: %w", err)
		}
	}

	s.log(ctx, "api_key.create", key.ID, map[string]interface{}{"name": key.Name, "scopes": key.Scopes})
	return key, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.APIKey, error) {
	key, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if key == nil {
		return nil, ErrNotFound
	}
	return key, nil
}

func (s *Service) List(ctx context.Context) ([]*models.APIKey, error) {
	keys, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

func (s *Service) Update(ctx context.Context, id int64, upd KeyUpdate) (*models.APIKey, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
		}
		key.Name = name
	}
	if upd.Scopes != nil {
		key.Scopes = models.NormalizeScopes(upd.Scopes)
	}
	switch {
	case upd.ClearExpiry:
		key.ExpiresAt = nil
	case upd.ExpiresAt != nil:
		key.ExpiresAt = upd.ExpiresAt
	}

	if err := s.store.Update(ctx, key); err != nil {
		return nil, fmt.Errorf("update api key: %w", err)
	}
	if upd.Revoke && key.RevokedAt == nil {
		if _, err := s.store.Revoke(ctx, id); err != nil {
			return nil, fmt.Errorf("revoke api key: %w", err)
		}
	}
	s.invalidate(id)
	s.log(ctx, "api_key.update", id, map[string]interface{}{"name": key.Name, "scopes": key.Scopes, "revoke": upd.Revoke})

	return s.Get(ctx, id)
}

// Revoke is idempotent. It returns ErrNotFound for unknown ids.
func (s *Service) Revoke(ctx context.Context, id int64) (*models.APIKey, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.RevokedAt != nil {
		return key, nil
	}

	if _, err := s.store.Revoke(ctx, id); err != nil {
		return nil, fmt.Errorf("revoke api key: %w", err)
	}
	s.invalidate(id)
	s.log(ctx, "api_key.revoke", id, nil)

	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	s.invalidate(id)
	s.log(ctx, "api_key.delete", id, nil)
	return nil
}

func (s *Service) generateSecret() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if s.prefix == "" {
		return raw
	}
	return s.prefix + "-" + raw
}

func (s *Service) invalidate(id int64) {
	if s.authz != nil {
		s.authz.Invalidate(id)
	}
}

func (s *Service) log(ctx context.Context, action string, id int64, meta map[string]interface{}) {
	if s.audit != nil {
		s.audit.Log(ctx, action, "api_key", strconv.FormatInt(id, 10), meta)
	}
}
