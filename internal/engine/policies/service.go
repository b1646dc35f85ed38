package policies

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Store is the persistence needed for policy administration.
type Store interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id int64) (*Policy, error)
	List(ctx context.Context) ([]Policy, error)
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id int64) (bool, error)
}

type Auditor interface {
	Log(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{})
}

// Input is the body of a create or patch request. Nil fields are left
// unchanged on patch. Changing Scope replaces all three foreign keys with
// the ones supplied alongside it.
type Input struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Enabled     *bool           `json:"enabled"`
	Scope       *Scope          `json:"scope"`
	TeamID      *int64          `json:"team_id"`
	WorkspaceID *int64          `json:"workspace_id"`
	UserID      *int64          `json:"user_id"`
	Priority    *int            `json:"priority"`
	Rules       json.RawMessage `json:"rules"`
}

type Service struct {
	store    Store
	resolver *Resolver
	audit    Auditor
}

func NewService(store Store, resolver *Resolver, audit Auditor) *Service {
	return &Service{store: store, resolver: resolver, audit: audit}
}

func (s *Service) Create(ctx context.Context, in Input, createdBy *int64) (*Policy, error) {
	p := &Policy{Enabled: true, Priority: DefaultPriority, CreatedBy: createdBy}
	if in.Scope == nil {
		return nil, fmt.Errorf("%w: scope is required", ErrInvalid)
	}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create usage policy: %w", err)
	}
	s.log(ctx, "usage_policy.create", p)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Policy, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get usage policy: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]Policy, error) {
	ps, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list usage policies: %w", err)
	}
	return ps, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (*Policy, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update usage policy: %w", err)
	}
	s.log(ctx, "usage_policy.update", p)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete usage policy: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if s.audit != nil {
		s.audit.Log(ctx, "usage_policy.delete", "usage_policy", strconv.FormatInt(id, 10), nil)
	}
	return nil
}

// Effective previews the resolved set for a context.
func (s *Service) Effective(ctx context.Context, userID, workspaceID int64, teamIDs []int64) EffectiveSet {
	return s.resolver.Resolve(ctx, userID, workspaceID, teamIDs)
}

func apply(p *Policy, in Input) error {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Enabled != nil {
		p.Enabled = *in.Enabled
	}
	if in.Priority != nil {
		p.Priority = *in.Priority
	}
	if in.Scope != nil {
		p.Scope = Scope(strings.ToLower(string(*in.Scope)))
		p.TeamID, p.WorkspaceID, p.UserID = in.TeamID, in.WorkspaceID, in.UserID
	} else {
		if in.TeamID != nil {
			p.TeamID = in.TeamID
		}
		if in.WorkspaceID != nil {
			p.WorkspaceID = in.WorkspaceID
		}
		if in.UserID != nil {
			p.UserID = in.UserID
		}
	}
	if len(in.Rules) > 0 {
		rules, err := ValidateRules(in.Rules)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		p.Rules = rules
	}
	return nil
}

func (s *Service) log(ctx context.Context, action string, p *Policy) {
	if s.audit == nil {
		return
	}
	s.audit.Log(ctx, action, "usage_policy", strconv.FormatInt(p.ID, 10), map[string]interface{}{
		"name":     p.Name,
		"scope":    p.Scope,
		"priority": p.Priority,
		"enabled":  p.Enabled,
	})
}
