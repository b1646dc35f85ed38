package policies

import (
	"errors"
	"fmt"
	"strings"
)

type Scope string

const (
	ScopeSystem    Scope = "system"
	ScopeTeam      Scope = "team"
	ScopeWorkspace Scope = "workspace"
	ScopeUser      Scope = "user"
)

const DefaultPriority = 100

var (
	ErrInvalid  = errors.New("invalid usage policy")
	ErrNotFound = errors.New("usage policy not found")
)

type Policy struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Scope       Scope  `json:"scope"`
	TeamID      *int64 `json:"team_id,omitempty"`
	WorkspaceID *int64 `json:"workspace_id,omitempty"`
	UserID      *int64 `json:"user_id,omitempty"`
	Priority    int    `json:"priority"`
	Rules       Rules  `json:"rules"`
	CreatedBy   *int64 `json:"created_by,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Context identifies who a chat is for. Non-positive ids are absent.
type Context struct {
	UserID      int64
	WorkspaceID int64
	TeamIDs     []int64
}

// Validate checks that exactly the foreign key matching Scope is set.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}

	set := func(v *int64) bool { return v != nil && *v > 0 }
	team, ws, user := set(p.TeamID), set(p.WorkspaceID), set(p.UserID)

	switch p.Scope {
	case ScopeSystem:
		if team || ws || user {
			return fmt.Errorf("%w: system policies take no team, workspace or user", ErrInvalid)
		}
	case ScopeTeam:
		if !team || ws || user {
			return fmt.Errorf("%w: team policies require only team_id", ErrInvalid)
		}
	case ScopeWorkspace:
		if !ws || team || user {
			return fmt.Errorf("%w: workspace policies require only workspace_id", ErrInvalid)
		}
	case ScopeUser:
		if !user || team || ws {
			return fmt.Errorf("%w: user policies require only user_id", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalid, p.Scope)
	}
	return nil
}
