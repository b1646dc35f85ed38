package repositories

import (
	"context"
	"database/sql"
	"time"

	"chatgate/internal/platform/database"
	"chatgate/internal/platform/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	if user.Role == "" {
		user.Role = models.RoleDefault
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, user.Email, user.PasswordHash, user.Role, user.CreatedAt).Scan(&user.ID)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

type WorkspaceRepository struct {
	db *database.DB
}

func NewWorkspaceRepository(db *database.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) Create(ctx context.Context, ws *models.Workspace) error {
	if ws.CreatedAt == 0 {
		ws.CreatedAt = time.Now().Unix()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO workspaces (slug, name, chat_provider, chat_model, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, ws.Slug, ws.Name, nullString(ws.ChatProvider), nullString(ws.ChatModel), ws.CreatedAt).Scan(&ws.ID)
}

func (r *WorkspaceRepository) GetBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	ws := &models.Workspace{}
	var provider, model sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, chat_provider, chat_model, created_at FROM workspaces WHERE slug = ?
	`, slug).Scan(&ws.ID, &ws.Slug, &ws.Name, &provider, &model, &ws.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ws.ChatProvider = provider.String
	ws.ChatModel = model.String
	return ws, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type MembershipRepository struct {
	db *database.DB
}

func NewMembershipRepository(db *database.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) AddMember(ctx context.Context, teamID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO team_members (team_id, user_id) VALUES (?, ?)`, teamID, userID)
	return err
}

// TeamIDsForUser returns the user's team ids in ascending order.
func (r *MembershipRepository) TeamIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT team_id FROM team_members WHERE user_id = ? ORDER BY team_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type FeatureFlagRepository struct {
	db *database.DB
}

func NewFeatureFlagRepository(db *database.DB) *FeatureFlagRepository {
	return &FeatureFlagRepository{db: db}
}

func (r *FeatureFlagRepository) FeatureFlags(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, enabled FROM feature_flags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		flags[name] = enabled
	}
	return flags, rows.Err()
}

// Set upserts a flag.
func (r *FeatureFlagRepository) Set(ctx context.Context, name string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, enabled) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET enabled = excluded.enabled
	`, name, enabled)
	return err
}
