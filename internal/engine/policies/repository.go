package policies

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"chatgate/internal/platform/database"
)

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const policyColumns = `id, name, description, enabled, scope, team_id, workspace_id, user_id, priority, rules, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var teamID, workspaceID, userID, createdBy sql.NullInt64
	var description sql.NullString

	err := row.Scan(&p.ID, &p.Name, &description, &p.Enabled, &p.Scope, &teamID, &workspaceID, &userID, &p.Priority, &p.Rules, &createdBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.TeamID = nullInt(teamID)
	p.WorkspaceID = nullInt(workspaceID)
	p.UserID = nullInt(userID)
	p.CreatedBy = nullInt(createdBy)
	return &p, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// Applicable returns enabled policies matching c, ordered by priority
// descending then id ascending. Absent identifiers drop their clause.
func (r *Repository) Applicable(ctx context.Context, c Context) ([]Policy, error) {
	query, args := applicableQuery(c)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func applicableQuery(c Context) (string, []any) {
	args := []any{true, string(ScopeSystem)}
	clauses := []string{"scope = ?"}

	teams := positiveIDs(c.TeamIDs)
	if len(teams) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(teams)), ", ")
		clauses = append(clauses, "(scope = ? AND team_id IN ("+marks+"))")
		args = append(args, string(ScopeTeam))
		for _, id := range teams {
			args = append(args, id)
		}
	}
	if c.WorkspaceID > 0 {
		clauses = append(clauses, "(scope = ? AND workspace_id = ?)")
		args = append(args, string(ScopeWorkspace), c.WorkspaceID)
	}
	if c.UserID > 0 {
		clauses = append(clauses, "(scope = ? AND user_id = ?)")
		args = append(args, string(ScopeUser), c.UserID)
	}

	query := `SELECT ` + policyColumns + ` FROM usage_policies
		WHERE enabled = ? AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY priority DESC, id ASC`
	return query, args
}

func positiveIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (r *Repository) Create(ctx context.Context, p *Policy) error {
	now := time.Now().Unix()
	p.CreatedAt = now
	p.UpdatedAt = now

	return r.db.QueryRowContext(ctx, `
		INSERT INTO usage_policies (name, description, enabled, scope, team_id, workspace_id, user_id, priority, rules, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, p.Name, p.Description, p.Enabled, string(p.Scope), p.TeamID, p.WorkspaceID, p.UserID, p.Priority, p.Rules, p.CreatedBy, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Policy, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM usage_policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *Repository) List(ctx context.Context) ([]Policy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM usage_policies ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repository) Update(ctx context.Context, p *Policy) error {
	p.UpdatedAt = time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		UPDATE usage_policies
		SET name = ?, description = ?, enabled = ?, scope = ?, team_id = ?, workspace_id = ?, user_id = ?, priority = ?, rules = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Description, p.Enabled, string(p.Scope), p.TeamID, p.WorkspaceID, p.UserID, p.Priority, p.Rules, p.UpdatedAt, p.ID)
	return err
}

func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_policies WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
