package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"chatgate/internal/platform/database"
)

// Filter scopes an aggregation. Non-positive ids are absent and add no
// condition. An empty EventTypes matches every type.
type Filter struct {
	UserID      int64
	WorkspaceID int64
	EventTypes  []string
	From        time.Time
	To          time.Time
}

type TypeTotal struct {
	EventType   string `json:"event_type"`
	Count       int64  `json:"count"`
	TotalTokens int64  `json:"total_tokens"`
}

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, e *Event) error {
	if e.OccurredAt == 0 {
		e.OccurredAt = time.Now().UnixMilli()
	}

	var meta sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO usage_events (event_type, user_id, workspace_id, team_id, api_key_id, provider, model, prompt_tokens, completion_tokens, total_tokens, duration_ms, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, e.EventType, e.UserID, e.WorkspaceID, e.TeamID, e.APIKeyID, e.Provider, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.DurationMs, meta, e.OccurredAt).Scan(&e.ID)
}

func (r *Repository) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events WHERE `+where, args...).Scan(&n)
	return n, err
}

func (r *Repository) SumTokens(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT CAST(COALESCE(SUM(total_tokens), 0) AS BIGINT) FROM usage_events WHERE `+where, args...).Scan(&n)
	return n, err
}

// CountByType groups the filtered events by event type.
func (r *Repository) CountByType(ctx context.Context, f Filter) ([]TypeTotal, error) {
	where, args := f.where()
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*), CAST(COALESCE(SUM(total_tokens), 0) AS BIGINT)
		FROM usage_events WHERE `+where+`
		GROUP BY event_type ORDER BY event_type
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TypeTotal{}
	for rows.Next() {
		var t TypeTotal
		if err := rows.Scan(&t.EventType, &t.Count, &t.TotalTokens); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes events that occurred before cutoff.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_events WHERE occurred_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (f Filter) where() (string, []any) {
	conds := []string{"occurred_at >= ?", "occurred_at <= ?"}
	args := []any{f.From.UnixMilli(), f.To.UnixMilli()}

	if len(f.EventTypes) > 0 {
		conds = append(conds, "event_type IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(f.EventTypes)), ", ")+")")
		for _, t := range f.EventTypes {
			args = append(args, t)
		}
	}
	if f.UserID > 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.WorkspaceID > 0 {
		conds = append(conds, "workspace_id = ?")
		args = append(args, f.WorkspaceID)
	}
	return strings.Join(conds, " AND "), args
}
