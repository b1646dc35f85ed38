package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"chatgate/internal/platform/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type AuditLog struct {
	ID           string                 `json:"id"`
	ActorID      *int64                 `json:"actor_id,omitempty"`
	APIKeyID     *int64                 `json:"api_key_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	CreatedAt    int64                  `json:"created_at"`
}

type ctxKey int

const (
	actorKey ctxKey = iota
	requestKey
)

type actor struct {
	userID *int64
	keyID  *int64
}

// WithActor attributes audit entries written under ctx.
func WithActor(ctx context.Context, userID, apiKeyID *int64) context.Context {
	return context.WithValue(ctx, actorKey, actor{userID: userID, keyID: apiKeyID})
}

func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey, r)
}

type Logger struct {
	db    *database.DB
	async bool
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db, async: true}
}

func (l *Logger) Log(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &AuditLog{
		ID:           "audit_" + uuid.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    "unknown",
		UserAgent:    "unknown",
		CreatedAt:    time.Now().Unix(),
	}

	if a, ok := ctx.Value(actorKey).(actor); ok {
		entry.ActorID = a.userID
		entry.APIKeyID = a.keyID
	}
	if req, ok := ctx.Value(requestKey).(*http.Request); ok {
		entry.IPAddress = clientIP(req)
		entry.UserAgent = req.UserAgent()
	}

	if !l.async {
		l.insert(context.WithoutCancel(ctx), entry)
		return
	}
	go l.insert(context.WithoutCancel(ctx), entry)
}

func (l *Logger) insert(ctx context.Context, entry *AuditLog) {
	metaJSON, _ := json.Marshal(entry.Metadata)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, api_key_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ActorID, entry.APIKeyID, entry.Action, entry.ResourceType, entry.ResourceID, string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		log.Warn().Err(err).Str("action", entry.Action).Msg("failed to write audit log")
	}
}

// List returns the most recent entries, newest first.
func (l *Logger) List(ctx context.Context, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, actor_id, api_key_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var e AuditLog
		var actorID, keyID sql.NullInt64
		var metaStr, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &actorID, &keyID, &e.Action, &e.ResourceType, &e.ResourceID, &metaStr, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			e.ActorID = &actorID.Int64
		}
		if keyID.Valid {
			e.APIKeyID = &keyID.Int64
		}
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		json.Unmarshal([]byte(metaStr.String), &e.Metadata)
		logs = append(logs, &e)
	}
	return logs, rows.Err()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
