package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"chatgate/internal/platform/config"
	"chatgate/internal/platform/database"
)

func TestLogAndList(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Driver: database.DriverSQLite, URL: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	l := NewLogger(db)
	l.async = false

	req := httptest.NewRequest("POST", "/api/v1/admin/api-keys", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("User-Agent", "cli/1.0")

	actorID, keyID := int64(7), int64(3)
	ctx := WithRequest(WithActor(context.Background(), &actorID, &keyID), req)
	l.Log(ctx, "api_key.create", "api_key", "3", map[string]interface{}{"name": "ci"})

	logs, err := l.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	got := logs[0]
	if got.Action != "api_key.create" || got.IPAddress != "10.0.0.1" || got.UserAgent != "cli/1.0" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.ActorID == nil || *got.ActorID != 7 || got.APIKeyID == nil || *got.APIKeyID != 3 {
		t.Errorf("unexpected attribution %+v", got)
	}
	if got.Metadata["name"] != "ci" {
		t.Errorf("unexpected metadata %v", got.Metadata)
	}
}
