package repositories

import (
	"context"
	"reflect"
	"testing"
	"time"

	"chatgate/internal/platform/config"
	"chatgate/internal/platform/database"
	"chatgate/internal/platform/models"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: database.DriverSQLite, URL: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAPIKeyRepositoryLifecycle(t *testing.T) {
	db := setupDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	key := &models.APIKey{Secret: "cg-secret-1", Name: "ci", Scopes: []string{"workspace:chat", " workspace:chat"}}
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if key.ID <= 0 {
		t.Fatalf("expected generated id, got %d", key.ID)
	}

	got, err := repo.GetBySecret(ctx, "cg-secret-1")
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}
	if got == nil || got.ID != key.ID {
		t.Fatalf("expected key %d, got %+v", key.ID, got)
	}
	if got.Secret != "" || got.KeyHash != models.HashSecret("cg-secret-1") || got.KeyPrefix != "cg-secre" {
		t.Errorf("expected hashed record with prefix, got %+v", got)
	}
	var plaintext int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE key_hash = ? OR key_prefix = ?`, "cg-secret-1", "cg-secret-1").Scan(&plaintext); err != nil || plaintext != 0 {
		t.Errorf("secret must not be stored in clear, found %d (%v)", plaintext, err)
	}
	if !reflect.DeepEqual(got.Scopes, []string{"workspace:chat"}) {
		t.Errorf("unexpected scopes %v", got.Scopes)
	}
	if got.RevokedAt != nil || got.ExpiresAt != nil {
		t.Errorf("expected no revoke/expiry, got %+v", got)
	}

	missing, err := repo.GetBySecret(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown secret, got %+v, %v", missing, err)
	}

	exp := time.Now().Add(time.Hour).Unix()
	got.Name = "ci-renamed"
	got.ExpiresAt = &exp
	got.Scopes = nil
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, _ := repo.GetByID(ctx, key.ID)
	if updated.Name != "ci-renamed" || updated.ExpiresAt == nil || *updated.ExpiresAt != exp {
		t.Errorf("update not persisted: %+v", updated)
	}
	if !reflect.DeepEqual(updated.Scopes, []string{"*"}) {
		t.Errorf("empty scopes should default to wildcard, got %v", updated.Scopes)
	}

	ok, err := repo.Revoke(ctx, key.ID)
	if err != nil || !ok {
		t.Fatalf("Revoke: %v %v", ok, err)
	}
	ok, _ = repo.Revoke(ctx, key.ID)
	if ok {
		t.Error("second revoke should report false")
	}

	if err := repo.UpdateLastUsed(ctx, key.ID, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("UpdateLastUsed: %v", err)
	}
	revoked, _ := repo.GetByID(ctx, key.ID)
	if revoked.RevokedAt == nil {
		t.Error("expected revoked_at set")
	}
	if revoked.LastUsedAt == nil || *revoked.LastUsedAt != 1700000000 {
		t.Errorf("unexpected last_used_at %v", revoked.LastUsedAt)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v %d", err, len(list))
	}

	ok, err = repo.Delete(ctx, key.ID)
	if err != nil || !ok {
		t.Fatalf("Delete: %v %v", ok, err)
	}
	if gone, _ := repo.GetByID(ctx, key.ID); gone != nil {
		t.Error("expected key deleted")
	}
}

func TestAPIKeyRepositoryDuplicateSecret(t *testing.T) {
	db := setupDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &models.APIKey{Secret: "dup"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repo.Create(ctx, &models.APIKey{Secret: "dup"})
	if !database.IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}

func TestMembershipAndFlags(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	members := NewMembershipRepository(db)
	for _, team := range []int64{7, 3} {
		if err := members.AddMember(ctx, team, 42); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}
	ids, err := members.TeamIDsForUser(ctx, 42)
	if err != nil {
		t.Fatalf("TeamIDsForUser: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{3, 7}) {
		t.Errorf("expected [3 7], got %v", ids)
	}
	none, _ := members.TeamIDsForUser(ctx, 1)
	if len(none) != 0 {
		t.Errorf("expected no teams, got %v", none)
	}

	flags := NewFeatureFlagRepository(db)
	if err := flags.Set(ctx, "enterprise_usage_policies", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := flags.Set(ctx, "enterprise_usage_policies", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := flags.FeatureFlags(ctx)
	if err != nil {
		t.Fatalf("FeatureFlags: %v", err)
	}
	if v, ok := got["enterprise_usage_policies"]; !ok || v {
		t.Errorf("expected flag present and false, got %v %v", v, ok)
	}
}

func TestWorkspaceAndUser(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	workspaces := NewWorkspaceRepository(db)
	ws := &models.Workspace{Slug: "support", Name: "Support", ChatProvider: "openai"}
	if err := workspaces.Create(ctx, ws); err != nil {
		t.Fatalf("Create workspace: %v", err)
	}
	got, err := workspaces.GetBySlug(ctx, "support")
	if err != nil || got == nil {
		t.Fatalf("GetBySlug: %v %v", got, err)
	}
	if got.ID != ws.ID || got.ChatProvider != "openai" || got.ChatModel != "" {
		t.Errorf("unexpected workspace %+v", got)
	}
	if missing, _ := workspaces.GetBySlug(ctx, "nope"); missing != nil {
		t.Error("expected nil for unknown slug")
	}

	users := NewUserRepository(db)
	u := &models.User{Email: "admin@example.com", PasswordHash: "x", Role: models.RoleAdmin}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	byEmail, err := users.GetByEmail(ctx, "admin@example.com")
	if err != nil || byEmail == nil || byEmail.ID != u.ID {
		t.Fatalf("GetByEmail: %+v %v", byEmail, err)
	}
	byID, _ := users.GetByID(ctx, u.ID)
	if byID == nil || byID.Role != models.RoleAdmin {
		t.Errorf("unexpected user %+v", byID)
	}
}
