package database

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		query  string
		want   string
	}{
		{
			name:   "sqlite untouched",
			driver: DriverSQLite,
			query:  "SELECT id FROM api_keys WHERE key_hash = ? AND id = ?",
			want:   "SELECT id FROM api_keys WHERE key_hash = ? AND id = ?",
		},
		{
			name:   "postgres numbered",
			driver: DriverPostgres,
			query:  "SELECT id FROM api_keys WHERE key_hash = ? AND id = ?",
			want:   "SELECT id FROM api_keys WHERE key_hash = $1 AND id = $2",
		},
		{
			name:   "quoted question mark kept",
			driver: DriverPostgres,
			query:  "SELECT '?' FROM t WHERE a = ?",
			want:   "SELECT '?' FROM t WHERE a = $1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := Wrap(nil, tt.driver)
			if got := db.Rebind(tt.query); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("expected postgres unique violation to be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation should not be reported as unique")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error should not be reported as unique")
	}
}
