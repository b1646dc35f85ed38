package usage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"chatgate/internal/platform/config"
	"chatgate/internal/platform/database"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: database.DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

var quotaCfg = config.QuotaConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute}

func insertAt(t *testing.T, repo *Repository, at time.Time, raw RawEvent) {
	t.Helper()
	raw["occurredAt"] = at.UnixMilli()
	e := Sanitize(raw)
	require.NoError(t, repo.Insert(context.Background(), &e))
}

func TestStartOfUTCDay(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2026, 3, 9, 21, 30, 0, 0, est) // 02:30 UTC on the 10th

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), StartOfUTCDay(local))
}

func TestTrackerDailyWindow(t *testing.T) {
	repo := NewRepository(setupDB(t))
	midnight := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	insertAt(t, repo, midnight.Add(-time.Millisecond), RawEvent{"eventType": EventWorkspaceChat, "userId": 1, "workspaceId": 2, "totalTokens": 500})
	insertAt(t, repo, midnight.Add(time.Millisecond), RawEvent{"eventType": EventWorkspaceChat, "userId": 1, "workspaceId": 2, "totalTokens": 40})
	insertAt(t, repo, midnight.Add(time.Hour), RawEvent{"eventType": EventEmbedChat, "userId": 1, "workspaceId": 2, "promptTokens": 3, "completionTokens": 2})
	insertAt(t, repo, midnight.Add(time.Hour), RawEvent{"eventType": "document_upload", "userId": 1, "workspaceId": 2, "totalTokens": 1000})
	insertAt(t, repo, midnight.Add(time.Hour), RawEvent{"eventType": EventWorkspaceThreadChat, "userId": 7, "workspaceId": 2, "totalTokens": 11})
	insertAt(t, repo, midnight.Add(3*time.Hour), RawEvent{"eventType": EventWorkspaceChat, "userId": 1, "workspaceId": 2, "totalTokens": 9})

	now := midnight.Add(2 * time.Hour)
	tr := NewTracker(repo, quotaCfg, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	got := tr.DailyUsage(ctx, 1, 2, ChatEventTypes())
	assert.Equal(t, DailyUsage{ChatCount: 2, TotalTokens: 45}, got, "window is [UTC midnight, now]")

	ws := tr.DailyUsage(ctx, 0, 2, ChatEventTypes())
	assert.Equal(t, DailyUsage{ChatCount: 3, TotalTokens: 56}, ws, "absent user drops the user filter")

	// Two milliseconds apart, different windows.
	now = midnight.Add(-time.Millisecond)
	assert.Equal(t, int64(500), tr.TotalTokens(ctx, 1, 2, ChatEventTypes()))
	now = midnight.Add(time.Millisecond)
	assert.Equal(t, int64(40), tr.TotalTokens(ctx, 1, 2, ChatEventTypes()))
}

type failingAgg struct {
	calls atomic.Int32
}

func (f *failingAgg) Count(ctx context.Context, _ Filter) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("connection reset")
}

func (f *failingAgg) SumTokens(ctx context.Context, _ Filter) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("connection reset")
}

func TestTrackerFallsBackToZero(t *testing.T) {
	agg := &failingAgg{}
	tr := NewTracker(agg, quotaCfg)

	for i := 0; i < 10; i++ {
		assert.Equal(t, DailyUsage{}, tr.DailyUsage(context.Background(), 1, 1, ChatEventTypes()))
	}
	assert.Less(t, agg.calls.Load(), int32(20), "breaker should stop calling a failing store")
	assert.GreaterOrEqual(t, agg.calls.Load(), int32(5))
}

func TestTrackerQueryShape(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	repo := NewRepository(database.Wrap(sqlDB, database.DriverSQLite))
	tr := NewTracker(repo, quotaCfg, WithClock(func() time.Time { return now }))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM usage_events WHERE occurred_at >= \? AND occurred_at <= \? AND event_type IN \(\?, \?, \?\) AND workspace_id = \?`).
		WithArgs(start.UnixMilli(), now.UnixMilli(), EventWorkspaceChat, EventWorkspaceThreadChat, EventEmbedChat, int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	assert.Equal(t, int64(3), tr.ChatCount(context.Background(), -1, 4, ChatEventTypes()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerCanceledContext(t *testing.T) {
	agg := &fixedAgg{n: 10}
	tr := NewTracker(agg, quotaCfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(0), tr.ChatCount(ctx, 1, 1, ChatEventTypes()))
	}
	assert.Equal(t, int32(0), agg.calls.Load())

	assert.Equal(t, int64(10), tr.ChatCount(context.Background(), 2, 3, ChatEventTypes()),
		"canceled callers must not open the breaker for others")
}

func TestTrackerStoreTimeoutsDoNotTrip(t *testing.T) {
	agg := &fixedAgg{n: 10, err: fmt.Errorf("query: %w", context.DeadlineExceeded)}
	tr := NewTracker(agg, quotaCfg)

	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(0), tr.TotalTokens(context.Background(), 1, 1, ChatEventTypes()))
	}
	assert.Equal(t, int32(10), agg.calls.Load(), "breaker stays closed")

	agg.err = nil
	assert.Equal(t, int64(10), tr.TotalTokens(context.Background(), 2, 3, ChatEventTypes()))
}

func TestTrackerSaturatedTokens(t *testing.T) {
	repo := NewRepository(setupDB(t))
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		insertAt(t, repo, now.Add(-time.Minute), RawEvent{"eventType": EventWorkspaceChat, "userId": 1, "workspaceId": 2, "promptTokens": 1e30, "completionTokens": 1e30})
	}

	tr := NewTracker(repo, quotaCfg, WithClock(func() time.Time { return now }))
	assert.Equal(t, int64(3*MaxTokens), tr.TotalTokens(context.Background(), 1, 2, ChatEventTypes()))
}

type fixedAgg struct {
	n     int64
	err   error
	calls atomic.Int32
}

func (f *fixedAgg) Count(ctx context.Context, _ Filter) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func (f *fixedAgg) SumTokens(ctx context.Context, _ Filter) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}
