package usage

import (
	"context"
	"fmt"
	"time"

	"chatgate/internal/pkg/metrics"
)

type Store interface {
	Aggregator
	Insert(ctx context.Context, e *Event) error
	CountByType(ctx context.Context, f Filter) ([]TypeTotal, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Attribution fills ids the payload leaves empty.
type Attribution struct {
	UserID   int64
	APIKeyID int64
}

type Report struct {
	Date        string      `json:"date"`
	ChatCount   int64       `json:"chat_count"`
	TotalTokens int64       `json:"total_tokens"`
	ByType      []TypeTotal `json:"by_type"`
}

type Service struct {
	store   Store
	tracker *Tracker
}

func NewService(store Store, tracker *Tracker) *Service {
	return &Service{store: store, tracker: tracker}
}

// Ingest sanitizes and appends one event. The calling key always wins for
// api_key_id; user_id falls back to the key owner.
func (s *Service) Ingest(ctx context.Context, raw RawEvent, by Attribution) (*Event, error) {
	e := Sanitize(raw)
	if by.APIKeyID > 0 {
		keyID := by.APIKeyID
		e.APIKeyID = &keyID
	}
	if e.UserID == nil && by.UserID > 0 {
		userID := by.UserID
		e.UserID = &userID
	}

	if err := s.store.Insert(ctx, &e); err != nil {
		return nil, fmt.Errorf("insert usage event: %w", err)
	}
	metrics.UsageEventsIngested.Inc()
	return &e, nil
}

// Daily reports today's chat totals for the filters with a breakdown of
// every event type.
func (s *Service) Daily(ctx context.Context, userID, workspaceID int64) (*Report, error) {
	f := s.tracker.Today(userID, workspaceID, nil)

	byType, err := s.store.CountByType(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("group usage events: %w", err)
	}

	usage := s.tracker.DailyUsage(ctx, userID, workspaceID, ChatEventTypes())
	return &Report{
		Date:        f.From.Format("2006-01-02"),
		ChatCount:   usage.ChatCount,
		TotalTokens: usage.TotalTokens,
		ByType:      byType,
	}, nil
}

// Prune removes events older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.tracker.now().Add(-retention)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune usage events: %w", err)
	}
	metrics.UsageEventsPruned.Add(float64(n))
	return n, nil
}
