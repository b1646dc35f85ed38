package usage

import (
	"context"
	"errors"
	"time"

	"chatgate/internal/pkg/logger"
	"chatgate/internal/pkg/metrics"
	"chatgate/internal/platform/config"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Aggregator is the read side of the usage store.
type Aggregator interface {
	Count(ctx context.Context, f Filter) (int64, error)
	SumTokens(ctx context.Context, f Filter) (int64, error)
}

type DailyUsage struct {
	ChatCount   int64 `json:"chat_count"`
	TotalTokens int64 `json:"total_tokens"`
}

// Tracker reads today's usage fresh on every call. It reserves nothing, so
// concurrent callers may all observe the same pre-increment totals; daily
// limits built on it are best effort.
type Tracker struct {
	agg     Aggregator
	breaker *gobreaker.CircuitBreaker[int64]
	now     func() time.Time
	log     zerolog.Logger
}

type TrackerOption func(*Tracker)

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(agg Aggregator, cfg config.QuotaConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		agg: agg,
		now: time.Now,
		log: logger.Component("usage"),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.breaker = gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "usage-aggregation",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		// A caller giving up says nothing about the store.
		IsSuccessful: func(err error) bool {
			return err == nil || isContextErr(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return t
}

// StartOfUTCDay truncates t to 00:00:00.000 UTC of its calendar day.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the filter for the current UTC day.
func (t *Tracker) Today(userID, workspaceID int64, eventTypes []string) Filter {
	now := t.now()
	return Filter{
		UserID:      userID,
		WorkspaceID: workspaceID,
		EventTypes:  eventTypes,
		From:        StartOfUTCDay(now),
		To:          now,
	}
}

// ChatCount returns today's event count, or zero when the store fails.
func (t *Tracker) ChatCount(ctx context.Context, userID, workspaceID int64, eventTypes []string) int64 {
	f := t.Today(userID, workspaceID, eventTypes)
	return t.read(ctx, "count", f, t.agg.Count)
}

// TotalTokens returns today's token sum, or zero when the store fails.
func (t *Tracker) TotalTokens(ctx context.Context, userID, workspaceID int64, eventTypes []string) int64 {
	f := t.Today(userID, workspaceID, eventTypes)
	return t.read(ctx, "sum", f, t.agg.SumTokens)
}

func (t *Tracker) DailyUsage(ctx context.Context, userID, workspaceID int64, eventTypes []string) DailyUsage {
	return DailyUsage{
		ChatCount:   t.ChatCount(ctx, userID, workspaceID, eventTypes),
		TotalTokens: t.TotalTokens(ctx, userID, workspaceID, eventTypes),
	}
}

func (t *Tracker) read(ctx context.Context, op string, f Filter, fn func(context.Context, Filter) (int64, error)) int64 {
	if ctx.Err() != nil {
		return 0
	}
	n, err := t.breaker.Execute(func() (int64, error) {
		return fn(ctx, f)
	})
	if isContextErr(err) {
		return 0
	}
	if err != nil {
		metrics.StoreFallbacks.WithLabelValues("usage").Inc()
		t.log.Warn().Err(err).
			Str("op", op).
			Int64("user_id", f.UserID).
			Int64("workspace_id", f.WorkspaceID).
			Msg("usage aggregation failed, treating as zero")
		return 0
	}
	return n
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
