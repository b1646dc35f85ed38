package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatgate/internal/pkg/logger"
)

type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionWorker deletes usage events older than the retention window.
type RetentionWorker struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
}

func NewRetentionWorker(pruner Pruner, retentionDays int, interval time.Duration) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		log:       logger.Component("retention"),
	}
}

// RunOnce prunes a single time. A non-positive retention keeps everything.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int64, error) {
	if w.retention <= 0 {
		return 0, nil
	}
	n, err := w.pruner.Prune(ctx, w.retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.log.Info().Int64("deleted", n).Dur("retention", w.retention).Msg("pruned usage events")
	}
	return n, nil
}

// Run prunes immediately and then on every interval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Error().Err(err).Msg("usage retention failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
