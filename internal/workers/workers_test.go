package workers

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePruner struct {
	calls     int
	retention time.Duration
	n         int64
	err       error
}

func (f *fakePruner) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	f.calls++
	f.retention = retention
	return f.n, f.err
}

func TestRetentionWorkerRunOnce(t *testing.T) {
	p := &fakePruner{n: 3}
	w := NewRetentionWorker(p, 30, time.Minute)

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}
	if p.retention != 30*24*time.Hour {
		t.Errorf("expected 30 day retention, got %v", p.retention)
	}
}

func TestRetentionWorkerDisabled(t *testing.T) {
	p := &fakePruner{}
	w := NewRetentionWorker(p, 0, time.Minute)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if p.calls != 0 {
		t.Errorf("expected no prune with zero retention, got %d calls", p.calls)
	}
}

func TestRetentionWorkerError(t *testing.T) {
	p := &fakePruner{err: errors.New("db down")}
	w := NewRetentionWorker(p, 7, time.Minute)

	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Error("expected prune error to surface")
	}
}

func TestRetentionWorkerRunStops(t *testing.T) {
	p := &fakePruner{}
	w := NewRetentionWorker(p, 7, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.calls != 1 {
		t.Errorf("expected one prune before stopping, got %d", p.calls)
	}
}
