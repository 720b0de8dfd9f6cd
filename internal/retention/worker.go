package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HistoryPruner trims the settings history table.
type HistoryPruner interface {
	PruneHistory(keep int) (int64, error)
}

// Worker periodically caps the history kept per setting key.
type Worker struct {
	store    HistoryPruner
	keep     int
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker that keeps the newest keep rows per key.
// If interval is <= 0, it defaults to 10 minutes.
func NewWorker(store HistoryPruner, keep int, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Worker{
		store:    store,
		keep:     keep,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run prunes once immediately and then on every interval until ctx is
// cancelled. A keep of 0 disables the worker.
func (w *Worker) Run(ctx context.Context) {
	if w.keep <= 0 {
		return
	}
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("history prune failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce performs a single prune and returns the number of rows removed.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := w.store.PruneHistory(w.keep)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	if n > 0 {
		w.logger.Debug("pruned settings history", "rows", n, "keep", w.keep)
	}
	return n, nil
}
