package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const retryBatch = 100

// Maintainer is the part of the ticket service the worker drives.
type Maintainer interface {
	RetryPending(ctx context.Context, limit int) (int, error)
	CloseStaleResolved(ctx context.Context, olderThan time.Duration) (int, error)
}

// Worker periodically retries tickets waiting for assignment and closes resolved
// tickets nobody gave feedback on.
type Worker struct {
	svc       Maintainer
	interval  time.Duration
	autoClose time.Duration
	log       *zap.Logger
}

// NewWorker; autoClose <= 0 disables auto-closing.
func NewWorker(svc Maintainer, interval, autoClose time.Duration, log *zap.Logger) *Worker {
	return &Worker{svc: svc, interval: interval, autoClose: autoClose, log: log}
}

func (w *Worker) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one maintenance round.
func (w *Worker) Tick(ctx context.Context) {
	if _, err := w.svc.RetryPending(ctx, retryBatch); err != nil && ctx.Err() == nil {
		w.log.Warn("worker: retry pending", zap.Error(err))
	}
	if w.autoClose <= 0 {
		return
	}
	n, err := w.svc.CloseStaleResolved(ctx, w.autoClose)
	if err != nil && ctx.Err() == nil {
		w.log.Warn("worker: auto-close", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Info("worker: auto-closed resolved tickets", zap.Int("count", n))
	}
}
