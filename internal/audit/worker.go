package audit

import (
	"context"
	"log/slog"
)

// Worker drains the publisher's channel into the store. Persistence errors
// are logged and the worker keeps going; a broken sink must not stop the
// trail entirely.
type Worker struct {
	store  Store
	inbox  <-chan Record
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Record, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case rec := <-w.inbox:
			if err := w.store.Append(context.WithoutCancel(ctx), rec); err != nil {
				w.logger.Error("failed to append audit record", "action", rec.Action, "error", err)
			}
		}
	}
}

// drain flushes whatever is already buffered at shutdown.
func (w *Worker) drain() {
	for {
		select {
		case rec := <-w.inbox:
			if err := w.store.Append(context.Background(), rec); err != nil {
				w.logger.Error("failed to append audit record", "action", rec.Action, "error", err)
			}
		default:
			return
		}
	}
}
