package watcher

import (
	"context"
	"log/slog"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// Handler applies file changes to an index.
type Handler interface {
	Upsert(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

// Flusher is implemented by handlers that persist once per batch.
type Flusher interface {
	Flush(ctx context.Context) error
}

// BatchResult counts what Apply did with one batch.
type BatchResult struct {
	Upserted int
	Removed  int
	Failed   int
}

// Apply hands each event to h. A failing file is logged and counted but
// does not stop the batch.
func Apply(ctx context.Context, events []FileEvent, h Handler, logger *slog.Logger) BatchResult {
	if logger == nil {
		logger = logging.Discard()
	}
	var res BatchResult
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		var err error
		switch ev.Operation {
		case OpCreate, OpModify:
			if err = h.Upsert(ctx, ev.Path); err == nil {
				res.Upserted++
			}
		case OpDelete:
			if err = h.Remove(ctx, ev.Path); err == nil {
				res.Removed++
			}
		default:
			continue
		}
		if err != nil {
			res.Failed++
			logger.Warn("watch_apply_failed",
				append([]any{slog.String("path", ev.Path), slog.String("op", ev.Operation.String())},
					apperrors.LogAttrs(err)...)...)
		}
	}
	if f, ok := h.(Flusher); ok && res.Upserted+res.Removed > 0 {
		if err := f.Flush(ctx); err != nil {
			logger.Warn("watch_flush_failed", apperrors.LogAttrs(err)...)
		}
	}
	return res
}

// Serve applies batches from w until ctx ends or w stops. Watcher errors
// are logged. The optional onBatch callback sees every applied batch.
func Serve(ctx context.Context, w Watcher, h Handler, logger *slog.Logger, onBatch func([]FileEvent, BatchResult)) error {
	if logger == nil {
		logger = logging.Discard()
	}
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			res := Apply(ctx, batch, h, logger)
			logger.Info("watch_batch",
				slog.Int("events", len(batch)),
				slog.Int("upserted", res.Upserted),
				slog.Int("removed", res.Removed),
				slog.Int("failed", res.Failed))
			if onBatch != nil {
				onBatch(batch, res)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
