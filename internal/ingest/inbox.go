package ingest

import (
	"context"
	"log/slog"
	"os"
)

// ServeInbox registers every path the watcher emits until events closes.
// With removeSource set, a file is deleted from the inbox once its stored
// copy is registered.
func ServeInbox(ctx context.Context, events <-chan string, errs <-chan error, reg *Registrar, removeSource bool, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for events != nil || errs != nil {
		select {
		case path, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if _, err := os.Stat(path); err != nil {
				// renamed away or already consumed
				continue
			}
			res, err := reg.Register(ctx, path)
			if err != nil {
				logger.Error("ingest.inbox.register_failed", "path", path, "error", err)
				continue
			}
			if removeSource {
				if err := os.Remove(path); err != nil {
					logger.Warn("ingest.inbox.remove_failed", "path", path, "error", err)
				}
			}
			logger.Debug("ingest.inbox.done", "path", path, "document_id", res.DocumentID)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("ingest.inbox.watch_error", "error", err)
		}
	}
}
