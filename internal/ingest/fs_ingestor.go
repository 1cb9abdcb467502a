package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

// Registrar copies a file into managed storage, records it as a queued
// document and enqueues it.
type Registrar struct {
	storageDir string
	docs       DocumentCreator
	queue      Enqueuer
	logger     *slog.Logger
}

func NewRegistrar(storageDir string, docs DocumentCreator, queue Enqueuer, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{storageDir: storageDir, docs: docs, queue: queue, logger: logger}
}

// Register ingests one file. The stored copy is named after its content
// hash so repeated drops of the same file share one copy on disk.
func (r *Registrar) Register(ctx context.Context, path string) (Result, error) {
	out := Result{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	if !Supported(abs) {
		return out, fmt.Errorf("%w: %s", common.ErrUnsupportedFile, filepath.Base(abs))
	}

	sum, err := hashFile(abs)
	if err != nil {
		return out, err
	}
	out.HashHex = hex.EncodeToString(sum)

	if err := os.MkdirAll(r.storageDir, 0o755); err != nil {
		return out, fmt.Errorf("create storage dir: %w", err)
	}
	stored := filepath.Join(r.storageDir, out.HashHex[:16]+"_"+filepath.Base(abs))
	if _, err := os.Stat(stored); os.IsNotExist(err) {
		if err := copyFile(abs, stored); err != nil {
			return out, err
		}
	}
	out.StoredPath = stored

	doc, err := r.docs.Create(ctx, filepath.Base(abs), stored)
	if err != nil {
		return out, fmt.Errorf("create document: %w", err)
	}
	out.DocumentID = doc.ID

	if err := r.queue.Enqueue(pipeline.Job{DocumentID: doc.ID, FilePath: stored}); err != nil {
		return out, fmt.Errorf("enqueue: %w", err)
	}
	r.logger.Info("ingest.registered", "document_id", doc.ID, "file", filepath.Base(abs), "hash", out.HashHex[:12])
	return out, nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	return h.Sum(nil), nil
}

// copyFile writes through a temp file and renames, so a crash never leaves
// a half-written document in storage.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".incoming-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
