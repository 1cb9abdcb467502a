// Package ingest registers incoming invoice files as documents and hands
// them to the pipeline. Files arrive from an inbox directory watcher, a
// Redis list, or a one-off directory walk.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

// Result is the per-file outcome of a registration.
type Result struct {
	SourcePath string
	StoredPath string
	DocumentID int64
	HashHex    string
	Err        string
}

// DirStats summarizes a directory registration.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// DocumentCreator inserts a queued document row.
type DocumentCreator interface {
	Create(ctx context.Context, originalFilename, filePath string) (*entity.Document, error)
}

type Enqueuer interface {
	Enqueue(job pipeline.Job) error
}
