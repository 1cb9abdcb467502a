// Package pipeline runs ingested documents through text extraction, OCR
// fallback, LLM extraction, verification and normalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/render"
	"github.com/joseph-ayodele/invoice-pipeline/internal/semaphore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/settings"
)

var (
	ErrClosed = errors.New("pipeline queue is shut down")
	ErrBusy   = errors.New("document is already being processed")
)

// Job is one document waiting for processing.
type Job struct {
	DocumentID int64
	FilePath   string
	// ForceTier skips text-layer acceptance and asks the OCR worker for a
	// specific tier (2 or 3). Zero means automatic.
	ForceTier int
	Reprocess bool
}

// Worker is a persistent helper process answering one request at a time.
type Worker interface {
	Request(ctx context.Context, payload any, out any) error
	SetIdleTimeout(d time.Duration)
	Shutdown()
}

type Renderer interface {
	Render(ctx context.Context, path string) (*render.Pages, error)
}

// DocumentStore is the persistence the pipeline needs.
type DocumentStore interface {
	Get(ctx context.Context, id int64) (*entity.Document, error)
	SetStatus(ctx context.Context, id int64, status constants.DocumentStatus) error
	SetExtraction(ctx context.Context, id int64, rawText string, ocrTier *int) error
	MarkLLMFailed(ctx context.Context, id int64, note string) error
	MarkError(ctx context.Context, id int64, message string) error
	Requeue(ctx context.Context, id int64) error
	SaveDraft(ctx context.Context, id int64, fields entity.DraftFields, entries []entity.DocumentEntry) error
	DeleteEntries(ctx context.Context, id int64) error
}

type Normalizer interface {
	NormalizeEntries(ctx context.Context, entries []entity.DocumentEntry) []entity.DocumentEntry
}

// Deps are the collaborators of a Queue. Verifier may be nil, in which case
// OCR-derived extractions are saved unverified.
type Deps struct {
	TextWorker Worker
	OCRWorker  Worker
	Renderer   Renderer
	Extractor  llm.Extractor
	Verifier   llm.Verifier
	Documents  DocumentStore
	Normalizer Normalizer
	Logger     *slog.Logger
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued      int
	InFlight    int
	OCRInFlight int
	TierLimit   int
}

type Option func(*Queue)

// WithJobTimeout bounds a single job. Zero leaves jobs unbounded.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.jobTimeout = d
		}
	}
}

// Queue is an unbounded FIFO of jobs drained by a single dispatcher. At most
// TierConcurrency jobs run at once and at most one of them holds OCR.
type Queue struct {
	deps       Deps
	logger     *slog.Logger
	tier       *semaphore.Semaphore
	ocr        *semaphore.Semaphore
	jobTimeout time.Duration

	// runCtx is cancelled only when Shutdown gives up waiting.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu         sync.Mutex
	pending    []Job
	active     map[int64]struct{}
	processing bool
	closed     bool

	dispatchWG sync.WaitGroup
	jobs       sync.WaitGroup
}

func New(deps Deps, conc settings.Concurrency, opts ...Option) *Queue {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if !settings.ValidTier(conc.TierConcurrency) {
		conc.TierConcurrency = settings.DefaultTierConcurrency
	}
	runCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		deps:      deps,
		logger:    deps.Logger,
		tier:      semaphore.New(conc.TierConcurrency),
		ocr:       semaphore.New(1),
		runCtx:    runCtx,
		cancelRun: cancel,
		active:    make(map[int64]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if settings.ValidIdleMinutes(conc.WorkerIdleMinutes) {
		q.setIdle(conc.WorkerIdleMinutes)
	}
	return q
}

// Enqueue appends job and returns immediately. A job for a document that is
// already queued or running is dropped.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("pipeline.enqueue.closed", "document_id", job.DocumentID)
		return ErrClosed
	}
	if q.knownLocked(job.DocumentID) {
		q.logger.Info("pipeline.enqueue.duplicate", "document_id", job.DocumentID)
		return nil
	}
	q.pending = append(q.pending, job)
	q.logger.Info("pipeline.enqueued", "document_id", job.DocumentID, "queued", len(q.pending), "force_tier", job.ForceTier)
	if !q.processing {
		q.processing = true
		q.dispatchWG.Add(1)
		go q.dispatch()
	}
	return nil
}

func (q *Queue) knownLocked(id int64) bool {
	if _, ok := q.active[id]; ok {
		return true
	}
	for _, j := range q.pending {
		if j.DocumentID == id {
			return true
		}
	}
	return false
}

// dispatch pops jobs in order and starts each once a tier permit is held.
// It exits when the queue drains; the next Enqueue starts a new one.
func (q *Queue) dispatch() {
	defer q.dispatchWG.Done()
	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.active[job.DocumentID] = struct{}{}
		q.mu.Unlock()

		if err := q.tier.Acquire(q.runCtx); err != nil {
			q.finish(job.DocumentID)
			q.logger.Warn("pipeline.dispatch.stopped", "document_id", job.DocumentID, "error", err)
			q.mu.Lock()
			q.processing = false
			q.mu.Unlock()
			return
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.tier.Release()
			q.finish(job.DocumentID)
			q.mu.Lock()
			q.processing = false
			q.mu.Unlock()
			return
		}
		q.jobs.Add(1)
		go func(job Job) {
			defer q.jobs.Done()
			defer q.tier.Release()
			defer q.finish(job.DocumentID)
			q.processJob(job)
		}(job)
	}
}

func (q *Queue) finish(id int64) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}

// processJob never lets a failure escape: errors and panics end in the
// error status.
func (q *Queue) processJob(job Job) {
	ctx := q.runCtx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	logger := q.logger.With("document_id", job.DocumentID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			q.fail(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := q.run(ctx, job, logger); err != nil {
		q.fail(ctx, job, err)
		return
	}
	logger.Info("pipeline.job.done", "elapsed", time.Since(start).Round(time.Millisecond).String())
}

func (q *Queue) fail(ctx context.Context, job Job, err error) {
	q.logger.Error("pipeline.job.failed", "document_id", job.DocumentID, "err", err)
	if mErr := q.deps.Documents.MarkError(context.WithoutCancel(ctx), job.DocumentID, err.Error()); mErr != nil {
		q.logger.Error("pipeline.mark_error.failed", "document_id", job.DocumentID, "err", mErr)
	}
}

// Reprocess clears a document's entries and runs it again. tier 0 picks the
// tier automatically; 2 or 3 forces OCR at that tier.
func (q *Queue) Reprocess(ctx context.Context, documentID int64, tier int) error {
	if tier != 0 && tier != constants.TierOCR && tier != constants.TierOCRDeep {
		return fmt.Errorf("%w: force tier must be %d or %d, got %d", common.ErrInvalidInput, constants.TierOCR, constants.TierOCRDeep, tier)
	}
	q.mu.Lock()
	busy := q.knownLocked(documentID)
	q.mu.Unlock()
	if busy {
		return ErrBusy
	}

	doc, err := q.deps.Documents.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err := q.deps.Documents.DeleteEntries(ctx, documentID); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if err := q.deps.Documents.Requeue(ctx, documentID); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return q.Enqueue(Job{DocumentID: doc.ID, FilePath: doc.FilePath, ForceTier: tier, Reprocess: true})
}

// UpdateConfig applies new limits. Nil or out-of-range values are ignored.
func (q *Queue) UpdateConfig(tierConcurrency, workerIdleMinutes *int) {
	if tierConcurrency != nil {
		if settings.ValidTier(*tierConcurrency) {
			if q.tier.Max() != *tierConcurrency {
				q.logger.Info("pipeline.tier_concurrency.updated", "from", q.tier.Max(), "to", *tierConcurrency)
				q.tier.UpdatePermits(*tierConcurrency)
			}
		} else {
			q.logger.Warn("pipeline.tier_concurrency.ignored", "value", *tierConcurrency)
		}
	}
	if workerIdleMinutes != nil {
		if settings.ValidIdleMinutes(*workerIdleMinutes) {
			q.setIdle(*workerIdleMinutes)
		} else {
			q.logger.Warn("pipeline.worker_idle.ignored", "value", *workerIdleMinutes)
		}
	}
}

func (q *Queue) setIdle(minutes int) {
	d := time.Duration(minutes) * time.Minute
	for _, w := range []Worker{q.deps.TextWorker, q.deps.OCRWorker} {
		if w != nil {
			w.SetIdleTimeout(d)
		}
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	queued := len(q.pending)
	q.mu.Unlock()
	return Stats{
		Queued:      queued,
		InFlight:    q.tier.InFlight(),
		OCRInFlight: q.ocr.InFlight(),
		TierLimit:   q.tier.Max(),
	}
}

// Shutdown stops accepting jobs and waits for running ones until ctx is
// done, then cancels whatever is left and stops both workers. Jobs still
// pending stay queued in the store.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.dispatchWG.Wait()
		q.jobs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		q.logger.Info("pipeline.shutdown.drained", "dropped", dropped)
	case <-ctx.Done():
		q.logger.Warn("pipeline.shutdown.interrupted", "dropped", dropped)
		q.cancelRun()
		<-done
		err = ctx.Err()
	}
	q.cancelRun()
	for _, w := range []Worker{q.deps.TextWorker, q.deps.OCRWorker} {
		if w != nil {
			w.Shutdown()
		}
	}
	return err
}
