package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/render"
	"github.com/joseph-ayodele/invoice-pipeline/internal/settings"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

var cleanText = strings.Repeat("Mercury Energy tax invoice 2024-08-01 total $163.54 GST $21.33\n", 4)

type fakeWorker struct {
	mu       sync.Mutex
	calls    int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	idle     time.Duration
	shutdown bool
	delay    time.Duration
	handle   func(payload any) (worker.Result, error)
	requests []any
}

func (w *fakeWorker) Request(ctx context.Context, payload any, out any) error {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		m := w.maxSeen.Load()
		if n <= m || w.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	w.mu.Lock()
	w.calls++
	w.requests = append(w.requests, payload)
	w.mu.Unlock()
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	res, err := w.handle(payload)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(res)
	return json.Unmarshal(b, out)
}

func (w *fakeWorker) SetIdleTimeout(d time.Duration) {
	w.mu.Lock()
	w.idle = d
	w.mu.Unlock()
}

func (w *fakeWorker) Shutdown() {
	w.mu.Lock()
	w.shutdown = true
	w.mu.Unlock()
}

func (w *fakeWorker) Request0() worker.OCRRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests[0].(worker.OCRRequest)
}

func (w *fakeWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type fakeRenderer struct{ t *testing.T }

func (r fakeRenderer) Render(_ context.Context, _ string) (*render.Pages, error) {
	dir, err := os.MkdirTemp(r.t.TempDir(), "pages-")
	if err != nil {
		return nil, err
	}
	return &render.Pages{Dir: dir, Count: 1}, nil
}

type fakeExtractor struct {
	ext   llm.Extraction
	err   error
	gate  chan struct{}
	calls atomic.Int32
	live  atomic.Int32
	peak  atomic.Int32
}

func (e *fakeExtractor) Extract(ctx context.Context, req llm.ExtractRequest) (llm.Extraction, string, error) {
	e.calls.Add(1)
	n := e.live.Add(1)
	defer e.live.Add(-1)
	if n > e.peak.Load() {
		e.peak.Store(n)
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return llm.Extraction{}, "", ctx.Err()
		}
	}
	return e.ext, `{"messages":[]}`, e.err
}

type fakeVerifier struct {
	v     llm.Verification
	err   error
	calls atomic.Int32
}

func (f *fakeVerifier) Verify(context.Context, llm.Extraction, string) (llm.Verification, error) {
	f.calls.Add(1)
	return f.v, f.err
}

type memStore struct {
	mu       sync.Mutex
	docs     map[int64]*entity.Document
	entries  map[int64][]entity.DocumentEntry
	statuses map[int64][]constants.DocumentStatus
}

func newMemStore(paths ...string) *memStore {
	s := &memStore{
		docs:     map[int64]*entity.Document{},
		entries:  map[int64][]entity.DocumentEntry{},
		statuses: map[int64][]constants.DocumentStatus{},
	}
	for i, p := range paths {
		id := int64(i + 1)
		s.docs[id] = &entity.Document{ID: id, FilePath: p, Status: constants.StatusQueued}
	}
	return s
}

func (s *memStore) setStatusLocked(id int64, st constants.DocumentStatus) {
	s.docs[id].Status = st
	s.statuses[id] = append(s.statuses[id], st)
}

func (s *memStore) Get(_ context.Context, id int64) (*entity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) SetStatus(_ context.Context, id int64, st constants.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(id, st)
	return nil
}

func (s *memStore) SetExtraction(_ context.Context, id int64, raw string, tier *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].RawExtractedText = &raw
	s.docs[id].OCRTier = tier
	return nil
}

func (s *memStore) MarkLLMFailed(_ context.Context, id int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].Notes = &note
	s.setStatusLocked(id, constants.StatusDraft)
	return nil
}

func (s *memStore) MarkError(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].ErrorMessage = &msg
	s.setStatusLocked(id, constants.StatusError)
	return nil
}

func (s *memStore) Requeue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].ErrorMessage = nil
	s.setStatusLocked(id, constants.StatusQueued)
	return nil
}

func (s *memStore) SaveDraft(_ context.Context, id int64, f entity.DraftFields, entries []entity.DocumentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	d.DisplayName = &f.DisplayName
	d.SupplierName = f.SupplierName
	d.TotalAmount = f.TotalAmount
	d.Currency = &f.Currency
	d.Notes = f.Notes
	d.RawLLMResponse = &f.RawLLMResponse
	d.ErrorMessage = nil
	s.entries[id] = entries
	s.setStatusLocked(id, constants.StatusDraft)
	return nil
}

func (s *memStore) DeleteEntries(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *memStore) doc(id int64) entity.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[id]
}

func (s *memStore) entriesOf(id int64) []entity.DocumentEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id]
}

func (s *memStore) history(id int64) []constants.DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]constants.DocumentStatus(nil), s.statuses[id]...)
}

type countingNormalizer struct{ calls atomic.Int32 }

func (n *countingNormalizer) NormalizeEntries(_ context.Context, e []entity.DocumentEntry) []entity.DocumentEntry {
	n.calls.Add(1)
	return e
}

type harness struct {
	q     *Queue
	store *memStore
	text  *fakeWorker
	ocr   *fakeWorker
	llm   *fakeExtractor
	ver   *fakeVerifier
	norm  *countingNormalizer
}

func newHarness(t *testing.T, tier int, paths ...string) *harness {
	t.Helper()
	h := &harness{
		store: newMemStore(paths...),
		text: &fakeWorker{handle: func(any) (worker.Result, error) {
			return worker.Result{FullText: cleanText, Pages: []string{cleanText}, TotalPages: 1}, nil
		}},
		ocr: &fakeWorker{handle: func(any) (worker.Result, error) {
			return worker.Result{FullText: "scanned text", Pages: []string{"scanned text"}, TotalPages: 1, OCRTier: 2}, nil
		}},
		llm: &fakeExtractor{ext: llm.Extraction{
			SupplierName: ptr("Mercury"),
			InvoiceDate:  ptr("2024-08-01"),
			TotalAmount:  ptr(163.54),
			Entries: []llm.Entry{
				{Label: "Electricity", Amount: ptr(142.21), Type: "Electricity"},
				{Label: "GST", Amount: ptr(21.33), Type: "gst"},
				{Label: "  "},
			},
		}},
		ver:  &fakeVerifier{},
		norm: &countingNormalizer{},
	}
	h.q = New(Deps{
		TextWorker: h.text,
		OCRWorker:  h.ocr,
		Renderer:   fakeRenderer{t: t},
		Extractor:  h.llm,
		Verifier:   h.ver,
		Documents:  h.store,
		Normalizer: h.norm,
	}, settings.Concurrency{TierConcurrency: tier, WorkerIdleMinutes: 5})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.q.Shutdown(ctx)
	})
	return h
}

func (h *harness) enqueueAll(t *testing.T) {
	t.Helper()
	for id, d := range h.store.docs {
		require.NoError(t, h.q.Enqueue(Job{DocumentID: id, FilePath: d.FilePath}))
	}
}

func (h *harness) waitTerminal(t *testing.T, ids ...int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !h.store.doc(id).Status.Terminal() {
				return false
			}
		}
		return h.q.Stats().InFlight == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func ptr[T any](v T) *T { return &v }

func TestCleanPDFUsesTextLayer(t *testing.T) {
	h := newHarness(t, 2, "/in/power.pdf")
	h.enqueueAll(t)
	h.waitTerminal(t, 1)

	d := h.store.doc(1)
	assert.Equal(t, constants.StatusDraft, d.Status)
	require.NotNil(t, d.OCRTier)
	assert.Equal(t, constants.TierTextLayer, *d.OCRTier)
	assert.Equal(t, 0, h.ocr.Calls())
	assert.Equal(t, int32(0), h.ver.calls.Load())
	assert.Equal(t, "Mercury - 2024-08-01", *d.DisplayName)
	assert.Equal(t, "NZD", *d.Currency)
	assert.Equal(t, []constants.DocumentStatus{
		constants.StatusExtracting, constants.StatusProcessing, constants.StatusDraft,
	}, h.store.history(1))

	entries := h.store.entriesOf(1)
	require.Len(t, entries, 2)
	assert.Equal(t, "electricity", *entries[0].EntryType)
	assert.Equal(t, constants.EntryTax, *entries[1].EntryType)
	assert.Equal(t, 1, entries[1].SortOrder)
	assert.Equal(t, int32(1), h.norm.calls.Load())
}

func TestScannedPDFFallsBackToOCRAndVerifies(t *testing.T) {
	h := newHarness(t, 2, "/in/scan.pdf")
	h.text.handle = func(any) (worker.Result, error) {
		return worker.Result{FullText: "(cid:12)(cid:4) Total 163.54", TotalPages: 1}, nil
	}
	h.ver.v = llm.Verification{
		Corrected:   llm.Extraction{SupplierName: ptr("Mercury"), TotalAmount: ptr(163.54), Notes: ptr("Paid by direct debit")},
		Corrections: []string{"total 168.54 -> 163.54", "supplier spelling"},
	}
	h.enqueueAll(t)
	h.waitTerminal(t, 1)

	d := h.store.doc(1)
	assert.Equal(t, constants.StatusDraft, d.Status)
	assert.Equal(t, 2, *d.OCRTier)
	assert.Equal(t, 1, h.ocr.Calls())
	assert.Equal(t, int32(1), h.ver.calls.Load())
	assert.Equal(t, "Paid by direct debit\n\nOCR corrections applied: total 168.54 -> 163.54; supplier spelling", *d.Notes)
	assert.Contains(t, h.store.history(1), constants.StatusVerifying)

	req := h.ocr.Request0()
	assert.Contains(t, req.TextLayerRef, "(cid:")
}

func TestImageSkipsTextWorker(t *testing.T) {
	h := newHarness(t, 2, "/in/receipt.jpg")
	h.enqueueAll(t)
	h.waitTerminal(t, 1)

	assert.Equal(t, 0, h.text.Calls())
	assert.Equal(t, 1, h.ocr.Calls())
	req := h.ocr.Request0()
	assert.Empty(t, req.TextLayerRef)
}

func TestTextWorkerFailureFallsThroughToOCR(t *testing.T) {
	h := newHarness(t, 2, "/in/power.pdf")
	h.text.handle = func(any) (worker.Result, error) { return worker.Result{}, worker.ErrWorkerExited }
	h.enqueueAll(t)
	h.waitTerminal(t, 1)

	assert.Equal(t, constants.StatusDraft, h.store.doc(1).Status)
	assert.Equal(t, 1, h.ocr.Calls())
}

func TestLLMFailureLeavesDraftWithRawText(t *testing.T) {
	h := newHarness(t, 2, "/in/power.pdf")
	h.llm.err = errors.New("rate limited")
	h.enqueueAll(t)
	h.waitTerminal(t, 1)

	d := h.store.doc(1)
	assert.Equal(t, constants.StatusDraft, d.Status)
	assert.Nil(t, d.TotalAmount)
	require.NotNil(t, d.Notes)
	assert.Equal(t, "LLM extraction failed: rate limited. Raw text preserved.", *d.Notes)
	require.NotNil(t, d.RawExtractedText)
	assert.Equal(t, cleanText, *d.RawExtractedText)
}

func TestFailuresEndInErrorStatus(t *testing.T) {
	h := newHarness(t, 2, "/in/notes.docx", "/in/scan.png")
	h.ocr.handle = func(any) (worker.Result, error) {
		panic("tesseract exploded")
	}
	h.enqueueAll(t)
	h.waitTerminal(t, 1, 2)

	d1 := h.store.doc(1)
	assert.Equal(t, constants.StatusError, d1.Status)
	assert.Contains(t, *d1.ErrorMessage, "unsupported file type")

	d2 := h.store.doc(2)
	assert.Equal(t, constants.StatusError, d2.Status)
	assert.Contains(t, *d2.ErrorMessage, "panic: tesseract exploded")

	// the OCR permit was released despite the panic
	assert.Equal(t, 0, h.q.Stats().OCRInFlight)
}

func TestStatusesStayInKnownSet(t *testing.T) {
	h := newHarness(t, 3, "/in/a.pdf", "/in/b.png", "/in/c.txt")
	h.enqueueAll(t)
	h.waitTerminal(t, 1, 2, 3)
	for id := int64(1); id <= 3; id++ {
		for _, st := range h.store.history(id) {
			assert.True(t, st.Valid(), st)
		}
	}
}

func TestOCRIsSerialized(t *testing.T) {
	paths := []string{"/in/1.png", "/in/2.png", "/in/3.png", "/in/4.png"}
	h := newHarness(t, 4, paths...)
	h.ocr.delay = 20 * time.Millisecond
	h.enqueueAll(t)
	h.waitTerminal(t, 1, 2, 3, 4)

	assert.Equal(t, 4, h.ocr.Calls())
	assert.Equal(t, int32(1), h.ocr.maxSeen.Load())
}

func TestTierConcurrencyOfOneRunsOneJob(t *testing.T) {
	h := newHarness(t, 1, "/in/1.pdf", "/in/2.pdf", "/in/3.pdf")
	h.llm.gate = make(chan struct{})
	h.enqueueAll(t)

	require.Eventually(t, func() bool { return h.llm.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	st := h.q.Stats()
	assert.Equal(t, 1, st.InFlight)
	assert.Equal(t, int32(1), h.llm.calls.Load())

	for i := 0; i < 3; i++ {
		h.llm.gate <- struct{}{}
	}
	h.waitTerminal(t, 1, 2, 3)
	assert.Equal(t, int32(1), h.llm.peak.Load())
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, 2)
	tier, idle := 4, 12
	h.q.UpdateConfig(&tier, &idle)
	assert.Equal(t, 4, h.q.Stats().TierLimit)
	assert.Equal(t, 12*time.Minute, h.ocr.idle)
	assert.Equal(t, 12*time.Minute, h.text.idle)

	bad, badIdle := 9, 0
	h.q.UpdateConfig(&bad, &badIdle)
	assert.Equal(t, 4, h.q.Stats().TierLimit)
	assert.Equal(t, 12*time.Minute, h.ocr.idle)

	h.q.UpdateConfig(nil, nil)
	assert.Equal(t, 4, h.q.Stats().TierLimit)
}

func TestReprocessForcesTier(t *testing.T) {
	h := newHarness(t, 2, "/in/power.pdf")
	h.enqueueAll(t)
	h.waitTerminal(t, 1)
	require.Equal(t, constants.TierTextLayer, *h.store.doc(1).OCRTier)

	h.ocr.handle = func(any) (worker.Result, error) {
		return worker.Result{FullText: "deep text", TotalPages: 1, OCRTier: 3}, nil
	}
	require.NoError(t, h.q.Reprocess(context.Background(), 1, 3))
	require.Eventually(t, func() bool {
		d := h.store.doc(1)
		return d.Status == constants.StatusDraft && d.OCRTier != nil && *d.OCRTier == 3
	}, 5*time.Second, 5*time.Millisecond)

	req := h.ocr.Request0()
	assert.Equal(t, 3, req.ForceTier)
	assert.Empty(t, req.TextLayerRef)

	err := h.q.Reprocess(context.Background(), 1, 1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.ErrorIs(t, h.q.Reprocess(context.Background(), 99, 0), common.ErrNotFound)
}

func TestShutdownRejectsAndStopsWorkers(t *testing.T) {
	h := newHarness(t, 2, "/in/power.pdf")
	require.NoError(t, h.q.Shutdown(context.Background()))
	assert.ErrorIs(t, h.q.Enqueue(Job{DocumentID: 1, FilePath: "/in/power.pdf"}), ErrClosed)
	assert.True(t, h.text.shutdown)
	assert.True(t, h.ocr.shutdown)
}

func TestDisplayNameFallsBackToFilename(t *testing.T) {
	assert.Equal(t, "scan-0042", DisplayName(llm.Extraction{}, "scan-0042.pdf"))
	assert.Equal(t, "Acme - INV-7", DisplayName(llm.Extraction{SupplierName: ptr(" Acme "), InvoiceNumber: ptr("INV-7")}, "x.pdf"))
}
