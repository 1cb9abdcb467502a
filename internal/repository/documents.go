package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

type DocumentRepository interface {
	Create(ctx context.Context, originalFilename, filePath string) (*entity.Document, error)
	Get(ctx context.Context, id int64) (*entity.Document, error)
	List(ctx context.Context, statuses ...constants.DocumentStatus) ([]*entity.Document, error)
	SetStatus(ctx context.Context, id int64, status constants.DocumentStatus) error
	SetExtraction(ctx context.Context, id int64, rawText string, ocrTier *int) error
	MarkLLMFailed(ctx context.Context, id int64, note string) error
	MarkError(ctx context.Context, id int64, message string) error
	Requeue(ctx context.Context, id int64) error
	SaveDraft(ctx context.Context, id int64, fields entity.DraftFields, entries []entity.DocumentEntry) error
	ListEntries(ctx context.Context, id int64) ([]entity.DocumentEntry, error)
	DeleteEntries(ctx context.Context, id int64) error
}

type documentRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepository{db: db, logger: logger}
}

var documentSelectColumns = []string{
	"id", "original_filename", "file_path", "status", "raw_extracted_text", "ocr_tier",
	"display_name", "supplier_name", "invoice_number", "invoice_date", "due_date",
	"total_amount", "gst_amount", "currency", "gst_number", "notes", "raw_llm_response",
	"error_message", "created_at", "updated_at",
}

func (r *documentRepository) Create(ctx context.Context, originalFilename, filePath string) (*entity.Document, error) {
	now := time.Now().UTC()
	q, args := r.db.builder().Insert(DocumentsTable.Name).
		Columns("original_filename", "file_path", "status", "created_at", "updated_at").
		Values(originalFilename, filePath, string(constants.StatusQueued), now, now).
		Returning("id").
		Query()

	var id int64
	if err := r.db.SQL.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		r.logger.Error("failed to create document", "file", originalFilename, "error", err)
		return nil, fmt.Errorf("%w: insert document: %v", common.ErrDatabase, err)
	}
	r.logger.Info("document registered", "document_id", id, "file", originalFilename)
	return &entity.Document{
		ID:               id,
		OriginalFilename: originalFilename,
		FilePath:         filePath,
		Status:           constants.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (r *documentRepository) Get(ctx context.Context, id int64) (*entity.Document, error) {
	q, args := r.db.builder().Select(documentSelectColumns...).
		From(entsql.Table(DocumentsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: get document: %v", common.ErrDatabase, err)
		}
		return nil, fmt.Errorf("document %d: %w", id, common.ErrNotFound)
	}
	return scanDocument(rows)
}

func (r *documentRepository) List(ctx context.Context, statuses ...constants.DocumentStatus) ([]*entity.Document, error) {
	sel := r.db.builder().Select(documentSelectColumns...).
		From(entsql.Table(DocumentsTable.Name)).
		OrderBy(entsql.Asc("id"))
	if len(statuses) > 0 {
		vals := make([]any, len(statuses))
		for i, s := range statuses {
			vals[i] = string(s)
		}
		sel = sel.Where(entsql.In("status", vals...))
	}
	q, args := sel.Query()

	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(rows *sql.Rows) (*entity.Document, error) {
	var (
		d                                                              entity.Document
		status                                                         string
		rawText, display, supplier, number, invDate, dueDate, currency sql.NullString
		gstNumber, notes, rawLLM, errMsg                               sql.NullString
		tier                                                           sql.NullInt64
		total, gst                                                     sql.NullFloat64
	)
	err := rows.Scan(
		&d.ID, &d.OriginalFilename, &d.FilePath, &status, &rawText, &tier,
		&display, &supplier, &number, &invDate, &dueDate,
		&total, &gst, &currency, &gstNumber, &notes, &rawLLM,
		&errMsg, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scan document: %v", common.ErrDatabase, err)
	}
	d.Status = constants.DocumentStatus(status)
	d.RawExtractedText = nullString(rawText)
	if tier.Valid {
		t := int(tier.Int64)
		d.OCRTier = &t
	}
	d.DisplayName = nullString(display)
	d.SupplierName = nullString(supplier)
	d.InvoiceNumber = nullString(number)
	d.InvoiceDate = nullString(invDate)
	d.DueDate = nullString(dueDate)
	d.TotalAmount = nullFloat(total)
	d.GSTAmount = nullFloat(gst)
	d.Currency = nullString(currency)
	d.GSTNumber = nullString(gstNumber)
	d.Notes = nullString(notes)
	d.RawLLMResponse = nullString(rawLLM)
	d.ErrorMessage = nullString(errMsg)
	return &d, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// update applies set to one document row and stamps updated_at.
func (r *documentRepository) update(ctx context.Context, exec execer, id int64, set func(*entsql.UpdateBuilder)) error {
	u := r.db.builder().Update(DocumentsTable.Name).Set("updated_at", time.Now().UTC())
	set(u)
	q, args := u.Where(entsql.EQ("id", id)).Query()
	res, err := exec.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: update document: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %d: %w", id, common.ErrNotFound)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *documentRepository) SetStatus(ctx context.Context, id int64, status constants.DocumentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", common.ErrInvalidInput, status)
	}
	return r.update(ctx, r.db.SQL, id, func(u *entsql.UpdateBuilder) {
		u.Set("status", string(status))
	})
}

func (r *documentRepository) SetExtraction(ctx context.Context, id int64, rawText string, ocrTier *int) error {
	return r.update(ctx, r.db.SQL, id, func(u *entsql.UpdateBuilder) {
		u.Set("raw_extracted_text", rawText)
		if ocrTier != nil {
			u.Set("ocr_tier", *ocrTier)
		} else {
			u.SetNull("ocr_tier")
		}
	})
}

func (r *documentRepository) MarkLLMFailed(ctx context.Context, id int64, note string) error {
	return r.update(ctx, r.db.SQL, id, func(u *entsql.UpdateBuilder) {
		u.Set("status", string(constants.StatusDraft)).
			Set("notes", note).
			SetNull("error_message")
	})
}

func (r *documentRepository) MarkError(ctx context.Context, id int64, message string) error {
	return r.update(ctx, r.db.SQL, id, func(u *entsql.UpdateBuilder) {
		u.Set("status", string(constants.StatusError)).
			Set("error_message", message)
	})
}

// extractedColumns are written by a successful extraction and cleared on requeue.
var extractedColumns = []string{
	"supplier_name", "invoice_number", "invoice_date", "due_date", "gst_number",
	"notes", "total_amount", "gst_amount", "raw_llm_response",
}

// Requeue puts a document back to queued and clears what the previous run
// extracted, so a failed rerun does not show stale fields.
func (r *documentRepository) Requeue(ctx context.Context, id int64) error {
	return r.update(ctx, r.db.SQL, id, func(u *entsql.UpdateBuilder) {
		u.Set("status", string(constants.StatusQueued)).
			Set("currency", constants.DefaultCurrency).
			SetNull("error_message")
		for _, c := range extractedColumns {
			u.SetNull(c)
		}
	})
}

// SaveDraft writes the extracted fields and replaces the entries in one transaction.
func (r *documentRepository) SaveDraft(ctx context.Context, id int64, f entity.DraftFields, entries []entity.DocumentEntry) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	currency := f.Currency
	if currency == "" {
		currency = constants.DefaultCurrency
	}
	err = r.update(ctx, tx, id, func(u *entsql.UpdateBuilder) {
		u.Set("display_name", f.DisplayName).
			Set("currency", currency).
			Set("raw_llm_response", f.RawLLMResponse).
			Set("status", string(constants.StatusDraft)).
			SetNull("error_message")
		setNullable(u, "supplier_name", f.SupplierName)
		setNullable(u, "invoice_number", f.InvoiceNumber)
		setNullable(u, "invoice_date", f.InvoiceDate)
		setNullable(u, "due_date", f.DueDate)
		setNullable(u, "gst_number", f.GSTNumber)
		setNullable(u, "notes", f.Notes)
		setNullable(u, "total_amount", f.TotalAmount)
		setNullable(u, "gst_amount", f.GSTAmount)
	})
	if err != nil {
		return err
	}

	if err := r.deleteEntries(ctx, tx, id); err != nil {
		return err
	}
	if len(entries) > 0 {
		ins := r.db.builder().Insert(DocumentEntriesTable.Name).
			Columns("document_id", "label", "amount", "entry_type", "attrs", "sort_order")
		for i, e := range entries {
			attrs, err := encodeAttrs(e.Attrs)
			if err != nil {
				return err
			}
			ins = ins.Values(id, e.Label, nullableValue(e.Amount), nullableValue(e.EntryType), attrs, i)
		}
		q, args := ins.Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%w: insert entries: %v", common.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	return nil
}

func setNullable[T any](u *entsql.UpdateBuilder, col string, v *T) {
	if v == nil {
		u.SetNull(col)
		return
	}
	u.Set(col, *v)
}

func nullableValue[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func encodeAttrs(a entity.Attrs) (any, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode attrs: %w", err)
	}
	return string(b), nil
}

func (r *documentRepository) ListEntries(ctx context.Context, id int64) ([]entity.DocumentEntry, error) {
	q, args := r.db.builder().
		Select("id", "document_id", "label", "amount", "entry_type", "attrs", "sort_order").
		From(entsql.Table(DocumentEntriesTable.Name)).
		Where(entsql.EQ("document_id", id)).
		OrderBy(entsql.Asc("sort_order")).
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.DocumentEntry
	for rows.Next() {
		var (
			e         entity.DocumentEntry
			amount    sql.NullFloat64
			entryType sql.NullString
			attrs     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Label, &amount, &entryType, &attrs, &e.SortOrder); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", common.ErrDatabase, err)
		}
		e.Amount = nullFloat(amount)
		e.EntryType = nullString(entryType)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &e.Attrs); err != nil {
				return nil, fmt.Errorf("decode attrs for entry %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *documentRepository) DeleteEntries(ctx context.Context, id int64) error {
	return r.deleteEntries(ctx, r.db.SQL, id)
}

func (r *documentRepository) deleteEntries(ctx context.Context, exec execer, id int64) error {
	q, args := r.db.builder().Delete(DocumentEntriesTable.Name).
		Where(entsql.EQ("document_id", id)).
		Query()
	if _, err := exec.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: delete entries: %v", common.ErrDatabase, err)
	}
	return nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
