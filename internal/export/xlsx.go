// Package export renders draft documents as XLSX workbooks, one sheet per
// document.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

const (
	maxColWidth = 40
	minColWidth = 10
)

var unsafeSheetChars = regexp.MustCompile(`[^a-zA-Z0-9._\- ]`)

// DocumentReader is what an export needs from the store.
type DocumentReader interface {
	Get(ctx context.Context, id int64) (*entity.Document, error)
	ListEntries(ctx context.Context, id int64) ([]entity.DocumentEntry, error)
}

type Service struct {
	docs   DocumentReader
	logger *slog.Logger
}

func NewService(docs DocumentReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, logger: logger}
}

// ExportXLSX returns a workbook (as bytes) with one sheet per document id.
func (s *Service) ExportXLSX(ctx context.Context, ids ...int64) ([]byte, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no documents to export")
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()
	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}

	// reserved by the default sheet until it is deleted below
	used := map[string]int{"Sheet1": 1}
	for _, id := range ids {
		doc, err := s.docs.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load document %d: %w", id, err)
		}
		entries, err := s.docs.ListEntries(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load entries %d: %w", id, err)
		}
		name := sheetName(displayName(doc), used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("new sheet: %w", err)
		}
		if err := writeDocument(f, name, st, doc, entries); err != nil {
			return nil, fmt.Errorf("write sheet %q: %w", name, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"documents", len(ids),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

type styles struct {
	bold, header int
}

func newStyles(f *excelize.File) (styles, error) {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return styles{}, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Italic: true},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return styles{}, err
	}
	return styles{bold: bold, header: header}, nil
}

// sheetWriter appends rows and tracks the widest value per column.
type sheetWriter struct {
	f      *excelize.File
	sheet  string
	row    int
	widths map[int]int
	err    error
}

func (w *sheetWriter) add(style int, values ...any) {
	w.row++
	if w.err != nil || len(values) == 0 {
		return
	}
	cell, _ := excelize.CoordinatesToCellName(1, w.row)
	if w.err = w.f.SetSheetRow(w.sheet, cell, &values); w.err != nil {
		return
	}
	for i, v := range values {
		if n := utf8.RuneCountInString(fmt.Sprint(v)); n > w.widths[i+1] {
			w.widths[i+1] = n
		}
	}
	if style != 0 {
		end, _ := excelize.CoordinatesToCellName(len(values), w.row)
		w.err = w.f.SetCellStyle(w.sheet, cell, end, style)
	}
}

func writeDocument(f *excelize.File, sheet string, st styles, doc *entity.Document, entries []entity.DocumentEntry) error {
	w := &sheetWriter{f: f, sheet: sheet, widths: map[int]int{}}

	w.add(0, "Invoice", displayName(doc))
	for _, kv := range []struct {
		label string
		v     *string
	}{
		{"Supplier", doc.SupplierName},
		{"Invoice #", doc.InvoiceNumber},
		{"Date", doc.InvoiceDate},
		{"Due", doc.DueDate},
		{"Currency", doc.Currency},
	} {
		if kv.v != nil && *kv.v != "" {
			w.add(0, kv.label, *kv.v)
		}
	}
	w.add(0)

	groups, summary := groupEntries(entries)
	for _, g := range groups {
		cols := attrColumns(g.entries)
		w.add(st.bold, titleCase(g.typ))
		header := []any{"Entry", "Amount"}
		for _, c := range cols {
			header = append(header, c.title)
		}
		w.add(st.header, header...)
		for _, e := range g.entries {
			row := []any{e.Label, amount(e.Amount)}
			for _, c := range cols {
				v, _ := e.Attrs.Get(c.key)
				if v == nil {
					v = ""
				}
				row = append(row, v)
			}
			w.add(0, row...)
		}
		w.add(0)
	}
	if len(summary) > 0 {
		for _, e := range summary {
			w.add(st.bold, e.Label, amount(e.Amount))
		}
		w.add(0)
	}
	if doc.TotalAmount != nil {
		w.add(st.bold, "Total", *doc.TotalAmount)
	}
	if doc.GSTAmount != nil {
		w.add(0, "GST", *doc.GSTAmount)
	}
	if w.err != nil {
		return w.err
	}

	for col, n := range w.widths {
		name, _ := excelize.ColumnNumberToName(col)
		width := float64(min(max(n, minColWidth)+2, maxColWidth))
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return err
		}
	}
	return nil
}

type entryGroup struct {
	typ     string
	entries []entity.DocumentEntry
}

// groupEntries splits charge groups, in first-seen order, from the
// subtotal/tax/total/due rows.
func groupEntries(entries []entity.DocumentEntry) ([]entryGroup, []entity.DocumentEntry) {
	var groups []entryGroup
	index := map[string]int{}
	var summary []entity.DocumentEntry
	for _, e := range entries {
		typ := "other"
		if e.EntryType != nil && *e.EntryType != "" {
			typ = *e.EntryType
		}
		if constants.IsSummaryType(typ) {
			summary = append(summary, e)
			continue
		}
		i, ok := index[typ]
		if !ok {
			i = len(groups)
			index[typ] = i
			groups = append(groups, entryGroup{typ: typ})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	return groups, summary
}

type column struct {
	key, title string
}

var standardTitles = map[string]string{
	entity.GroupUnit:       "Unit",
	entity.GroupUnitAmount: "Quantity",
	entity.GroupUnitPrice:  "Unit Price",
}

var reExtraLabel = regexp.MustCompile(`^extra\d+_label$`)

// attrColumns orders attribute keys by how many entries carry them, then by
// name. extraN columns take their header from the extraN_label value.
func attrColumns(entries []entity.DocumentEntry) []column {
	counts := map[string]int{}
	titles := map[string]string{}
	for _, e := range entries {
		for _, kv := range e.Attrs {
			if reExtraLabel.MatchString(kv.Key) {
				base := strings.TrimSuffix(kv.Key, "_label")
				if _, ok := titles[base]; !ok {
					titles[base] = fmt.Sprint(kv.Value)
				}
				continue
			}
			counts[kv.Key]++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	cols := make([]column, len(keys))
	for i, k := range keys {
		title := titles[k]
		if title == "" {
			title = standardTitles[k]
		}
		if title == "" {
			title = k
		}
		cols[i] = column{key: k, title: title}
	}
	return cols
}

func displayName(doc *entity.Document) string {
	if doc.DisplayName != nil && *doc.DisplayName != "" {
		return *doc.DisplayName
	}
	return doc.OriginalFilename
}

// sheetName makes a valid, unique sheet name of at most 31 runes.
func sheetName(name string, used map[string]int) string {
	base := strings.TrimSpace(unsafeSheetChars.ReplaceAllString(name, "_"))
	if base == "" {
		base = "Document"
	}
	base = truncateRunes(base, 31)
	used[base]++
	if n := used[base]; n > 1 {
		suffix := fmt.Sprintf(" (%d)", n)
		return truncateRunes(base, 31-len(suffix)) + suffix
	}
	return base
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

func amount(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
