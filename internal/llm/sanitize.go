package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CleanModelJSON strips Markdown fences and any prose around the outermost
// JSON object.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

var (
	reISODate  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	reCurrency = regexp.MustCompile(`^[A-Z]{3}$`)

	dateLayouts = []string{
		"2006-01-02T15:04:05Z07:00",
		"02/01/2006",
		"2/1/2006",
		"02-01-2006",
		"2 Jan 2006",
		"2 January 2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"02 Jan 2006",
	}

	topLevelSynonyms = map[string]string{
		"supplier":       "supplier_name",
		"vendor":         "supplier_name",
		"vendor_name":    "supplier_name",
		"invoice_no":     "invoice_number",
		"date":           "invoice_date",
		"total":          "total_amount",
		"gst":            "gst_amount",
		"tax_amount":     "gst_amount",
		"currency_code":  "currency",
		"line_items":     "entries",
		"items":          "entries",
		"gst_reg_number": "gst_number",
	}
	moneyKeys = []string{"total_amount", "gst_amount"}
	dateKeys  = []string{"invoice_date", "due_date"}
	textKeys  = []string{"supplier_name", "invoice_number", "gst_number", "notes"}
)

// SanitizeExtraction normalizes a model's extraction object so it decodes
// into Extraction: synonyms renamed, money strings coerced to numbers,
// dates reformatted, nulls and empties dropped. Entry attrs are carried
// through byte for byte so their key order survives.
func SanitizeExtraction(raw []byte) ([]byte, []string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	if m == nil {
		return nil, nil, fmt.Errorf("sanitize: expected a JSON object")
	}
	changed := sanitizeObject(m)
	out, err := json.Marshal(m)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, changed, nil
}

func sanitizeObject(m map[string]json.RawMessage) []string {
	var changed []string
	for from, to := range topLevelSynonyms {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			changed = append(changed, from+"->"+to)
		}
	}

	for _, k := range moneyKeys {
		if v, ok := m[k]; ok {
			if n, ok := coerceNumber(v); ok {
				m[k] = n
			} else {
				delete(m, k)
				changed = append(changed, k+"(dropped)")
			}
		}
	}
	for _, k := range dateKeys {
		if v, ok := m[k]; ok {
			if d, ok := coerceDate(v); ok {
				m[k] = d
			} else {
				delete(m, k)
				changed = append(changed, k+"(dropped)")
			}
		}
	}
	for _, k := range textKeys {
		if v, ok := m[k]; ok {
			if s, ok := coerceText(v); ok {
				m[k] = s
			} else {
				delete(m, k)
			}
		}
	}
	if v, ok := m["currency"]; ok {
		var s string
		_ = json.Unmarshal(v, &s)
		s = strings.ToUpper(strings.TrimSpace(s))
		if reCurrency.MatchString(s) {
			m["currency"] = mustRaw(s)
		} else {
			delete(m, "currency")
			if !isNull(v) {
				changed = append(changed, "currency(dropped)")
			}
		}
	}

	var entries []map[string]json.RawMessage
	if v, ok := m["entries"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &entries); err != nil {
			entries = nil
			changed = append(changed, "entries(invalid)")
		}
	}
	kept := make([]map[string]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if v, ok := e["entry_type"]; ok {
			if _, exists := e["type"]; !exists {
				e["type"] = v
			}
			delete(e, "entry_type")
		}
		if v, ok := e["description"]; ok {
			if _, exists := e["label"]; !exists {
				e["label"] = v
			}
			delete(e, "description")
		}
		label, ok := coerceText(e["label"])
		if !ok {
			changed = append(changed, "entry(no label)")
			continue
		}
		e["label"] = label
		if v, ok := e["amount"]; ok {
			if n, ok := coerceNumber(v); ok {
				e["amount"] = n
			} else {
				delete(e, "amount")
			}
		}
		if v, ok := e["type"]; ok {
			if s, ok := coerceText(v); ok {
				e["type"] = s
			} else {
				delete(e, "type")
			}
		}
		if v, ok := e["attrs"]; ok {
			if t := bytes.TrimSpace(v); len(t) == 0 || t[0] != '{' {
				delete(e, "attrs")
			}
		}
		kept = append(kept, e)
	}
	m["entries"] = mustRaw(kept)
	return changed
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// ParseMoney reads amounts like "$1,234.50", "(12.00)" or "5.00 CR".
func ParseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	if up := strings.ToUpper(s); strings.HasSuffix(up, "CR") {
		neg = true
		s = strings.TrimSpace(s[:len(s)-2])
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg && f > 0 {
		f = -f
	}
	return f, true
}

func coerceNumber(v json.RawMessage) (json.RawMessage, bool) {
	if isNull(v) {
		return nil, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, false
	}
	f, ok := ParseMoney(s)
	if !ok {
		return nil, false
	}
	return mustRaw(f), true
}

func coerceDate(v json.RawMessage) (json.RawMessage, bool) {
	s, ok := textValue(v)
	if !ok {
		return nil, false
	}
	if reISODate.MatchString(s) {
		return mustRaw(s), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return mustRaw(t.Format(time.DateOnly)), true
		}
	}
	return nil, false
}

func coerceText(v json.RawMessage) (json.RawMessage, bool) {
	s, ok := textValue(v)
	if !ok {
		return nil, false
	}
	return mustRaw(s), true
}

// textValue accepts strings and bare numbers, trimmed and non-empty.
func textValue(v json.RawMessage) (string, bool) {
	if isNull(v) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", false
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	return s, s != "" && !strings.EqualFold(s, "null")
}

func mustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
