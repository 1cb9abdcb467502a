// Package normalize maps free-form line-item attribute keys onto the fixed
// unit / unit_amount / unit_price / extraN columns.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

var (
	reExtraKey   = regexp.MustCompile(`^extra\d+(_label)?$`)
	reExtraValue = regexp.MustCompile(`^extra\d+$`)
)

// unitHints infers a unit from the key that supplied unit_amount.
var unitHints = map[string]string{
	"kwh":        "kWh",
	"kl":         "kL",
	"kilolitres": "kL",
	"kiloliters": "kL",
	"days":       "day",
	"day":        "day",
	"hours":      "hour",
	"hrs":        "hour",
	"litres":     "L",
	"liters":     "L",
	"gb":         "GB",
	"m3":         "m³",
	"gj":         "GJ",
	"nights":     "night",
	"weeks":      "week",
	"months":     "month",
}

type Normalizer struct {
	dict   *Dictionary
	store  Store
	logger *slog.Logger
}

func New(store Store, ttl time.Duration, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		dict:   NewDictionary(store, ttl),
		store:  store,
		logger: logger,
	}
}

func (n *Normalizer) Dictionary() *Dictionary { return n.dict }

// IsStandardKey reports whether key is one of the fixed output columns.
func IsStandardKey(key string) bool {
	switch key {
	case entity.GroupUnit, entity.GroupUnitAmount, entity.GroupUnitPrice:
		return true
	}
	return reExtraKey.MatchString(key)
}

// LookupKey is the dictionary form of an attribute name.
func LookupKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), "_")
}

// CanonicalName title-cases a key for display, e.g. meter_number -> Meter Number.
// Casers are stateful, so each call builds its own.
func (n *Normalizer) CanonicalName(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(LookupKey(key), "_", " "))
}

// NormalizeEntries normalizes the attrs of every entry in place and returns the slice.
func (n *Normalizer) NormalizeEntries(ctx context.Context, entries []entity.DocumentEntry) []entity.DocumentEntry {
	for i := range entries {
		entries[i].Attrs = n.NormalizeAttrs(ctx, entries[i].Attrs)
	}
	return entries
}

// NormalizeAttrs rewrites attrs into the standardized shape. Input that
// already uses standardized keys keeps its layout. Null and empty values are
// dropped in both cases. Dictionary
// failures degrade to treating every key as unknown.
func (n *Normalizer) NormalizeAttrs(ctx context.Context, attrs entity.Attrs) entity.Attrs {
	if len(attrs) == 0 {
		return attrs
	}
	dict, err := n.dict.Snapshot(ctx)
	if err != nil {
		n.logger.Warn("normalize.dictionary.load_failed", "error", err)
		dict = nil
	}

	if isStandardized(attrs) {
		return n.cleanStandardized(ctx, attrs, dict)
	}

	type extra struct {
		label string
		value any
	}
	var (
		unit, unitAmount, unitPrice          any
		hasUnit, hasUnitAmount, hasUnitPrice bool
		amountKey                            string
		extras                               []extra
	)
	for _, kv := range attrs {
		if isEmpty(kv.Value) {
			continue
		}
		key := LookupKey(kv.Key)
		def, known := dict[key]
		label := n.CanonicalName(kv.Key)
		if known && def.CanonicalName != "" {
			label = def.CanonicalName
		}
		if !known {
			n.discover(ctx, kv.Key)
		}

		switch {
		case known && def.Group() == entity.GroupUnit && !hasUnit:
			unit, hasUnit = kv.Value, true
		case known && def.Group() == entity.GroupUnitAmount && !hasUnitAmount:
			unitAmount, hasUnitAmount, amountKey = kv.Value, true, key
		case known && def.Group() == entity.GroupUnitPrice && !hasUnitPrice:
			unitPrice, hasUnitPrice = kv.Value, true
		default:
			extras = append(extras, extra{label: label, value: kv.Value})
		}
	}
	if hasUnitAmount && !hasUnit {
		if u, ok := unitHints[amountKey]; ok {
			unit, hasUnit = u, true
		}
	}

	var out entity.Attrs
	if hasUnit {
		out.Set(entity.GroupUnit, unit)
	}
	if hasUnitAmount {
		out.Set(entity.GroupUnitAmount, unitAmount)
	}
	if hasUnitPrice {
		out.Set(entity.GroupUnitPrice, unitPrice)
	}
	for i, e := range extras {
		out.Set(fmt.Sprintf("extra%d", i+1), e.value)
		out.Set(fmt.Sprintf("extra%d_label", i+1), e.label)
	}
	return out
}

// cleanStandardized keeps the standardized layout, drops null and empty
// values (an empty extraN takes its label with it) and registers unknown
// non-standard keys.
func (n *Normalizer) cleanStandardized(ctx context.Context, attrs entity.Attrs, dict map[string]entity.AttributeDefinition) entity.Attrs {
	emptyExtra := make(map[string]bool)
	for _, kv := range attrs {
		if isEmpty(kv.Value) && reExtraValue.MatchString(kv.Key) {
			emptyExtra[kv.Key] = true
		}
	}
	var out entity.Attrs
	for _, kv := range attrs {
		if isEmpty(kv.Value) || emptyExtra[strings.TrimSuffix(kv.Key, "_label")] {
			continue
		}
		if !IsStandardKey(kv.Key) {
			if _, ok := dict[LookupKey(kv.Key)]; !ok {
				n.discover(ctx, kv.Key)
			}
		}
		out.Set(kv.Key, kv.Value)
	}
	return out
}

func isStandardized(attrs entity.Attrs) bool {
	for _, kv := range attrs {
		if IsStandardKey(kv.Key) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// discover registers key and logs failures; discovery never fails a job.
func (n *Normalizer) discover(ctx context.Context, key string) {
	if err := n.AutoDiscover(ctx, key); err != nil {
		n.logger.Warn("normalize.discover.failed", "key", key, "error", err)
	}
}

// AutoDiscover records an unseen key as an llm_discovered extra. Concurrent
// calls for the same key leave exactly one row.
func (n *Normalizer) AutoDiscover(ctx context.Context, key string) error {
	k := LookupKey(key)
	if k == "" {
		return nil
	}
	group := entity.GroupExtra
	inserted, err := n.store.InsertIfAbsent(ctx, entity.AttributeDefinition{
		Key:           k,
		ColumnGroup:   &group,
		CanonicalName: n.CanonicalName(k),
		Description:   "Discovered from extracted line items",
		Source:        entity.SourceLLMDiscovered,
	})
	if err != nil {
		return err
	}
	n.dict.Invalidate()
	if inserted {
		n.logger.Info("normalize.discovered", "key", k)
	}
	return nil
}
