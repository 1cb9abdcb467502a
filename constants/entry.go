package constants

import "strings"

// Standard entry types. Charge groups use descriptive types named by the
// service (electricity, broadband, ...); these are the fixed ones.
const (
	EntryCharge   = "charge"
	EntryDiscount = "discount"
	EntrySubtotal = "subtotal"
	EntryTax      = "tax"
	EntryTotal    = "total"
	EntryDue      = "due"
)

var summaryTypes = map[string]struct{}{
	EntrySubtotal: {},
	EntryTax:      {},
	EntryTotal:    {},
	EntryDue:      {},
}

var entryTypeSynonyms = map[string]string{
	"gst":         EntryTax,
	"vat":         EntryTax,
	"sales_tax":   EntryTax,
	"sub_total":   EntrySubtotal,
	"grand_total": EntryTotal,
	"amount_due":  EntryDue,
	"balance_due": EntryDue,
	"credit":      EntryDiscount,
	"rebate":      EntryDiscount,
	"line":        EntryCharge,
	"item":        EntryCharge,
}

// NormalizeEntryType lowercases and snake-cases a type and folds common
// synonyms of the standard types. Descriptive types pass through.
func NormalizeEntryType(input string) string {
	t := strings.ToLower(strings.TrimSpace(input))
	t = strings.Join(strings.Fields(t), "_")
	if s, ok := entryTypeSynonyms[t]; ok {
		return s
	}
	return t
}

// IsSummaryType reports whether t is a subtotal/tax/total/due row.
func IsSummaryType(t string) bool {
	_, ok := summaryTypes[NormalizeEntryType(t)]
	return ok
}
