package entity

// DocumentEntry is one line item of a document.
type DocumentEntry struct {
	ID         int64    `json:"id"`
	DocumentID int64    `json:"document_id"`
	Label      string   `json:"label"`
	Amount     *float64 `json:"amount,omitempty"`
	EntryType  *string  `json:"entry_type,omitempty"`
	Attrs      Attrs    `json:"attrs,omitempty"`
	SortOrder  int      `json:"sort_order"`
}
