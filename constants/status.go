package constants

// DocumentStatus is the pipeline state stored in documents.status.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusQueued     DocumentStatus = "queued"
	StatusExtracting DocumentStatus = "extracting"
	StatusProcessing DocumentStatus = "processing" // LLM extraction
	StatusVerifying  DocumentStatus = "verifying"  // cross-check against the text layer
	StatusDraft      DocumentStatus = "draft"      // terminal, awaiting review
	StatusError      DocumentStatus = "error"      // terminal failure
)

var allStatuses = []DocumentStatus{
	StatusQueued,
	StatusExtracting,
	StatusProcessing,
	StatusVerifying,
	StatusDraft,
	StatusError,
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the pipeline stops at s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusDraft || s == StatusError
}

// OCR tiers recorded on documents.ocr_tier.
const (
	TierTextLayer = 1
	TierOCR       = 2
	TierOCRDeep   = 3
)
