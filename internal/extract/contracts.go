// Package extract holds the tier decision logic: which extraction path a
// file takes and whether the text a tier produced is good enough.
package extract

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// PageSeparator joins per-page text into the full document text.
const PageSeparator = "\n\n---\n\n"

// Result is the output of the extraction stage.
type Result struct {
	FullText   string
	Pages      []string
	TotalPages int
	OCRTier    int
	// TextLayerRef is set only when a PDF had a broken but present text layer;
	// it is used to verify the OCR-derived extraction.
	TextLayerRef string
}

type SourceKind int

const (
	SourceUnsupported SourceKind = iota
	SourcePDF
	SourceImage
)

func (k SourceKind) String() string {
	switch k {
	case SourcePDF:
		return constants.PDF
	case SourceImage:
		return constants.IMAGE
	default:
		return "UNSUPPORTED"
	}
}

// Classify picks the extraction path from the file extension.
func Classify(path string) SourceKind {
	switch constants.MapExtToFormat(filepath.Ext(path)) {
	case constants.PDF:
		return SourcePDF
	case constants.IMAGE:
		return SourceImage
	default:
		return SourceUnsupported
	}
}

// JoinPages concatenates non-empty page texts with PageSeparator.
func JoinPages(pages []string) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, PageSeparator)
}
