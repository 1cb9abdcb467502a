package extract

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text layer thresholds.
const (
	MinTextLayerChars     = 100  // trimmed runes below this count as no text layer
	MaxReplacementChars   = 20   // more U+FFFD than this means a broken font mapping
	MaxGarbledRatio       = 0.30 // control, private-use and replacement runes over non-space runes
	MaxUniformRatio       = 0.60 // share of the most frequent rune
	MinRunesForUniformity = 50
	cidMarker             = "(cid:"
)

// TextLayerQuality is the verdict on a PDF's embedded text.
type TextLayerQuality struct {
	Accept bool
	// TextLayerBroken means text exists but is unreliable; it is still worth
	// keeping as a reference when verifying OCR output.
	TextLayerBroken bool
	Reason          string
}

// AssessTextLayer decides whether text-layer output can be used as is (tier 1).
func AssessTextLayer(text string) TextLayerQuality {
	if strings.Contains(text, cidMarker) {
		return TextLayerQuality{TextLayerBroken: true, Reason: "unmapped CID glyphs in text layer"}
	}
	if n := strings.Count(text, "\uFFFD"); n > MaxReplacementChars {
		return TextLayerQuality{TextLayerBroken: true, Reason: fmt.Sprintf("%d replacement characters in text layer", n)}
	}

	trimmed := strings.TrimSpace(text)
	total, garbled := 0, 0
	freq := make(map[rune]int)
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		freq[r]++
		if isGarbled(r) {
			garbled++
		}
	}
	if total > 0 && float64(garbled)/float64(total) > MaxGarbledRatio {
		return TextLayerQuality{TextLayerBroken: true, Reason: fmt.Sprintf("garbled ratio %.2f", float64(garbled)/float64(total))}
	}
	if total >= MinRunesForUniformity {
		top := 0
		for _, c := range freq {
			if c > top {
				top = c
			}
		}
		if float64(top)/float64(total) > MaxUniformRatio {
			return TextLayerQuality{TextLayerBroken: true, Reason: "uniform text layer content"}
		}
	}
	if utf8.RuneCountInString(trimmed) < MinTextLayerChars {
		return TextLayerQuality{Reason: "minimal text"}
	}
	return TextLayerQuality{Accept: true, Reason: "text layer ok"}
}

func isGarbled(r rune) bool {
	return r == utf8.RuneError ||
		unicode.Is(unicode.Co, r) ||
		(unicode.IsControl(r) && !unicode.IsSpace(r))
}
