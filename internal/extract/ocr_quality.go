package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Tier 2 OCR acceptance thresholds. Failing any of them escalates to tier 3.
const (
	MinMeanConfidence     = 80.0
	LowConfidenceWord     = 60.0
	MaxLowConfidenceRatio = 0.10
	MinOCRTextChars       = 50
	MinNumberMatchRatio   = 0.5
	minRefCharsForNumbers = 100
	minRefNumbers         = 3
)

var reNumber = regexp.MustCompile(`\d[\d,.\-/]+\d`)

// WordConfidence is one recognised word and its engine confidence (0..100).
type WordConfidence struct {
	Text       string
	Confidence float64
}

// OCRQuality is the verdict on a tier 2 OCR pass.
type OCRQuality struct {
	Accept          bool
	Reason          string
	MeanConfidence  float64
	LowConfRatio    float64
	NumberMatchRate float64 // -1 when no cross-reference was possible
}

// AssessOCR checks tier 2 output. textLayerRef may be empty.
func AssessOCR(text string, words []WordConfidence, textLayerRef string) OCRQuality {
	q := OCRQuality{NumberMatchRate: -1}

	if len(words) > 0 {
		var sum float64
		low := 0
		for _, w := range words {
			sum += w.Confidence
			if w.Confidence < LowConfidenceWord {
				low++
			}
		}
		q.MeanConfidence = sum / float64(len(words))
		q.LowConfRatio = float64(low) / float64(len(words))
	}

	trimmed := strings.TrimSpace(text)
	switch {
	case len(words) == 0:
		q.Reason = "no words recognised"
		return q
	case q.MeanConfidence < MinMeanConfidence:
		q.Reason = fmt.Sprintf("mean confidence %.1f below %.0f", q.MeanConfidence, MinMeanConfidence)
		return q
	case q.LowConfRatio > MaxLowConfidenceRatio:
		q.Reason = fmt.Sprintf("low-confidence ratio %.2f above %.2f", q.LowConfRatio, MaxLowConfidenceRatio)
		return q
	case len(trimmed) < MinOCRTextChars:
		q.Reason = fmt.Sprintf("only %d chars recognised", len(trimmed))
		return q
	}

	if len(textLayerRef) > minRefCharsForNumbers {
		refNums := ExtractNumbers(textLayerRef)
		if len(refNums) > minRefNumbers {
			q.NumberMatchRate = NumberMatchRatio(refNums, ExtractNumbers(text))
			if q.NumberMatchRate < MinNumberMatchRatio {
				q.Reason = fmt.Sprintf("number match %.2f below %.2f", q.NumberMatchRate, MinNumberMatchRatio)
				return q
			}
		}
	}

	q.Accept = true
	q.Reason = "ocr ok"
	return q
}

// ExtractNumbers returns the multi-digit numbers in s with currency symbols
// and thousands separators removed.
func ExtractNumbers(s string) []string {
	matches := reNumber.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.NewReplacer("$", "", ",", "").Replace(m)
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// NumberMatchRatio is the share of reference numbers that also appear in got.
func NumberMatchRatio(ref, got []string) float64 {
	if len(ref) == 0 {
		return 1
	}
	seen := make(map[string]struct{}, len(got))
	for _, g := range got {
		seen[g] = struct{}{}
	}
	hit := 0
	for _, r := range ref {
		if _, ok := seen[r]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(ref))
}
