package ocr

import (
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
)

// tesseract TSV columns:
// level page_num block_num par_num line_num word_num left top width height conf text
const (
	tsvLevel = 0
	tsvBlock = 2
	tsvPar   = 3
	tsvLine  = 4
	tsvConf  = 10
	tsvText  = 11
	tsvCols  = 12

	levelWord = "5"
)

// parseTSV rebuilds page text from tesseract TSV output and collects
// per-word confidences. Words with conf -1 or empty text are skipped.
func parseTSV(out string) (string, []extract.WordConfidence) {
	var b strings.Builder
	var words []extract.WordConfidence
	var lastBlock, lastPar, lastLine string
	first := true

	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < tsvCols || cols[tsvLevel] != levelWord {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[tsvText:], "\t"))
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if text == "" || err != nil || conf < 0 {
			continue
		}

		block, par, line := cols[tsvBlock], cols[tsvPar], cols[tsvLine]
		switch {
		case first:
		case block != lastBlock || par != lastPar:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(text)
		first = false
		lastBlock, lastPar, lastLine = block, par, line

		words = append(words, extract.WordConfidence{Text: text, Confidence: conf})
	}
	return b.String(), words
}
