package ocr

import (
	"bufio"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var crlf = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize cleans recognizer output for the LLM. Ligatures and full-width
// forms fold to plain characters (NFKC), table rulers are dropped, and runs
// of horizontal whitespace and blank lines collapse to one.
func Normalize(s string) string {
	s = norm.NFKC.String(crlf.Replace(s))
	var b strings.Builder
	blank := 0
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.Join(strings.Fields(sc.Text()), " ")
		if isRuler(line) {
			continue
		}
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		blank = 0
		b.WriteString(line)
	}
	return b.String()
}

// isRuler matches lines made only of box-drawing punctuation, three or more.
func isRuler(line string) bool {
	if len(line) < 3 {
		return false
	}
	for _, r := range line {
		switch r {
		case '_', '-', '=', '|':
		default:
			return false
		}
	}
	return true
}
