package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// In-progress download and office lock files.
var partialSuffixes = []string{".part", ".partial", ".crdownload", ".download", ".tmp"}

// Supported reports whether path names a finished file of a type the
// pipeline reads.
func Supported(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(name, "~$") {
		return false
	}
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return false
		}
	}
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(name))]
	return ok
}

func hidden(path string) bool {
	name := filepath.Base(path)
	return len(name) > 1 && name[0] == '.' && name != ".."
}
