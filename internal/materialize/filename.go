package materialize

import (
	"strings"
	"unicode"

	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/tabular"
)

// DefaultFilename is used when the title is blank or has no usable characters.
const DefaultFilename = "air_quality_data"

const maxFilenameLength = 100

// Filename derives a file name from title: runs of characters other than
// letters, digits, dots, dashes and underscores become a single underscore.
func Filename(title string, format export.FileType) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	name := strings.Trim(b.String(), "._-")
	if r := []rune(name); len(r) > maxFilenameLength {
		name = strings.TrimRight(string(r[:maxFilenameLength]), "._-")
	}
	if name == "" {
		name = DefaultFilename
	}
	return name + tabular.Extension(string(format))
}
