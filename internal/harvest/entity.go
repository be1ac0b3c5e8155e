package harvest

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeEntityName derives the entity key used to namespace state keys and
// stored filenames. It lowercases the name and maps every rune outside
// [A-Za-z0-9_.-] to '-'.
func NormalizeEntityName(name string) string {
	return strings.ToLower(SanitizeFilename(name))
}

// SanitizeFilename replaces every rune outside [A-Za-z0-9_.-] with '-'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isAllowedRune(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('-')
	}
	return b.String()
}

func isAllowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	default:
		return false
	}
}

// StateKey returns the store key of a phase's CrawlState: "<phase>-state-<entityKey>".
func StateKey(phase Phase, entityKey string) string {
	return fmt.Sprintf("%s-state-%s", phase, entityKey)
}

// IsPDF reports whether a stored filename names a PDF document.
func IsPDF(filename string) bool {
	return strings.EqualFold(path.Ext(filename), ".pdf")
}

// TextObjectName is the blob name under which extracted text for a document is kept.
func TextObjectName(filename string) string {
	return filename + ".txt"
}
