package harvest

import (
	"fmt"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultContentType = "text/plain"
	unknownFilename    = "unknown"
)

var dispositionFilename = regexp.MustCompile(`filename="([^"]*)"`)

// DocumentMetadata describes how a downloaded document is stored.
type DocumentMetadata struct {
	ContentType string
	Filename    string
}

// ExtractDocumentMetadata derives the content type and stored filename of a
// downloaded document. The filename is "<prefix>-<unix millis>-<seq>-<name>", where
// name is the sanitized content-disposition filename or "unknown".
func ExtractDocumentMetadata(prefix string, headers Headers, body []byte, now time.Time, seq uint64) DocumentMetadata {
	return DocumentMetadata{
		ContentType: contentType(headers, body),
		Filename: fmt.Sprintf(
			"%s-%d-%d-%s",
			prefix,
			now.UnixMilli(),
			seq,
			SanitizeFilename(SuggestedFilename(headers)),
		),
	}
}

// SuggestedFilename returns the filename carried by content-disposition, or "unknown".
func SuggestedFilename(headers Headers) string {
	disposition := headers.Get("content-disposition")
	if disposition == "" {
		return unknownFilename
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	// Malformed headers still carry a usable quoted name.
	if m := dispositionFilename.FindStringSubmatch(disposition); len(m) == 2 && m[1] != "" {
		return m[1]
	}
	return unknownFilename
}

func contentType(headers Headers, body []byte) string {
	if ct := strings.TrimSpace(headers.Get("content-type")); ct != "" {
		return ct
	}
	if len(body) > 0 {
		if detected := mimetype.Detect(body); detected != nil && detected.String() != "application/octet-stream" {
			return detected.String()
		}
	}
	return defaultContentType
}
