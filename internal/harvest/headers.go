package harvest

import (
	"net/http"
	"strings"
)

// Headers is a case-insensitive view over response headers.
// Keys are stored lowercased; values keep their original order.
type Headers map[string][]string

// HeadersFromHTTP normalizes an http.Header.
func HeadersFromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, values := range h {
		key := strings.ToLower(k)
		out[key] = append(out[key], values...)
	}
	return out
}

// HeadersFromRaw normalizes a flat [name, value, name, value, ...] list.
// Some transports only expose response headers in this shape; a trailing name
// without a value is ignored.
func HeadersFromRaw(raw []string) Headers {
	out := make(Headers, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		key := strings.ToLower(strings.TrimSpace(raw[i]))
		if key == "" {
			continue
		}
		out[key] = append(out[key], raw[i+1])
	}
	return out
}

// Get returns the first value for name, matched case-insensitively.
func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
