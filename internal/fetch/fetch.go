// Package fetch retrieves pages over HTTP for the crawl engine.
package fetch

import (
	"context"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Request names a single page to retrieve.
type Request struct {
	URL string
}

// Response is the outcome of one successful HTTP exchange. Non-2xx status
// codes are responses, not errors; classification belongs to the caller.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// IsHTML reports whether the response body should go through content
// extraction. An absent Content-Type is assumed to be HTML, matching how
// permissive real servers are about it.
func (r Response) IsHTML() bool {
	ct := r.Headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.HasPrefix(ct, "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Fetcher fetches a URL and returns the response plus timing metadata.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}
