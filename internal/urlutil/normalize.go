// Package urlutil canonicalizes URLs so the rest of the engine never
// compares raw strings.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL marks a link that cannot be parsed into a crawlable URL.
// Callers treat it as a non-fatal skip.
var ErrInvalidURL = errors.New("invalid url")

// NormalizedURL is a canonicalized URL. Two URLs are the same page for
// dedup purposes iff their Key values are equal. The display form keeps
// the original trailing slash; the key does not.
type NormalizedURL struct {
	u   *url.URL
	key string
}

// Normalize resolves raw against base (base may be nil for absolute URLs),
// lowercases scheme and host, strips default ports and fragments, and
// preserves query string order. Only http and https URLs are crawlable.
func Normalize(raw string, base *url.URL) (NormalizedURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NormalizedURL{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return NormalizedURL{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return NormalizedURL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return NormalizedURL{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if parsed.Scheme == "http" {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	}
	if parsed.Scheme == "https" {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""

	return NormalizedURL{u: parsed, key: buildKey(parsed)}, nil
}

// buildKey computes the equality form: trailing slashes collapse so that
// /about and /about/ dedup to the same page. Query order is preserved and
// parameters are never deduplicated; equality is by exact query string.
func buildKey(u *url.URL) string {
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	key := u.Scheme + "://" + u.Host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// String returns the display form, preserving the original trailing slash.
func (n NormalizedURL) String() string {
	if n.u == nil {
		return ""
	}
	return n.u.String()
}

// Key returns the equality form used by the visited set.
func (n NormalizedURL) Key() string { return n.key }

// Origin returns scheme://host, the unit at which robots.txt and
// crawl-delay apply.
func (n NormalizedURL) Origin() string {
	if n.u == nil {
		return ""
	}
	return n.u.Scheme + "://" + n.u.Host
}

// Host returns the lowercased hostname without port.
func (n NormalizedURL) Host() string {
	if n.u == nil {
		return ""
	}
	return n.u.Hostname()
}

// Path returns the URL path, defaulting to "/" for bare hosts.
func (n NormalizedURL) Path() string {
	if n.u == nil || n.u.Path == "" {
		return "/"
	}
	return n.u.Path
}

// URL returns a copy of the underlying parsed URL, safe for callers to
// mutate (e.g. as a resolution base).
func (n NormalizedURL) URL() *url.URL {
	if n.u == nil {
		return nil
	}
	cp := *n.u
	return &cp
}

// IsZero reports whether the value was produced by a failed Normalize.
func (n NormalizedURL) IsZero() bool { return n.u == nil }
