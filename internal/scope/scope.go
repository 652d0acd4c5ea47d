// Package scope decides whether a discovered URL belongs to a crawl job.
package scope

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// Filter applies a job's domain and path rules. URLs failing the filter are
// dropped silently: never enqueued, never recorded.
type Filter struct {
	baseHost          string
	includeSubdomains bool
	includes          []pattern
	excludes          []pattern
}

type pattern struct {
	raw string
	g   glob.Glob
}

// New builds a Filter rooted at the seed's host. Patterns match against the
// URL path; a pattern without glob metacharacters matches as a path prefix.
func New(seed urlutil.NormalizedURL, includeSubdomains bool, includePatterns, excludePatterns []string) (*Filter, error) {
	f := &Filter{
		baseHost:          seed.Host(),
		includeSubdomains: includeSubdomains,
	}
	var err error
	if f.includes, err = compilePatterns(includePatterns); err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	if f.excludes, err = compilePatterns(excludePatterns); err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	return f, nil
}

func compilePatterns(raws []string) ([]pattern, error) {
	out := make([]pattern, 0, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p := pattern{raw: raw}
		if strings.ContainsAny(raw, "*?[{") {
			g, err := glob.Compile(raw, '/')
			if err != nil {
				return nil, fmt.Errorf("compile %q: %w", raw, err)
			}
			p.g = g
		}
		out = append(out, p)
	}
	return out, nil
}

func (p pattern) match(path string) bool {
	if p.g != nil {
		return p.g.Match(path)
	}
	return strings.HasPrefix(path, p.raw)
}

// InScope reports whether the URL may be enqueued. Exclude patterns win
// over include patterns when both match.
func (f *Filter) InScope(u urlutil.NormalizedURL) bool {
	if !f.hostAllowed(u.Host()) {
		return false
	}
	path := u.Path()
	for _, p := range f.excludes {
		if p.match(path) {
			return false
		}
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, p := range f.includes {
		if p.match(path) {
			return true
		}
	}
	return false
}

func (f *Filter) hostAllowed(host string) bool {
	if host == f.baseHost {
		return true
	}
	if !f.includeSubdomains {
		return false
	}
	return strings.HasSuffix(host, "."+f.baseHost)
}
