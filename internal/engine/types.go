// Package engine runs crawl jobs: it owns the worker pool, the per-origin
// politeness throttle, and the result aggregation for each job.
package engine

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// ErrInvalidSeed is the single fatal job error: a seed URL that cannot be
// crawled at all. Every other failure surfaces as data in the report.
var ErrInvalidSeed = errors.New("invalid seed url")

// Job is the immutable description of one crawl. It is handed to Run and
// never mutated afterwards. Its JSON form is defined by jobWire.
type Job struct {
	SeedURL           string
	MaxDepth          int
	MaxPages          int
	IncludeSubdomains bool
	IncludePatterns   []string
	ExcludePatterns   []string
	CrawlDelay        time.Duration
	RetainHTML        bool
}

// jobWire is the wire form of Job. The crawl delay crosses the wire in
// milliseconds, matching the submit API's crawl_delay_ms field.
type jobWire struct {
	SeedURL           string   `json:"seed_url"`
	MaxDepth          int      `json:"max_depth"`
	MaxPages          int      `json:"max_pages"`
	IncludeSubdomains bool     `json:"include_subdomains"`
	IncludePatterns   []string `json:"path_include_patterns,omitempty"`
	ExcludePatterns   []string `json:"path_exclude_patterns,omitempty"`
	CrawlDelayMs      int64    `json:"crawl_delay_ms,omitempty"`
	RetainHTML        bool     `json:"retain_html,omitempty"`
}

// MarshalJSON encodes the job with the crawl delay in milliseconds.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobWire{
		SeedURL:           j.SeedURL,
		MaxDepth:          j.MaxDepth,
		MaxPages:          j.MaxPages,
		IncludeSubdomains: j.IncludeSubdomains,
		IncludePatterns:   j.IncludePatterns,
		ExcludePatterns:   j.ExcludePatterns,
		CrawlDelayMs:      j.CrawlDelay.Milliseconds(),
		RetainHTML:        j.RetainHTML,
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*j = Job{
		SeedURL:           w.SeedURL,
		MaxDepth:          w.MaxDepth,
		MaxPages:          w.MaxPages,
		IncludeSubdomains: w.IncludeSubdomains,
		IncludePatterns:   w.IncludePatterns,
		ExcludePatterns:   w.ExcludePatterns,
		CrawlDelay:        time.Duration(w.CrawlDelayMs) * time.Millisecond,
		RetainHTML:        w.RetainHTML,
	}
	return nil
}

// Status is the terminal state of a crawl job.
type Status string

// Job terminal states. PartiallyFailed is a deliberate truncation, not an
// error: a limit was hit while in-scope URLs were still pending.
const (
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusCancelled       Status = "cancelled"
)

// ResultKind tags a PageResult variant; only the fields valid for the kind
// are populated.
type ResultKind int

// Page outcome variants.
const (
	KindSuccess ResultKind = iota
	KindRobotsBlocked
	KindFailed
	KindNonHTML
)

// String names the kind for logs and metrics labels.
func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRobotsBlocked:
		return "robots_blocked"
	case KindFailed:
		return "failed"
	case KindNonHTML:
		return "non_html"
	default:
		return "unknown"
	}
}

// PageResult is the per-URL outcome record, created once by the worker
// that consumed the frontier entry and immutable afterwards.
type PageResult struct {
	Kind           ResultKind
	URL            urlutil.NormalizedURL
	FinalURL       string
	Depth          int
	Parent         string
	StatusCode     int
	Title          string
	Meta           string
	Text           string
	HTML           []byte
	ContentLength  int
	RobotsAllowed  bool
	CrawlDelayUsed time.Duration
	ProcessingTime time.Duration
	Timestamp      time.Time
	ErrorMessage   string
}

// Succeeded reports whether the page counts toward successful_pages.
func (p PageResult) Succeeded() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}
