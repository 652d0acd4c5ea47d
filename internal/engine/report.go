package engine

import (
	"sync"
	"time"
)

// PageEntry is the flattened wire form of one PageResult.
type PageEntry struct {
	URL             string    `json:"url"`
	FinalURL        string    `json:"final_url,omitempty"`
	Title           string    `json:"title,omitempty"`
	MetaDescription string    `json:"meta_description,omitempty"`
	StatusCode      int       `json:"status_code,omitempty"`
	ContentLength   int       `json:"content_length"`
	CrawlDepth      int       `json:"crawl_depth"`
	ParentURL       string    `json:"parent_url,omitempty"`
	RobotsAllowed   bool      `json:"robots_allowed"`
	CrawlDelayUsed  float64   `json:"crawl_delay_used,omitempty"`
	ProcessingTime  float64   `json:"processing_time"`
	Timestamp       time.Time `json:"timestamp"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	HTML            string    `json:"html,omitempty"`
}

// Report is the aggregate a crawl job hands back to its caller.
type Report struct {
	StartingDomain        string            `json:"starting_domain"`
	Status                Status            `json:"status"`
	URLsScraped           []PageEntry       `json:"urls_scraped"`
	WebpageContents       map[string]string `json:"webpage_contents"`
	TotalPages            int               `json:"total_pages"`
	SuccessfulPages       int               `json:"successful_pages"`
	FailedPages           int               `json:"failed_pages"`
	RobotsBlockedPages    int               `json:"robots_blocked_pages"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	Timestamp             time.Time         `json:"timestamp"`
}

// aggregator accumulates PageResults in arrival order. Completion order
// across workers is unspecified; entries carry depth and parent linkage
// and nothing more.
type aggregator struct {
	mu      sync.Mutex
	domain  string
	results []PageResult
}

func newAggregator(domain string) *aggregator {
	return &aggregator{domain: domain}
}

func (a *aggregator) add(res PageResult) {
	a.mu.Lock()
	a.results = append(a.results, res)
	a.mu.Unlock()
	pagesTotal.WithLabelValues(res.Kind.String()).Inc()
}

// finalize flattens the tagged results into the documented report shape.
// webpage_contents carries extracted text for successful HTML pages only.
func (a *aggregator) finalize(status Status, elapsed time.Duration, finishedAt time.Time) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &Report{
		StartingDomain:        a.domain,
		Status:                status,
		URLsScraped:           make([]PageEntry, 0, len(a.results)),
		WebpageContents:       make(map[string]string),
		TotalPages:            len(a.results),
		ProcessingTimeSeconds: elapsed.Seconds(),
		Timestamp:             finishedAt,
	}

	for _, res := range a.results {
		entry := PageEntry{
			URL:             res.URL.String(),
			FinalURL:        res.FinalURL,
			Title:           res.Title,
			MetaDescription: res.Meta,
			StatusCode:      res.StatusCode,
			ContentLength:   res.ContentLength,
			CrawlDepth:      res.Depth,
			ParentURL:       res.Parent,
			RobotsAllowed:   res.RobotsAllowed,
			CrawlDelayUsed:  res.CrawlDelayUsed.Seconds(),
			ProcessingTime:  res.ProcessingTime.Seconds(),
			Timestamp:       res.Timestamp,
			ErrorMessage:    res.ErrorMessage,
		}
		if len(res.HTML) > 0 {
			entry.HTML = string(res.HTML)
		}
		report.URLsScraped = append(report.URLsScraped, entry)

		switch {
		case res.Kind == KindSuccess && res.Succeeded():
			report.SuccessfulPages++
			report.WebpageContents[res.URL.String()] = res.Text
		case res.Kind == KindNonHTML && res.Succeeded():
			report.SuccessfulPages++
		case res.Kind == KindRobotsBlocked:
			report.RobotsBlockedPages++
		default:
			report.FailedPages++
		}
	}
	return report
}
