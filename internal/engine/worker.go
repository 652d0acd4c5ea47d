package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/fetch"
	"github.com/agoralabs/agora-crawler/internal/frontier"
	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// process runs the fetch pipeline for one frontier entry: robots gate,
// crawl-delay wait, fetch with retries, classification, link discovery.
// Exactly one PageResult is recorded per entry, except when the job is
// cancelled while the fetch is in flight.
func (r *jobRun) process(ctx context.Context, entry frontier.Entry) {
	started := r.engine.clock.Now()
	origin := entry.URL.Origin()

	rec := r.robots.Lookup(ctx, origin)
	delay := r.job.CrawlDelay
	if delay <= 0 {
		delay = rec.CrawlDelay(r.engine.cfg.DefaultDelay)
	}

	if !rec.Allowed(entry.URL.Path()) {
		r.engine.logger.Debug("blocked by robots.txt", zap.String("url", entry.URL.String()))
		now := r.engine.clock.Now()
		r.agg.add(PageResult{
			Kind:           KindRobotsBlocked,
			URL:            entry.URL,
			Depth:          entry.Depth,
			Parent:         entry.Parent,
			RobotsAllowed:  false,
			CrawlDelayUsed: delay,
			ProcessingTime: now.Sub(started),
			Timestamp:      now,
			ErrorMessage:   "blocked by robots.txt",
		})
		return
	}

	if err := r.throttle.Wait(ctx, origin, delay); err != nil {
		// Only context cancellation aborts the wait; the entry is
		// abandoned without a result.
		return
	}

	resp, err := r.fetchWithRetry(ctx, entry.URL.String())
	if ctx.Err() != nil {
		// In-flight fetch abandoned by cancellation: no partial result.
		return
	}

	now := r.engine.clock.Now()
	result := PageResult{
		URL:            entry.URL,
		Depth:          entry.Depth,
		Parent:         entry.Parent,
		RobotsAllowed:  true,
		CrawlDelayUsed: delay,
		ProcessingTime: now.Sub(started),
		Timestamp:      now,
	}

	// Redirects may land elsewhere; the landed URL is recorded and is
	// the base that relative links resolve against.
	landed := entry.URL
	if err == nil && resp.FinalURL != "" && resp.FinalURL != entry.URL.String() {
		if n, nerr := urlutil.Normalize(resp.FinalURL, nil); nerr == nil {
			landed = n
		}
	}
	if landed.Key() != entry.URL.Key() {
		result.FinalURL = landed.String()
	}

	switch {
	case err != nil:
		result.Kind = KindFailed
		result.ErrorMessage = err.Error()
		r.engine.logger.Warn("fetch failed",
			zap.String("url", entry.URL.String()), zap.Error(err))

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		result.Kind = KindFailed
		result.StatusCode = resp.StatusCode
		result.ContentLength = len(resp.Body)
		result.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
		r.engine.logger.Warn("fetch returned error status",
			zap.String("url", entry.URL.String()), zap.Int("status", resp.StatusCode))

	case !resp.IsHTML():
		result.Kind = KindNonHTML
		result.StatusCode = resp.StatusCode
		result.ContentLength = len(resp.Body)
		fetchBytesTotal.Add(float64(len(resp.Body)))

	default:
		content := r.engine.extractor.Extract(resp.Body, landed)
		result.Kind = KindSuccess
		result.StatusCode = resp.StatusCode
		result.ContentLength = len(resp.Body)
		result.Title = content.Title
		result.Meta = content.MetaDescription
		result.Text = content.Text
		if r.job.RetainHTML {
			result.HTML = resp.Body
		}
		fetchBytesTotal.Add(float64(len(resp.Body)))
		r.enqueueLinks(content.Links, entry)
	}

	r.agg.add(result)
}

// fetchWithRetry repeats the fetch per the retry policy with jittered
// backoff. The returned response reflects the final attempt.
func (r *jobRun) fetchWithRetry(ctx context.Context, url string) (fetch.Response, error) {
	var resp fetch.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = r.engine.fetcher.Fetch(ctx, fetch.Request{URL: url})
		status := 0
		if err == nil {
			status = resp.StatusCode
		}
		if !r.engine.retry.ShouldRetry(err, status, attempt) {
			return resp, err
		}
		fetchRetriesTotal.Inc()
		r.engine.logger.Debug("retrying fetch",
			zap.String("url", url), zap.Int("attempt", attempt+1),
			zap.Int("status", status), zap.Error(err))
		sleepContext(ctx, r.engine.retry.Backoff(attempt))
	}
}

// enqueueLinks submits discovered links back through the scope filter and
// frontier. Out-of-scope links vanish silently; the frontier handles
// dedup and budgets.
func (r *jobRun) enqueueLinks(links []urlutil.NormalizedURL, parent frontier.Entry) {
	for _, link := range links {
		if !r.filter.InScope(link) {
			continue
		}
		r.frontier.Enqueue(link, parent.Depth+1, parent.URL.String())
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
