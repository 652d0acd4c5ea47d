package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pagesTotal tracks per-URL outcomes across all jobs.
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_pages_total",
		Help: "Pages processed, labeled by outcome.",
	}, []string{"outcome"})
	// fetchRetriesTotal counts retry attempts beyond the first fetch.
	fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_fetch_retries_total",
		Help: "HTTP fetch retries performed.",
	})
	// fetchBytesTotal counts response body bytes read.
	fetchBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_fetch_bytes_total",
		Help: "Response body bytes fetched.",
	})
	// jobsTotal tracks finished jobs by terminal status.
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_jobs_total",
		Help: "Crawl jobs finished, labeled by terminal status.",
	}, []string{"status"})
	// jobDurationSeconds observes wall-clock job durations.
	jobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agora_job_duration_seconds",
		Help:    "Wall clock duration of crawl jobs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
