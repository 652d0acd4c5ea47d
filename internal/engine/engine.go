package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/clock"
	"github.com/agoralabs/agora-crawler/internal/extract"
	"github.com/agoralabs/agora-crawler/internal/fetch"
	"github.com/agoralabs/agora-crawler/internal/frontier"
	"github.com/agoralabs/agora-crawler/internal/robots"
	"github.com/agoralabs/agora-crawler/internal/scope"
	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// Config holds the engine knobs shared by every job it runs.
type Config struct {
	UserAgent      string
	Workers        int
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	DefaultDelay   time.Duration
}

const defaultWorkers = 10

// Engine executes crawl jobs. It is safe for concurrent use; each Run owns
// its frontier, robots cache, throttle, and aggregator, so jobs never share
// mutable state.
type Engine struct {
	cfg       Config
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	retry     *fetch.RetryPolicy
	clock     clock.Clock
	logger    *zap.Logger
}

// New constructs an Engine around the given fetcher.
func New(cfg Config, fetcher fetch.Fetcher, clk clock.Clock, logger *zap.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extract.New(logger),
		retry:     fetch.NewRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		clock:     clk,
		logger:    logger,
	}
}

// Run crawls from the job's seed until the frontier empties, a limit is
// hit, or ctx is cancelled, and returns the finalized report. The only
// error it can return is an unusable seed or job description; per-URL
// failures are recorded in the report instead.
func (e *Engine) Run(ctx context.Context, job Job) (*Report, error) {
	seed, err := urlutil.Normalize(job.SeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if job.MaxDepth < 0 {
		return nil, fmt.Errorf("max_depth must be >= 0, got %d", job.MaxDepth)
	}
	if job.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must be >= 0, got %d", job.MaxPages)
	}
	filter, err := scope.New(seed, job.IncludeSubdomains, job.IncludePatterns, job.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("job scope: %w", err)
	}

	start := e.clock.Now()
	run := &jobRun{
		engine:   e,
		job:      job,
		filter:   filter,
		frontier: frontier.New(job.MaxDepth, job.MaxPages),
		robots: robots.NewCache(
			&http.Client{Timeout: e.cfg.RequestTimeout},
			e.cfg.UserAgent,
			e.logger,
		),
		throttle: newOriginThrottle(),
		agg:      newAggregator(seed.Host()),
	}

	e.logger.Info("crawl started",
		zap.String("seed", seed.String()),
		zap.Int("max_depth", job.MaxDepth),
		zap.Int("max_pages", job.MaxPages),
		zap.Int("workers", e.cfg.Workers),
	)

	run.frontier.Enqueue(seed, 0, "")
	for ctx.Err() == nil {
		wave := run.frontier.NextWave()
		if wave == nil {
			break
		}
		run.dispatch(ctx, wave)
	}

	finished := e.clock.Now()
	elapsed := finished.Sub(start)
	status := StatusCompleted
	switch {
	case ctx.Err() != nil:
		status = StatusCancelled
	case run.frontier.Truncated():
		status = StatusPartiallyFailed
	}

	report := run.agg.finalize(status, elapsed, finished)
	jobsTotal.WithLabelValues(string(status)).Inc()
	jobDurationSeconds.Observe(elapsed.Seconds())

	e.logger.Info("crawl finished",
		zap.String("seed", seed.String()),
		zap.String("status", string(status)),
		zap.Int("total_pages", report.TotalPages),
		zap.Int("successful_pages", report.SuccessfulPages),
		zap.Duration("elapsed", elapsed),
	)
	return report, nil
}

// jobRun is the per-job state shared by the workers of one crawl.
type jobRun struct {
	engine   *Engine
	job      Job
	filter   *scope.Filter
	frontier *frontier.Frontier
	robots   *robots.Cache
	throttle *originThrottle
	agg      *aggregator
}

// dispatch fans one depth wave out over a fixed-size worker pool and waits
// for the wave to drain. Entries discovered while processing land in the
// next wave, so depth d is fully dispatched before depth d+1 begins.
func (r *jobRun) dispatch(ctx context.Context, wave []frontier.Entry) {
	entries := make(chan frontier.Entry)
	var wg sync.WaitGroup
	for i := 0; i < r.engine.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entries {
				r.process(ctx, entry)
			}
		}()
	}

feed:
	for _, entry := range wave {
		select {
		case entries <- entry:
		case <-ctx.Done():
			break feed
		}
	}
	close(entries)
	wg.Wait()
}
