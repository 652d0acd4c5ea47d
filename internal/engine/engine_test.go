package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/clock"
	"github.com/agoralabs/agora-crawler/internal/fetch"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "agora-test"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Millisecond
	}
	fetcher := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout,
	}, zap.NewNop())
	return New(cfg, fetcher, clock.New(), zap.NewNop())
}

func page(title string, links ...string) string {
	body := "<html><head><title>" + title + "</title></head><body>"
	for _, l := range links {
		body += fmt.Sprintf(`<a href=%q>%s</a>`, l, l)
	}
	return body + "<p>content of " + title + "</p></body></html>"
}

func serveHTML(w http.ResponseWriter, html string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func TestRunSeedScenario(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			serveHTML(w, page("Seed", "/a", "/b", "/c", "http://elsewhere.invalid/out"))
		case "/a", "/b", "/c":
			serveHTML(w, page("Leaf "+r.URL.Path))
		default:
			http.NotFound(w, r)
		}
	})

	e := newTestEngine(t, Config{Workers: 4})
	report, err := e.Run(context.Background(), Job{
		SeedURL:  srv.URL + "/",
		MaxDepth: 1,
		MaxPages: 10,
	})
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, report.Status)
	require.Equal(t, 4, report.TotalPages)
	require.Equal(t, 4, report.SuccessfulPages)

	var depth0, depth1 int
	seen := make(map[string]int)
	for _, entry := range report.URLsScraped {
		seen[entry.URL]++
		require.LessOrEqual(t, entry.CrawlDepth, 1)
		require.NotContains(t, entry.URL, "elsewhere.invalid", "out-of-scope link must never be enqueued")
		switch entry.CrawlDepth {
		case 0:
			depth0++
			require.Empty(t, entry.ParentURL)
		case 1:
			depth1++
			require.Equal(t, srv.URL+"/", entry.ParentURL, "depth-1 parent must be the seed")
		}
	}
	require.Equal(t, 1, depth0)
	require.Equal(t, 3, depth1)
	for url, n := range seen {
		require.Equal(t, 1, n, "url %s recorded twice", url)
	}

	require.Len(t, report.WebpageContents, 4)
	require.Contains(t, report.WebpageContents[srv.URL+"/"], "content of Seed")
}

func TestRunRobotsDisallowedPath(t *testing.T) {
	var privateFetches atomic.Int64
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/private/page" {
			privateFetches.Add(1)
		}
		serveHTML(w, page("Seed", "/private/page", "/open"))
	})

	e := newTestEngine(t, Config{Workers: 2})
	report, err := e.Run(context.Background(), Job{
		SeedURL:  srv.URL + "/",
		MaxDepth: 1,
		MaxPages: 10,
	})
	require.NoError(t, err)

	require.Equal(t, int64(0), privateFetches.Load(), "robots-disallowed URL must never be fetched")
	require.Equal(t, 1, report.RobotsBlockedPages)

	var blocked *PageEntry
	for i := range report.URLsScraped {
		if report.URLsScraped[i].URL == srv.URL+"/private/page" {
			blocked = &report.URLsScraped[i]
		}
	}
	require.NotNil(t, blocked)
	require.False(t, blocked.RobotsAllowed)
	require.Zero(t, blocked.StatusCode)
	require.NotContains(t, report.WebpageContents, srv.URL+"/private/page")
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		serveHTML(w, page("Finally"))
	})

	e := newTestEngine(t, Config{Workers: 1, MaxRetries: 2})
	report, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxDepth: 0, MaxPages: 1})
	require.NoError(t, err)

	require.Equal(t, int64(3), hits.Load())
	require.Len(t, report.URLsScraped, 1, "retried URL yields exactly one result")
	require.Equal(t, http.StatusOK, report.URLsScraped[0].StatusCode, "status reflects the final attempt")
	require.Equal(t, 1, report.SuccessfulPages)
}

func TestRunFailsAfterRetryBudget(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	e := newTestEngine(t, Config{Workers: 1, MaxRetries: 2})
	report, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxDepth: 0, MaxPages: 1})
	require.NoError(t, err)

	require.Equal(t, int64(3), hits.Load(), "initial attempt plus two retries")
	require.Len(t, report.URLsScraped, 1)
	require.Equal(t, http.StatusInternalServerError, report.URLsScraped[0].StatusCode)
	require.Equal(t, "HTTP 500", report.URLsScraped[0].ErrorMessage)
	require.Equal(t, 1, report.FailedPages)
	require.Zero(t, report.SuccessfulPages)
	require.NotContains(t, report.WebpageContents, srv.URL+"/")
}

func TestRunMaxPagesTruncation(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, page("Seed", "/a", "/b"))
	})

	e := newTestEngine(t, Config{Workers: 2})
	report, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxDepth: 3, MaxPages: 1})
	require.NoError(t, err)

	require.Len(t, report.URLsScraped, 1)
	require.Equal(t, StatusPartiallyFailed, report.Status, "page budget cut off pending links")
}

func TestRunNonHTMLContent(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, page("Seed", "/report.pdf"))
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 fake")
	})

	e := newTestEngine(t, Config{Workers: 2})
	report, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)

	var pdf *PageEntry
	for i := range report.URLsScraped {
		if report.URLsScraped[i].URL == srv.URL+"/report.pdf" {
			pdf = &report.URLsScraped[i]
		}
	}
	require.NotNil(t, pdf)
	require.Equal(t, http.StatusOK, pdf.StatusCode)
	require.Equal(t, len("%PDF-1.4 fake"), pdf.ContentLength)
	require.Empty(t, pdf.Title, "no extraction for non-HTML content")
	require.NotContains(t, report.WebpageContents, srv.URL+"/report.pdf")
	require.Equal(t, 2, report.SuccessfulPages, "2xx non-HTML still counts as successful")
}

func TestRunCrawlDelaySpacing(t *testing.T) {
	const delay = 300 * time.Millisecond

	var mu sync.Mutex
	var pageTimes []time.Time
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pageTimes = append(pageTimes, time.Now())
		mu.Unlock()
		if r.URL.Path == "/" {
			serveHTML(w, page("Seed", "/a", "/b"))
			return
		}
		serveHTML(w, page("Leaf"))
	})

	e := newTestEngine(t, Config{Workers: 4})
	_, err := e.Run(context.Background(), Job{
		SeedURL:    srv.URL + "/",
		MaxDepth:   1,
		MaxPages:   10,
		CrawlDelay: delay,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pageTimes, 3)
	sort.Slice(pageTimes, func(i, j int) bool { return pageTimes[i].Before(pageTimes[j]) })
	for i := 1; i < len(pageTimes); i++ {
		gap := pageTimes[i].Sub(pageTimes[i-1])
		require.GreaterOrEqual(t, gap, delay-100*time.Millisecond,
			"same-origin fetches %d and %d too close", i-1, i)
	}
}

func TestRunCancellation(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			serveHTML(w, page("Seed", "/slow1", "/slow2"))
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			serveHTML(w, page("Slow"))
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	e := newTestEngine(t, Config{Workers: 2})
	start := time.Now()
	report, err := e.Run(ctx, Job{SeedURL: srv.URL + "/", MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 3*time.Second, "cancellation must not wait out slow fetches")

	require.Equal(t, StatusCancelled, report.Status)
	require.Equal(t, 1, report.TotalPages, "abandoned in-flight fetches emit no partial results")
	require.Equal(t, srv.URL+"/", report.URLsScraped[0].URL)
}

func TestRunIdempotentAgainstStaticFixture(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			serveHTML(w, page("Seed", "/a", "/b"))
		case "/a":
			serveHTML(w, page("A", "/b", "/c"))
		default:
			serveHTML(w, page("Other"))
		}
	})

	e := newTestEngine(t, Config{Workers: 4})
	job := Job{SeedURL: srv.URL + "/", MaxDepth: 2, MaxPages: 20}

	urlSet := func(r *Report) map[string]struct{} {
		set := make(map[string]struct{})
		for _, entry := range r.URLsScraped {
			set[entry.URL] = struct{}{}
		}
		return set
	}

	first, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), job)
	require.NoError(t, err)

	require.Equal(t, urlSet(first), urlSet(second))
	require.Equal(t, first.Status, second.Status)
}

func TestRunParentLinkageInvariant(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			serveHTML(w, page("Seed", "/l1"))
		case "/l1":
			serveHTML(w, page("L1", "/l2"))
		default:
			serveHTML(w, page("L2"))
		}
	})

	e := newTestEngine(t, Config{Workers: 2})
	report, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxDepth: 2, MaxPages: 10})
	require.NoError(t, err)

	byDepth := make(map[int]map[string]struct{})
	for _, entry := range report.URLsScraped {
		if byDepth[entry.CrawlDepth] == nil {
			byDepth[entry.CrawlDepth] = make(map[string]struct{})
		}
		byDepth[entry.CrawlDepth][entry.URL] = struct{}{}
	}
	for _, entry := range report.URLsScraped {
		if entry.CrawlDepth == 0 {
			continue
		}
		_, ok := byDepth[entry.CrawlDepth-1][entry.ParentURL]
		require.True(t, ok, "parent of %s must sit one depth above", entry.URL)
	}
}

func TestRunFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			serveHTML(w, page("Seed", "/old"))
		case "/old":
			http.Redirect(w, r, "/docs/new", http.StatusMovedPermanently)
		case "/docs/new":
			serveHTML(w, page("Landed", "page2"))
		case "/docs/page2":
			serveHTML(w, page("Deep"))
		default:
			http.NotFound(w, r)
		}
	})

	e := newTestEngine(t, Config{Workers: 2})
	report, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxDepth: 2, MaxPages: 10})
	require.NoError(t, err)

	var redirected *PageEntry
	urls := make(map[string]struct{})
	for i := range report.URLsScraped {
		urls[report.URLsScraped[i].URL] = struct{}{}
		if report.URLsScraped[i].URL == srv.URL+"/old" {
			redirected = &report.URLsScraped[i]
		}
	}
	require.NotNil(t, redirected)
	require.Equal(t, http.StatusOK, redirected.StatusCode)
	require.Equal(t, "Landed", redirected.Title)
	require.Equal(t, srv.URL+"/docs/new", redirected.FinalURL, "landed URL must be recorded")

	_, ok := urls[srv.URL+"/docs/page2"]
	require.True(t, ok, "relative links must resolve against the landed URL")
	_, ok = urls[srv.URL+"/page2"]
	require.False(t, ok, "resolving against the pre-redirect URL is a defect")
}

func TestRunInvalidSeed(t *testing.T) {
	e := newTestEngine(t, Config{Workers: 1})
	_, err := e.Run(context.Background(), Job{SeedURL: "not a url at all"})
	require.ErrorIs(t, err, ErrInvalidSeed)

	_, err = e.Run(context.Background(), Job{SeedURL: "mailto:nope@example.com"})
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestRunRetainHTMLSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, page("Snap"))
	})

	e := newTestEngine(t, Config{Workers: 1})
	withSnapshot, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxPages: 1, RetainHTML: true})
	require.NoError(t, err)
	require.Contains(t, withSnapshot.URLsScraped[0].HTML, "<title>Snap</title>")

	without, err := e.Run(context.Background(), Job{SeedURL: srv.URL + "/", MaxPages: 1})
	require.NoError(t, err)
	require.Empty(t, without.URLsScraped[0].HTML)
}
