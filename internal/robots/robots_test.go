package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLookupParsesDirectives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\nCrawl-delay: 2\n")
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), "agora-test", zap.NewNop())
	rec := cache.Lookup(context.Background(), srv.URL)

	require.True(t, rec.Allowed("/public/page"))
	require.False(t, rec.Allowed("/private/page"))
	require.Equal(t, 2*time.Second, rec.CrawlDelay(time.Second))
}

func TestLookupPermissiveOnMissingRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), "agora-test", zap.NewNop())
	rec := cache.Lookup(context.Background(), srv.URL)

	require.True(t, rec.Allowed("/anything"))
	require.Equal(t, time.Second, rec.CrawlDelay(time.Second), "default delay applies")
}

func TestLookupPermissiveOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), "agora-test", zap.NewNop())
	require.True(t, cache.Lookup(context.Background(), srv.URL).Allowed("/x"))
}

func TestLookupPermissiveOnUnreachableOrigin(t *testing.T) {
	cache := NewCache(&http.Client{Timeout: 200 * time.Millisecond}, "agora-test", zap.NewNop())
	rec := cache.Lookup(context.Background(), "http://127.0.0.1:1")
	require.True(t, rec.Allowed("/x"))
}

func TestLookupAgentSpecificGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: agora-test\nDisallow: /only-for-us/\n\nUser-agent: *\nDisallow: /\n")
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), "agora-test", zap.NewNop())
	rec := cache.Lookup(context.Background(), srv.URL)

	require.True(t, rec.Allowed("/open"), "exact agent group overrides wildcard")
	require.False(t, rec.Allowed("/only-for-us/page"))
}

func TestLookupSingleFetchPerOrigin(t *testing.T) {
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), "agora-test", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Lookup(context.Background(), srv.URL)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), fetches.Load(), "concurrent first lookups must collapse to one fetch")
	require.Equal(t, 1, cache.Len())

	cache.Lookup(context.Background(), srv.URL)
	require.Equal(t, int64(1), fetches.Load(), "records are never revalidated")
}
