// Package frontier holds the pending-URL queue and visited set for a
// single crawl job.
package frontier

import (
	"sync"

	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// Entry is one admitted URL awaiting fetch. Entries are created once and
// never mutated; each is consumed by exactly one worker.
type Entry struct {
	URL    urlutil.NormalizedURL
	Depth  int
	Parent string
}

// Frontier tracks which URLs a job has seen and hands out work strictly in
// depth order: every depth-d entry is dispatched before any depth-(d+1)
// entry. All state is guarded by one mutex per job, so concurrent workers
// can never double-admit a URL.
type Frontier struct {
	mu        sync.Mutex
	visited   map[string]struct{}
	waves     map[int][]Entry
	depth     int
	maxDepth  int
	maxPages  int
	admitted  int
	truncated bool
}

// New builds a Frontier. maxPages <= 0 means no page budget.
func New(maxDepth, maxPages int) *Frontier {
	return &Frontier{
		visited:  make(map[string]struct{}),
		waves:    make(map[int][]Entry),
		maxDepth: maxDepth,
		maxPages: maxPages,
	}
}

// Enqueue admits the URL unless it was already seen, its depth exceeds the
// depth limit, or the page budget is exhausted. Budget refusals of unseen
// URLs mark the job truncated; dedup refusals do not.
func (f *Frontier) Enqueue(u urlutil.NormalizedURL, depth int, parent string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.visited[u.Key()]; seen {
		return false
	}
	if depth > f.maxDepth {
		f.truncated = true
		return false
	}
	if f.maxPages > 0 && f.admitted >= f.maxPages {
		f.truncated = true
		return false
	}

	f.visited[u.Key()] = struct{}{}
	f.admitted++
	f.waves[depth] = append(f.waves[depth], Entry{URL: u, Depth: depth, Parent: parent})
	return true
}

// NextWave removes and returns every entry at the current depth, or nil
// once the frontier is exhausted. Processing a wave may only enqueue
// deeper entries, so successive calls yield strictly increasing depths.
func (f *Frontier) NextWave() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.depth <= f.maxDepth {
		wave := f.waves[f.depth]
		if len(wave) > 0 {
			delete(f.waves, f.depth)
			f.depth++
			return wave
		}
		f.depth++
	}
	return nil
}

// Truncated reports whether a limit cut off in-scope, unseen URLs.
func (f *Frontier) Truncated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.truncated
}

// Admitted returns the number of URLs admitted so far.
func (f *Frontier) Admitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admitted
}
