package crawler

import "sync"

// frontier owns the pending queue and the visited set for one crawl. Every
// check-and-mark happens under a single mutex so two tasks can never claim
// the same URL.
type frontier struct {
	mu      sync.Mutex
	queue   []CrawlTarget
	queued  map[string]struct{}
	visited map[string]struct{}
}

func newFrontier() *frontier {
	return &frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// offer appends target unless its URL is already visited or queued.
func (f *frontier) offer(target CrawlTarget) bool {
	if target.URL == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[target.URL]; seen {
		return false
	}
	if _, pending := f.queued[target.URL]; pending {
		return false
	}
	f.queued[target.URL] = struct{}{}
	f.queue = append(f.queue, target)
	return true
}

// take removes up to n targets from the head of the queue.
func (f *frontier) take(n int) []CrawlTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := make([]CrawlTarget, n)
	copy(batch, f.queue[:n])
	f.queue = f.queue[n:]
	for _, t := range batch {
		delete(f.queued, t.URL)
	}
	return batch
}

// claim marks url visited and reports whether the caller won it.
func (f *frontier) claim(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[url]; seen {
		return false
	}
	f.visited[url] = struct{}{}
	return true
}

func (f *frontier) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *frontier) visitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}
