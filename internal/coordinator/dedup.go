package coordinator

import "sync"

// inFlightGuard prevents two goroutines in the same process from racing to
// acquire the distributed lock for the same (strategy, interval_key) at
// once: the distributed lock alone makes this safe, but skipping the
// redundant attempt avoids a wasted lock round trip when two calls for the
// same key overlap in one process.
type inFlightGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

func newInFlightGuard() *inFlightGuard {
	return &inFlightGuard{running: make(map[string]bool)}
}

// enter reports whether the caller won the race for key; if true, the
// caller must call the returned release func when done.
func (g *inFlightGuard) enter(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[key] {
		return nil, false
	}
	g.running[key] = true
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.running, key)
	}, true
}
