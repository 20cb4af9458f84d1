// Package provider selects an eligible backend for a classified
// operation, probing candidate reachability under one shared deadline.
package provider

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Candidate is the ephemeral probe result for one configured provider.
// Derived per evaluation, never persisted.
type Candidate struct {
	Name      string              `json:"name"`
	Kind      policy.ProviderKind `json:"kind"`
	Reachable bool                `json:"reachable"`
	Latency   time.Duration       `json:"latency"`
}

// Prober checks whether one provider endpoint answers. Implementations
// must not mutate shared state and must honor the context deadline.
type Prober interface {
	Probe(ctx context.Context, p policy.Provider) (time.Duration, error)
}

// DialProber probes by opening and closing a TCP connection to the
// provider endpoint. Good enough for "is the backend up": every
// supported backend listens on a TCP port, and a protocol-level health
// call would add a dependency on each backend's API surface.
type DialProber struct{}

func (DialProber) Probe(ctx context.Context, p policy.Provider) (time.Duration, error) {
	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Endpoint)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}

// cacheEntry is one remembered probe outcome.
type cacheEntry struct {
	candidate Candidate
	expires   time.Time
}

// probeCache remembers recent probe results for a bounded TTL and rate
// limits how often any one provider is re-probed, so a burst of
// evaluations does not hammer backend health endpoints.
type probeCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]cacheEntry
	limiters map[string]*rate.Limiter
	clock    func() time.Time
}

func newProbeCache(ttl time.Duration) *probeCache {
	return &probeCache{
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
		limiters: make(map[string]*rate.Limiter),
		clock:    time.Now,
	}
}

// get returns a cached candidate if it is still fresh.
func (c *probeCache) get(name string) (Candidate, bool) {
	if c == nil {
		return Candidate{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok || c.clock().After(e.expires) {
		return Candidate{}, false
	}
	return e.candidate, true
}

func (c *probeCache) put(cand Candidate) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cand.Name] = cacheEntry{candidate: cand, expires: c.clock().Add(c.ttl)}
}

// allow reports whether a fresh probe of name is permitted right now.
// When the limiter says no and nothing is cached, the candidate is
// treated as unreachable rather than waiting: selection latency stays
// bounded.
func (c *probeCache) allow(name string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[name]
	if !ok {
		// Steady-state one probe per TTL window, small burst for startup.
		lim = rate.NewLimiter(rate.Every(c.ttl), 3)
		c.limiters[name] = lim
	}
	return lim.Allow()
}
