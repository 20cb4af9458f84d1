package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quayside-labs/keel/pkg/policy"
)

// DenyNoLocalProvider is the denial reason when a tier requires a local
// backend and none answered.
const DenyNoLocalProvider = "no eligible local provider reachable"

// WarnRemoteRestricted is attached when RESTRICTED data is handed to a
// backend outside the operator's boundary.
const WarnRemoteRestricted = "RESTRICTED data processed by remote provider"

// DenyUnknownTier is the denial reason for a classification value that
// is not one of the known tiers.
const DenyUnknownTier = "unrecognized classification tier"

const (
	defaultProbeTimeout = 2 * time.Second
	// maxSelectWait bounds the whole selection regardless of how many
	// candidates are configured. Probes run concurrently against this
	// one deadline, so worst-case latency is flat, not linear.
	maxSelectWait = 5 * time.Second

	defaultCacheTTL = 30 * time.Second
)

// Selection is the outcome of one provider-selection pass.
type Selection struct {
	Allowed    bool        `json:"allowed"`
	Provider   *Candidate  `json:"provider,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Selector probes configured providers and applies tier eligibility.
//
// The CONFIDENTIAL rule is deliberately not read from the policy: only
// local-kind providers are ever eligible at that tier, so a
// misconfigured policy cannot route confidential data off-box.
type Selector struct {
	prober Prober
	cache  *probeCache
}

// Option configures a Selector.
type Option func(*Selector)

// WithProber replaces the TCP dial prober, mainly for tests.
func WithProber(p Prober) Option {
	return func(s *Selector) { s.prober = p }
}

// WithCacheTTL sets how long probe results are reused. Zero disables
// caching entirely.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Selector) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = newProbeCache(ttl)
	}
}

// NewSelector builds a Selector with a dial prober and a default
// probe-result cache.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		prober: DialProber{},
		cache:  newProbeCache(defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select probes every configured candidate concurrently and returns an
// eligible backend for the tier, or a denial.
//
// Decision rules:
//   - CONFIDENTIAL: local-kind only, unconditionally. No reachable
//     local provider means denied.
//   - RESTRICTED: prefer a reachable local provider; a remote one is
//     acceptable with a warning.
//   - PUBLIC: any reachable provider, lowest latency first.
//   - Anything else is denied. A tier value outside the lattice means
//     classification state is corrupted, and corruption never relaxes
//     enforcement.
func (s *Selector) Select(ctx context.Context, tier policy.Tier, p *policy.Policy) Selection {
	candidates := s.probeAll(ctx, p.Providers)

	var locals, remotes []Candidate
	for _, c := range candidates {
		if !c.Reachable {
			continue
		}
		if c.Kind == policy.ProviderLocal {
			locals = append(locals, c)
		} else {
			remotes = append(remotes, c)
		}
	}
	byLatency(locals)
	byLatency(remotes)

	switch tier {
	case policy.TierConfidential:
		if len(locals) == 0 {
			return Selection{Allowed: false, Reason: DenyNoLocalProvider, Candidates: candidates}
		}
		return Selection{Allowed: true, Provider: &locals[0], Candidates: candidates}

	case policy.TierRestricted:
		if len(locals) > 0 {
			return Selection{Allowed: true, Provider: &locals[0], Candidates: candidates}
		}
		if len(remotes) > 0 {
			return Selection{
				Allowed:    true,
				Provider:   &remotes[0],
				Warnings:   []string{WarnRemoteRestricted},
				Candidates: candidates,
			}
		}
		return Selection{Allowed: false, Reason: "no provider reachable", Candidates: candidates}

	case policy.TierPublic:
		all := append(append([]Candidate{}, locals...), remotes...)
		byLatency(all)
		if len(all) == 0 {
			return Selection{Allowed: false, Reason: "no provider reachable", Candidates: candidates}
		}
		return Selection{Allowed: true, Provider: &all[0], Candidates: candidates}

	default:
		return Selection{Allowed: false, Reason: DenyUnknownTier, Candidates: candidates}
	}
}

// probeAll fans out one goroutine per candidate under a single shared
// deadline. Results come back in configuration order.
func (s *Selector) probeAll(ctx context.Context, providers []policy.Provider) []Candidate {
	ctx, cancel := context.WithTimeout(ctx, maxSelectWait)
	defer cancel()

	results := make([]Candidate, len(providers))
	var wg sync.WaitGroup
	for i, prov := range providers {
		if cached, ok := s.cache.get(prov.Name); ok {
			results[i] = cached
			continue
		}
		if !s.cache.allow(prov.Name) {
			// Rate limited with no fresh cache entry: treat as down
			// rather than stall the evaluation.
			results[i] = Candidate{Name: prov.Name, Kind: prov.Kind, Reachable: false}
			continue
		}

		wg.Add(1)
		go func(i int, prov policy.Provider) {
			defer wg.Done()
			timeout := prov.ProbeTimeout
			if timeout <= 0 {
				timeout = defaultProbeTimeout
			}
			probeCtx, probeCancel := context.WithTimeout(ctx, timeout)
			defer probeCancel()

			cand := Candidate{Name: prov.Name, Kind: prov.Kind}
			if latency, err := s.prober.Probe(probeCtx, prov); err == nil {
				cand.Reachable = true
				cand.Latency = latency
			}
			results[i] = cand
			s.cache.put(cand)
		}(i, prov)
	}
	wg.Wait()
	return results
}

func byLatency(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Latency < cs[j].Latency })
}
