// Package policy defines the versioned, read-only ruleset that drives
// classification, provider eligibility, and channel whitelisting.
//
// A Policy is loaded once per process from a source that must not be
// writable by anyone but the controlling operator. There is no hot
// reload: a policy change is an explicit operator action followed by a
// restart, so every ruleset a process ever enforces is auditable.
package policy

import (
	"regexp"
	"time"
)

// Tier is a data classification tier. Tiers are totally ordered by
// restrictiveness: PUBLIC < RESTRICTED < CONFIDENTIAL.
type Tier string

const (
	TierPublic       Tier = "PUBLIC"
	TierRestricted   Tier = "RESTRICTED"
	TierConfidential Tier = "CONFIDENTIAL"
)

var tierRank = map[Tier]int{
	TierPublic:       0,
	TierRestricted:   1,
	TierConfidential: 2,
}

// Rank returns the tier's position in the restrictiveness order.
// Unknown tiers rank above CONFIDENTIAL so a corrupted value can never
// relax enforcement.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return len(tierRank)
}

// AtLeast reports whether t is at least as restrictive as other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// MaxTier returns the most restrictive of a and b (the join over the
// tier lattice).
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// ProviderKind distinguishes backends that keep data inside the
// operator's boundary from those that do not.
type ProviderKind string

const (
	ProviderLocal  ProviderKind = "local"
	ProviderRemote ProviderKind = "remote"
)

// Provider describes one configured backend candidate.
type Provider struct {
	Name         string        `json:"name"`
	Kind         ProviderKind  `json:"kind"`
	Endpoint     string        `json:"endpoint"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
}

// Classification holds the ordered pattern rules. Confidential rules
// are evaluated first; public rules only apply when every input
// matches one.
type Classification struct {
	ConfidentialPatterns []string `json:"confidential_patterns"`
	PublicPatterns       []string `json:"public_patterns"`
	PublicOperations     []string `json:"public_operations"`
	// RestrictedOperations are derived/intelligence operations that
	// produce new conclusions from data and therefore never classify
	// below RESTRICTED.
	RestrictedOperations []string `json:"restricted_operations"`
}

// Channels is the per-tier output channel whitelist. CONFIDENTIAL has
// no entry on purpose: its channel set is a hard invariant of the
// validator, not a policy value.
type Channels struct {
	Restricted []string `json:"restricted"`
	Public     []string `json:"public"`
}

// Enforcement carries flags an operator cannot relax at runtime. They
// are recorded so the loaded ruleset is self-describing; the engine
// enforces the hard invariants regardless of their values.
type Enforcement struct {
	ConfidentialLocalOnly bool `json:"confidential_local_only"`
	DenyUnknownChannels   bool `json:"deny_unknown_channels"`
}

// Policy is the immutable, versioned ruleset for one process lifetime.
type Policy struct {
	Version        string         `json:"version"`
	Name           string         `json:"name"`
	Classification Classification `json:"classification"`
	Providers      []Provider     `json:"providers"`
	Channels       Channels       `json:"channels"`
	Retention      time.Duration  `json:"retention"`
	Enforcement    Enforcement    `json:"enforcement"`

	confidentialRe []*regexp.Regexp
	publicRe       []*regexp.Regexp
	restrictedOps  map[string]bool
	publicOps      map[string]bool
}

// ConfidentialMatchers returns the compiled confidential patterns.
func (p *Policy) ConfidentialMatchers() []*regexp.Regexp { return p.confidentialRe }

// PublicMatchers returns the compiled public patterns.
func (p *Policy) PublicMatchers() []*regexp.Regexp { return p.publicRe }

// IsRestrictedOperation reports whether op is a derived/intelligence
// operation.
func (p *Policy) IsRestrictedOperation(op string) bool { return p.restrictedOps[op] }

// IsPublicOperation reports whether op is whitelisted as PUBLIC.
func (p *Policy) IsPublicOperation(op string) bool { return p.publicOps[op] }

// ChannelWhitelist returns the configured channel whitelist for a tier.
// CONFIDENTIAL always returns nil: its allowed set is fixed by the
// validator and cannot be widened by configuration.
func (p *Policy) ChannelWhitelist(t Tier) []string {
	switch t {
	case TierRestricted:
		return p.Channels.Restricted
	case TierPublic:
		return p.Channels.Public
	default:
		return nil
	}
}

// compile builds the derived lookup structures. Called by the loader
// after a successful parse; any invalid regex fails the load.
func (p *Policy) compile() error {
	p.confidentialRe = make([]*regexp.Regexp, 0, len(p.Classification.ConfidentialPatterns))
	for _, pat := range p.Classification.ConfidentialPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return err
		}
		p.confidentialRe = append(p.confidentialRe, re)
	}

	p.publicRe = make([]*regexp.Regexp, 0, len(p.Classification.PublicPatterns))
	for _, pat := range p.Classification.PublicPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return err
		}
		p.publicRe = append(p.publicRe, re)
	}

	p.restrictedOps = make(map[string]bool, len(p.Classification.RestrictedOperations))
	for _, op := range p.Classification.RestrictedOperations {
		p.restrictedOps[op] = true
	}
	p.publicOps = make(map[string]bool, len(p.Classification.PublicOperations))
	for _, op := range p.Classification.PublicOperations {
		p.publicOps[op] = true
	}
	return nil
}
