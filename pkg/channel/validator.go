// Package channel enforces the per-tier output channel whitelist.
package channel

import (
	"fmt"

	"github.com/quayside-labs/keel/pkg/policy"
)

// LocalStorage is the only channel ever permitted for CONFIDENTIAL
// output. Everything networked or collaborative is denied at that tier
// no matter what the policy says.
const LocalStorage = "file"

// Validate checks whether channel is a permitted egress for tier.
//
// The returned reason is empty on allow and states which rule denied
// otherwise, with enough detail that an operator can remediate without
// reading source.
func Validate(tier policy.Tier, channel string, p *policy.Policy) (bool, string) {
	if channel == "" {
		return false, "no output channel requested"
	}

	if tier == policy.TierConfidential {
		if channel == LocalStorage {
			return true, ""
		}
		return false, fmt.Sprintf("channel %q is not permitted for CONFIDENTIAL output; only %q is allowed", channel, LocalStorage)
	}

	for _, allowed := range p.ChannelWhitelist(tier) {
		if channel == allowed {
			return true, ""
		}
	}
	// Default-deny: a channel the policy never mentions is refused.
	return false, fmt.Sprintf("channel %q is not whitelisted for %s output", channel, tier)
}
