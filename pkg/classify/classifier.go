// Package classify maps touched resources and an operation to a
// classification tier.
//
// Classification is pure computation over the loaded policy: no I/O,
// no clock, no randomness. Identical inputs always yield the identical
// tier, and the tier for a set of resources is the join (most
// restrictive) of the tiers its members would get individually.
package classify

import (
	"regexp"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Classify resolves the tier for one operation touching resourceIDs.
//
// Order matters and is fixed:
//  1. Any resource matching a confidential pattern short-circuits the
//     whole call to CONFIDENTIAL.
//  2. Derived/intelligence operations classify as RESTRICTED even over
//     public inputs, since their output is new conclusions. This runs
//     before the public check so a policy that lists an operation in
//     both sets resolves to the more restrictive answer.
//  3. PUBLIC requires every resource AND the operation to be
//     whitelisted; a single unmatched input disqualifies the set.
//  4. Everything else defaults to RESTRICTED. Unknown inputs must never
//     resolve to PUBLIC.
func Classify(resourceIDs []string, operationID string, p *policy.Policy) policy.Tier {
	for _, id := range resourceIDs {
		if matchesAny(id, p.ConfidentialMatchers()) {
			return policy.TierConfidential
		}
	}

	if p.IsRestrictedOperation(operationID) {
		return policy.TierRestricted
	}

	if allPublic(resourceIDs, operationID, p) {
		return policy.TierPublic
	}

	return policy.TierRestricted
}

// ClassifyEach returns the tier each resource would get on its own,
// paired with the operation. Exposed for audit detail; Classify is
// always the join of these values.
func ClassifyEach(resourceIDs []string, operationID string, p *policy.Policy) map[string]policy.Tier {
	out := make(map[string]policy.Tier, len(resourceIDs))
	for _, id := range resourceIDs {
		out[id] = Classify([]string{id}, operationID, p)
	}
	return out
}

func allPublic(resourceIDs []string, operationID string, p *policy.Policy) bool {
	if !p.IsPublicOperation(operationID) {
		return false
	}
	for _, id := range resourceIDs {
		if !matchesAny(id, p.PublicMatchers()) {
			return false
		}
	}
	return true
}

func matchesAny(id string, matchers []*regexp.Regexp) bool {
	for _, re := range matchers {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}
