package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/keel/pkg/policy"
)

const testPolicy = `
version: "1.0.0"
name: channel-test
classification: {}
providers: []
channels:
  restricted: [file, local-report]
  public: [file, local-report, email, group-chat]
`

func loadPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Parse([]byte(testPolicy))
	require.NoError(t, err)
	return p
}

func TestConfidentialLockdown(t *testing.T) {
	p := loadPolicy(t)

	ok, reason := Validate(policy.TierConfidential, LocalStorage, p)
	assert.True(t, ok)
	assert.Empty(t, reason)

	// Everything that is not local storage is denied, including
	// channels the policy whitelists for lower tiers.
	for _, ch := range []string{"group-chat", "email", "local-report", "slack", "s3", "webhook", "ftp", "x"} {
		ok, reason := Validate(policy.TierConfidential, ch, p)
		assert.False(t, ok, "channel %q must be denied at CONFIDENTIAL", ch)
		assert.Contains(t, reason, "CONFIDENTIAL")
	}
}

func TestWhitelistPerTier(t *testing.T) {
	p := loadPolicy(t)

	ok, _ := Validate(policy.TierRestricted, "local-report", p)
	assert.True(t, ok)

	ok, reason := Validate(policy.TierRestricted, "group-chat", p)
	assert.False(t, ok)
	assert.Contains(t, reason, "RESTRICTED")

	ok, _ = Validate(policy.TierPublic, "group-chat", p)
	assert.True(t, ok)
}

func TestUnknownChannelDefaultDeny(t *testing.T) {
	p := loadPolicy(t)

	for _, tier := range []policy.Tier{policy.TierPublic, policy.TierRestricted, policy.TierConfidential} {
		ok, reason := Validate(tier, "telepathy", p)
		assert.False(t, ok, "tier %s", tier)
		assert.NotEmpty(t, reason)
	}
}

func TestEmptyChannelDenied(t *testing.T) {
	p := loadPolicy(t)
	ok, reason := Validate(policy.TierPublic, "", p)
	assert.False(t, ok)
	assert.Equal(t, "no output channel requested", reason)
}
