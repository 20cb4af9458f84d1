//go:build property
// +build property

package channel

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Property: at CONFIDENTIAL, every channel name except local storage is
// denied, no matter what the policy whitelists.
func TestConfidentialLockdownProperty(t *testing.T) {
	p, err := policy.Parse([]byte(testPolicy))
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("only local storage passes at CONFIDENTIAL", prop.ForAll(
		func(name string) bool {
			ok, _ := Validate(policy.TierConfidential, name, p)
			return ok == (name == LocalStorage)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
