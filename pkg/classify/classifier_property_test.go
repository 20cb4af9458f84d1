//go:build property
// +build property

package classify

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Property: for arbitrary resource id sets, the set classification is
// the join over single-element classifications, and repeated calls
// agree.
func TestClassifyJoinProperty(t *testing.T) {
	p, err := policy.Parse([]byte(testPolicy))
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	resourceGen := gen.SliceOf(gen.OneConstOf(
		"/public-cache/510k.json",
		"/public-cache/maude.json",
		"/projects/p1/device_profile.json",
		"/projects/p2/submission.docx",
		"/scratch/tmp.bin",
		"",
	))
	opGen := gen.OneConstOf("validate", "fetch", "analyze", "draft", "mystery", "")

	properties.Property("set classification is the monotonic join", prop.ForAll(
		func(ids []string, op string) bool {
			got := Classify(ids, op, p)
			want := Classify(nil, op, p)
			for _, id := range ids {
				want = policy.MaxTier(want, Classify([]string{id}, op, p))
			}
			return got == want
		},
		resourceGen, opGen,
	))

	properties.Property("classification is deterministic", prop.ForAll(
		func(ids []string, op string) bool {
			return Classify(ids, op, p) == Classify(ids, op, p)
		},
		resourceGen, opGen,
	))

	properties.Property("unknown inputs never resolve to PUBLIC", prop.ForAll(
		func(suffix string, op string) bool {
			id := "/unclassified/" + suffix
			return Classify([]string{id}, op, p) != policy.TierPublic
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
