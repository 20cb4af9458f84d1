//go:build property
// +build property

package provider

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Property: no combination of provider reachability ever yields a
// remote provider at CONFIDENTIAL. The eligibility rule is part of the
// engine, so even a policy listing remotes first cannot leak.
func TestConfidentialNeverRemoteProperty(t *testing.T) {
	// Remotes deliberately listed first and given the best latency.
	doc := `
version: "1.0.0"
name: adversarial
classification: {}
providers:
  - name: remote-1
    kind: remote
    endpoint: fast.example.com:443
  - name: remote-2
    kind: remote
    endpoint: faster.example.com:443
  - name: local-1
    kind: local
    endpoint: 127.0.0.1:11434
channels:
  restricted: [file]
  public: [file]
`
	p, err := policy.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("CONFIDENTIAL never selects remote", prop.ForAll(
		func(r1, r2, l1 bool) bool {
			up := map[string]time.Duration{}
			if r1 {
				up["remote-1"] = time.Microsecond
			}
			if r2 {
				up["remote-2"] = 2 * time.Microsecond
			}
			if l1 {
				up["local-1"] = time.Second
			}
			s := NewSelector(WithProber(&fakeProber{up: up}), WithCacheTTL(0))
			sel := s.Select(context.Background(), policy.TierConfidential, p)

			if !l1 {
				return !sel.Allowed && sel.Reason == DenyNoLocalProvider
			}
			return sel.Allowed && sel.Provider.Kind == policy.ProviderLocal
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}
