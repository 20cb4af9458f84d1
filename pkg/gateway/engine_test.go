package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/keel/pkg/channel"
	"github.com/quayside-labs/keel/pkg/policy"
	"github.com/quayside-labs/keel/pkg/provider"
)

const testPolicy = `
version: "1.0.0"
name: gateway-test
classification:
  confidential_patterns:
    - '^/projects/'
    - 'device_profile'
  public_patterns:
    - '^/public-cache/'
  public_operations: [validate, fetch]
  restricted_operations: [analyze, summarize, draft]
providers:
  - name: ollama
    kind: local
    endpoint: 127.0.0.1:11434
    probe_timeout: 1s
  - name: openai
    kind: remote
    endpoint: api.openai.com:443
    probe_timeout: 1s
channels:
  restricted: [file, local-report]
  public: [file, local-report, email, group-chat]
retention: 720h
`

type fakeProber struct {
	up map[string]time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, p policy.Provider) (time.Duration, error) {
	if lat, ok := f.up[p.Name]; ok {
		return lat, nil
	}
	return 0, errors.New("connection refused")
}

func newTestEngine(t *testing.T, up map[string]time.Duration) *Engine {
	t.Helper()
	p, err := policy.Parse([]byte(testPolicy))
	require.NoError(t, err)
	sel := provider.NewSelector(provider.WithProber(&fakeProber{up: up}), provider.WithCacheTTL(0))
	return NewEngine(p, WithSelector(sel))
}

// Confidential resource to a collaboration channel: denied before any
// provider is probed.
func TestEvaluateConfidentialChannelDenied(t *testing.T) {
	e := newTestEngine(t, map[string]time.Duration{"ollama": time.Millisecond})

	d := e.Evaluate(context.Background(), Request{
		OperationID: "draft",
		ResourceIDs: []string{"/projects/p1/device_profile.json"},
		Channel:     "group-chat",
		ActorID:     "alice",
		SessionID:   "s-1",
	})

	assert.Equal(t, policy.TierConfidential, d.Classification)
	assert.False(t, d.ChannelAllowed)
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Provider)
	require.Len(t, d.Errors, 1)
	assert.Contains(t, d.Errors[0], "not permitted for CONFIDENTIAL")
}

// Public resource, public operation, only a remote backend up: allowed
// with no warnings.
func TestEvaluatePublicRemoteProvider(t *testing.T) {
	e := newTestEngine(t, map[string]time.Duration{"openai": time.Millisecond})

	d := e.Evaluate(context.Background(), Request{
		OperationID: "validate",
		ResourceIDs: []string{"/public-cache/510k.json"},
		Channel:     "file",
		ActorID:     "alice",
		SessionID:   "s-1",
	})

	assert.Equal(t, policy.TierPublic, d.Classification)
	assert.True(t, d.ChannelAllowed)
	assert.True(t, d.Allowed)
	require.NotNil(t, d.Provider)
	assert.Equal(t, "openai", d.Provider.Name)
	assert.Empty(t, d.Warnings)
	assert.Empty(t, d.Errors)
}

// Derived operation with only a remote backend: allowed but flagged.
func TestEvaluateRestrictedRemoteWarns(t *testing.T) {
	e := newTestEngine(t, map[string]time.Duration{"openai": time.Millisecond})

	d := e.Evaluate(context.Background(), Request{
		OperationID: "analyze",
		Channel:     "file",
		ActorID:     "alice",
		SessionID:   "s-1",
	})

	assert.Equal(t, policy.TierRestricted, d.Classification)
	assert.True(t, d.Allowed)
	require.NotNil(t, d.Provider)
	assert.Equal(t, policy.ProviderRemote, d.Provider.Kind)
	assert.Equal(t, []string{provider.WarnRemoteRestricted}, d.Warnings)
}

// Same call with a confidential path added and no local backend:
// denied outright.
func TestEvaluateConfidentialNoLocalDenied(t *testing.T) {
	e := newTestEngine(t, map[string]time.Duration{"openai": time.Millisecond})

	d := e.Evaluate(context.Background(), Request{
		OperationID: "analyze",
		ResourceIDs: []string{"/projects/p1/device_profile.json"},
		Channel:     "file",
		ActorID:     "alice",
		SessionID:   "s-1",
	})

	assert.Equal(t, policy.TierConfidential, d.Classification)
	assert.True(t, d.ChannelAllowed)
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Provider)
	require.Len(t, d.Errors, 1)
	assert.Equal(t, provider.DenyNoLocalProvider, d.Errors[0])
}

func TestEvaluateDeterministic(t *testing.T) {
	e := newTestEngine(t, map[string]time.Duration{
		"ollama": 2 * time.Millisecond,
		"openai": time.Millisecond,
	})
	req := Request{
		OperationID: "summarize",
		ResourceIDs: []string{"/public-cache/a.json", "/scratch/b"},
		Channel:     "local-report",
		ActorID:     "bob",
		SessionID:   "s-2",
	}

	first := e.Evaluate(context.Background(), req)
	for i := 0; i < 20; i++ {
		d := e.Evaluate(context.Background(), req)
		assert.Equal(t, first.Classification, d.Classification)
		assert.Equal(t, first.Allowed, d.Allowed)
		assert.Equal(t, first.ChannelAllowed, d.ChannelAllowed)
		assert.Equal(t, first.Errors, d.Errors)
		assert.Equal(t, first.Warnings, d.Warnings)
		assert.Equal(t, first.Provider.Name, d.Provider.Name)
		// The decision hash excludes correlation ID and timestamp, so
		// identical inputs hash identically.
		assert.Equal(t, first.Hash, d.Hash)
		assert.NotEqual(t, first.ID, d.ID)
	}
}

func TestEvaluateChannelDenialSkipsProbing(t *testing.T) {
	p, err := policy.Parse([]byte(testPolicy))
	require.NoError(t, err)

	probed := false
	sel := provider.NewSelector(
		provider.WithProber(proberFunc(func(ctx context.Context, prov policy.Provider) (time.Duration, error) {
			probed = true
			return time.Millisecond, nil
		})),
		provider.WithCacheTTL(0),
	)
	e := NewEngine(p, WithSelector(sel))

	d := e.Evaluate(context.Background(), Request{
		OperationID: "analyze",
		Channel:     "telepathy",
		ActorID:     "alice",
	})

	assert.False(t, d.Allowed)
	assert.False(t, probed, "a doomed call must not generate probe traffic")
}

type proberFunc func(ctx context.Context, p policy.Provider) (time.Duration, error)

func (f proberFunc) Probe(ctx context.Context, p policy.Provider) (time.Duration, error) {
	return f(ctx, p)
}

func TestDecisionHashStable(t *testing.T) {
	d := &Decision{
		OperationID:    "draft",
		ActorID:        "alice",
		Classification: policy.TierConfidential,
		Channel:        channel.LocalStorage,
		ChannelAllowed: true,
		Allowed:        true,
	}
	h1, err := ComputeDecisionHash(d)
	require.NoError(t, err)
	h2, err := ComputeDecisionHash(d)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	d.Allowed = false
	h3, err := ComputeDecisionHash(d)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
