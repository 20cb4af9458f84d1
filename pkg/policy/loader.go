package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Loader error kinds. Each requires a different operator remediation,
// so callers must be able to tell them apart with errors.Is.
var (
	ErrPolicyMissing    = errors.New("policy source missing")
	ErrPolicyMalformed  = errors.New("policy source malformed")
	ErrPolicyWritable   = errors.New("policy source writable")
	ErrPolicyUnreadable = errors.New("policy source unreadable")
)

// SchemaVersion is the major policy schema version this loader accepts.
const SchemaVersion = 1

// policyDoc is the on-disk YAML shape. Durations are strings so
// operators write "2s" or "720h" rather than nanosecond counts.
type policyDoc struct {
	Version        string `yaml:"version"`
	Name           string `yaml:"name"`
	Classification struct {
		ConfidentialPatterns []string `yaml:"confidential_patterns"`
		PublicPatterns       []string `yaml:"public_patterns"`
		PublicOperations     []string `yaml:"public_operations"`
		RestrictedOperations []string `yaml:"restricted_operations"`
	} `yaml:"classification"`
	Providers []struct {
		Name         string `yaml:"name"`
		Kind         string `yaml:"kind"`
		Endpoint     string `yaml:"endpoint"`
		ProbeTimeout string `yaml:"probe_timeout"`
	} `yaml:"providers"`
	Channels struct {
		Restricted []string `yaml:"restricted"`
		Public     []string `yaml:"public"`
	} `yaml:"channels"`
	Retention   string `yaml:"retention"`
	Enforcement struct {
		ConfidentialLocalOnly bool `yaml:"confidential_local_only"`
		DenyUnknownChannels   bool `yaml:"deny_unknown_channels"`
	} `yaml:"enforcement"`
}

// Load reads, verifies, and compiles a policy from path.
//
// Verification is fail-closed: a source that is missing, malformed, or
// writable by any principal other than the owner is rejected before any
// rule is trusted. The writable check is the tamper-evidence capability
// the rest of the subsystem relies on; platforms without POSIX
// permission bits need an equivalent proof (read-only mount, signature)
// in front of this loader.
func Load(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyMissing, path)
		}
		// Present but inaccessible is a different operator problem than
		// absent; keep the kinds honest.
		return nil, fmt.Errorf("%w: stat %s: %v", ErrPolicyUnreadable, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrPolicyMalformed, path)
	}
	if err := verifyReadOnly(info); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyMissing, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrPolicyUnreadable, path, err)
	}
	return Parse(raw)
}

// verifyReadOnly rejects a policy file that any principal could have
// modified between operator review and process start. Owner write is
// tolerated: the owner is the controlling operator by definition here.
func verifyReadOnly(info fs.FileInfo) error {
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		return fmt.Errorf("%w: mode %04o allows group/other write", ErrPolicyWritable, perm)
	}
	return nil
}

// Parse decodes, schema-validates, and compiles a policy document.
// Split from Load so tests and the lint subcommand can exercise the
// full pipeline without the filesystem permission check.
func Parse(raw []byte) (*Policy, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMalformed, err)
	}
	if err := documentSchema().Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrPolicyMalformed, err)
	}

	var doc policyDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMalformed, err)
	}

	ver, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrPolicyMalformed, doc.Version, err)
	}
	if ver.Major() != SchemaVersion {
		return nil, fmt.Errorf("%w: version %s: schema major %d unsupported (want %d)",
			ErrPolicyMalformed, doc.Version, ver.Major(), SchemaVersion)
	}

	p := &Policy{
		Version: doc.Version,
		Name:    doc.Name,
		Classification: Classification{
			ConfidentialPatterns: doc.Classification.ConfidentialPatterns,
			PublicPatterns:       doc.Classification.PublicPatterns,
			PublicOperations:     doc.Classification.PublicOperations,
			RestrictedOperations: doc.Classification.RestrictedOperations,
		},
		Channels: Channels{
			Restricted: doc.Channels.Restricted,
			Public:     doc.Channels.Public,
		},
		Enforcement: Enforcement{
			ConfidentialLocalOnly: doc.Enforcement.ConfidentialLocalOnly,
			DenyUnknownChannels:   doc.Enforcement.DenyUnknownChannels,
		},
	}

	p.Retention, err = parseDuration(doc.Retention, "retention")
	if err != nil {
		return nil, err
	}

	for _, pd := range doc.Providers {
		kind := ProviderKind(strings.ToLower(pd.Kind))
		if kind != ProviderLocal && kind != ProviderRemote {
			return nil, fmt.Errorf("%w: provider %q: kind %q", ErrPolicyMalformed, pd.Name, pd.Kind)
		}
		timeout, err := parseDuration(pd.ProbeTimeout, "provider "+pd.Name+" probe_timeout")
		if err != nil {
			return nil, err
		}
		p.Providers = append(p.Providers, Provider{
			Name:         pd.Name,
			Kind:         kind,
			Endpoint:     pd.Endpoint,
			ProbeTimeout: timeout,
		})
	}

	if err := p.compile(); err != nil {
		return nil, fmt.Errorf("%w: pattern: %v", ErrPolicyMalformed, err)
	}
	return p, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrPolicyMalformed, field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s %q is negative", ErrPolicyMalformed, field, s)
	}
	return d, nil
}

// documentSchema compiles the embedded JSON Schema once.
var documentSchema = sync.OnceValue(func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(documentSchemaJSON)); err != nil {
		panic(fmt.Sprintf("policy: embedded schema load: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded schema compile: %v", err))
	}
	return s
})
