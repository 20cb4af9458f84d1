// keelctl is the operator tool for the keel policy gateway: verify an
// audit log's hash chain, query its events, and lint a policy document
// before marking it read-only.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quayside-labs/keel/pkg/audit"
	"github.com/quayside-labs/keel/pkg/policy"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out so tests can drive it.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "query":
		return runQuery(args[2:], stdout, stderr)
	case "lint":
		return runLint(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "keelctl: unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  keelctl verify <log-dir>           verify audit chain integrity
  keelctl query [flags] <log-dir>    list audit events
  keelctl lint <policy.yaml>         parse and validate a policy document`)
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "emit the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "keelctl verify: exactly one log directory required")
		return 2
	}

	res, err := audit.VerifyDir(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "keelctl verify: %v\n", err)
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else if res.Valid {
		fmt.Fprintf(stdout, "chain valid: %d events across %d segments\n", res.Events, res.Segments)
	} else {
		fmt.Fprintf(stdout, "chain BROKEN: %s\n", res.Reason)
		if res.FirstBreakID != "" {
			fmt.Fprintf(stdout, "first broken event: %s\n", res.FirstBreakID)
		}
	}

	if !res.Valid {
		return 1
	}
	return 0
}

func runQuery(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		actor     = fs.String("actor", "", "filter by actor id")
		operation = fs.String("operation", "", "filter by operation id")
		tier      = fs.String("classification", "", "filter by classification tier")
		since     = fs.String("since", "", "only events after this RFC 3339 time")
		until     = fs.String("until", "", "only events before this RFC 3339 time")
		denied    = fs.Bool("denied", false, "only denied events")
		limit     = fs.Int("limit", 0, "maximum events to return (0 = all)")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "keelctl query: exactly one log directory required")
		return 2
	}

	f := audit.Filter{
		ActorID:        *actor,
		OperationID:    *operation,
		Classification: policy.Tier(*tier),
		DeniedOnly:     *denied,
		Limit:          *limit,
	}
	var err error
	if f.After, err = parseTimeFlag(*since); err != nil {
		fmt.Fprintf(stderr, "keelctl query: -since: %v\n", err)
		return 2
	}
	if f.Before, err = parseTimeFlag(*until); err != nil {
		fmt.Fprintf(stderr, "keelctl query: -until: %v\n", err)
		return 2
	}

	events, err := audit.QueryDir(fs.Arg(0), f)
	if err != nil {
		fmt.Fprintf(stderr, "keelctl query: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	for _, e := range events {
		_ = enc.Encode(e)
	}
	return 0
}

func runLint(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "keelctl lint: exactly one policy file required")
		return 2
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "keelctl lint: %v\n", err)
		return 1
	}
	p, err := policy.Parse(raw)
	if err != nil {
		fmt.Fprintf(stderr, "keelctl lint: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "policy %q version %s: ok\n", p.Name, p.Version)
	fmt.Fprintf(stdout, "  providers: %d, confidential patterns: %d, public patterns: %d\n",
		len(p.Providers), len(p.Classification.ConfidentialPatterns), len(p.Classification.PublicPatterns))

	locals := 0
	for _, prov := range p.Providers {
		if prov.Kind == policy.ProviderLocal {
			locals++
		}
	}
	if locals == 0 {
		fmt.Fprintln(stdout, "  warning: no local provider configured; CONFIDENTIAL operations will always be denied")
	}
	return 0
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
