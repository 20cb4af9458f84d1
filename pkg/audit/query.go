package audit

import (
	"path/filepath"
	"time"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Filter narrows a query. Zero-valued fields match everything. The
// store is append-only and read rarely, so one linear forward scan is
// the whole query engine; no secondary index is kept on the chain
// files themselves (see Mirror for an indexed read replica).
type Filter struct {
	ActorID        string
	OperationID    string
	Classification policy.Tier
	After          time.Time
	Before         time.Time
	AllowedOnly    bool
	DeniedOnly     bool
	Limit          int
}

func (f Filter) matches(e *Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.OperationID != "" && e.OperationID != f.OperationID {
		return false
	}
	if f.Classification != "" && e.Classification != f.Classification {
		return false
	}
	if !f.After.IsZero() && e.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && e.Timestamp.After(f.Before) {
		return false
	}
	if f.AllowedOnly && !e.Allowed {
		return false
	}
	if f.DeniedOnly && e.Allowed {
		return false
	}
	return true
}

// QueryDir scans every segment in dir in append order and returns the
// events matching the filter.
func QueryDir(dir string, f Filter) ([]*Event, error) {
	names, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	var out []*Event
	for _, name := range names {
		err := readSegment(filepath.Join(dir, name), func(rec wireRecord) error {
			if rec.Type != recordEvent || rec.Event == nil {
				return nil
			}
			if !f.matches(rec.Event) {
				return nil
			}
			out = append(out, rec.Event)
			if f.Limit > 0 && len(out) >= f.Limit {
				return errStopScan
			}
			return nil
		})
		if err != nil && err != errStopScan {
			return nil, err
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Query runs a filtered scan over this log's directory. Safe to call
// concurrently with Append: every event line is written and synced
// whole, so a reader never observes a torn record.
func (l *Log) Query(f Filter) ([]*Event, error) {
	return QueryDir(l.dir, f)
}
