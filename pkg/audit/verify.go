package audit

import (
	"fmt"
	"path/filepath"
)

// VerifyResult reports chain integrity. FirstBreakID localizes the
// earliest divergence for forensics; a broken chain is evidence, never
// something to repair in place.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	Events       uint64 `json:"events"`
	Segments     int    `json:"segments"`
	FirstBreakID string `json:"first_break_event_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// VerifyDir walks every segment of the log directory in chain order,
// recomputes each event's hash from its stored fields, and checks the
// previous-hash linkage, including the genesis handoff across sealed
// segment boundaries.
func VerifyDir(dir string) (VerifyResult, error) {
	names, err := listSegments(dir)
	if err != nil {
		return VerifyResult{}, err
	}

	res := VerifyResult{Valid: true, Segments: len(names)}
	expectPrev := Genesis

	for _, name := range names {
		err := readSegment(filepath.Join(dir, name), func(rec wireRecord) error {
			switch rec.Type {
			case recordOpen:
				if rec.Open == nil {
					return breakf(&res, "", "segment %s: empty open record", name)
				}
				if rec.Open.Genesis != expectPrev {
					return breakf(&res, "",
						"segment %s: genesis %s does not continue chain head %s",
						name, rec.Open.Genesis, expectPrev)
				}
			case recordEvent:
				e := rec.Event
				if e == nil {
					return breakf(&res, "", "segment %s: empty event record", name)
				}
				if e.PrevHash != expectPrev {
					return breakf(&res, e.ID,
						"event %s (seq %d): prev_hash %s, chain head was %s",
						e.ID, e.Sequence, e.PrevHash, expectPrev)
				}
				recomputed, err := computeEventHash(e)
				if err != nil {
					return breakf(&res, e.ID, "event %s (seq %d): %v", e.ID, e.Sequence, err)
				}
				if recomputed != e.Hash {
					return breakf(&res, e.ID,
						"event %s (seq %d): stored hash %s, recomputed %s",
						e.ID, e.Sequence, e.Hash, recomputed)
				}
				expectPrev = e.Hash
				res.Events++
			case recordSeal:
				if rec.Seal == nil {
					return breakf(&res, "", "segment %s: empty seal record", name)
				}
				if rec.Seal.FinalHash != expectPrev {
					return breakf(&res, "",
						"segment %s: seal final_hash %s, chain head was %s",
						name, rec.Seal.FinalHash, expectPrev)
				}
			default:
				return breakf(&res, "", "segment %s: unknown record type %q", name, rec.Type)
			}
			return nil
		})
		if err != nil {
			if err == errStopScan {
				return res, nil
			}
			return VerifyResult{}, err
		}
	}
	return res, nil
}

// Verify checks a slice of events (e.g. fresh Query output) without
// touching disk. The first event's PrevHash anchors the check.
func Verify(events []*Event) VerifyResult {
	res := VerifyResult{Valid: true}
	if len(events) == 0 {
		return res
	}
	expectPrev := events[0].PrevHash
	for _, e := range events {
		if e.PrevHash != expectPrev {
			_ = breakf(&res, e.ID, "event %s (seq %d): prev_hash %s, chain head was %s",
				e.ID, e.Sequence, e.PrevHash, expectPrev)
			return res
		}
		recomputed, err := computeEventHash(e)
		if err != nil || recomputed != e.Hash {
			_ = breakf(&res, e.ID, "event %s (seq %d): stored hash does not recompute", e.ID, e.Sequence)
			return res
		}
		expectPrev = e.Hash
		res.Events++
	}
	return res
}

// breakf marks the result broken and returns errStopScan so segment
// walking halts at the first divergence.
func breakf(res *VerifyResult, eventID, format string, args ...any) error {
	res.Valid = false
	res.FirstBreakID = eventID
	res.Reason = fmt.Sprintf(format, args...)
	return errStopScan
}
