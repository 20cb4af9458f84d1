// Package audit implements the append-only, hash-chained audit log
// that records every gateway decision, plus chain verification and a
// forward-scan query interface.
//
// Each event embeds the previous event's hash, so any undetected edit
// of history requires recomputing every later hash. That makes a
// single-writer log tamper-evident; it is deliberately not a Merkle
// tree and does not support concurrent multi-process writers. A
// deployment that needs multiple writers must put one serialization
// point (a writer service or an OS file lock) in front of this log.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/quayside-labs/keel/pkg/policy"
)

// Genesis is the previous-hash sentinel for the first event of the
// first segment. Later segments chain from the prior segment's final
// hash instead.
const Genesis = "genesis"

// Event is one immutable audit record. Events are never mutated or
// deleted; Hash covers every field except itself.
type Event struct {
	ID             string        `json:"id"`
	Sequence       uint64        `json:"sequence"`
	Timestamp      time.Time     `json:"timestamp"`
	ActorID        string        `json:"actor_id"`
	SessionID      string        `json:"session_id"`
	OperationID    string        `json:"operation_id"`
	Classification policy.Tier   `json:"classification"`
	Provider       string        `json:"provider,omitempty"`
	Channel        string        `json:"channel,omitempty"`
	Allowed        bool          `json:"allowed"`
	Success        bool          `json:"success"`
	Duration       time.Duration `json:"duration_ns,omitempty"`
	Violations     []string      `json:"violations,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	DecisionHash   string        `json:"decision_hash,omitempty"`
	PrevHash       string        `json:"prev_hash"`
	Hash           string        `json:"hash"`
}

// Record is the caller-supplied input to Append: the decision fields
// plus how the action itself went.
type Record struct {
	ActorID        string
	SessionID      string
	OperationID    string
	Classification policy.Tier
	Provider       string
	Channel        string
	Allowed        bool
	Success        bool
	Duration       time.Duration
	Violations     []string
	Warnings       []string
	DecisionHash   string
}

// computeEventHash hashes the fixed-order canonical form of the event.
// The previous hash is part of the input, which is what links the
// chain. JCS canonicalization makes the byte form independent of map
// ordering or encoder quirks, so verification can recompute it from a
// re-read event.
func computeEventHash(e *Event) (string, error) {
	hashable := struct {
		ID             string        `json:"id"`
		Sequence       uint64        `json:"sequence"`
		Timestamp      time.Time     `json:"timestamp"`
		ActorID        string        `json:"actor_id"`
		SessionID      string        `json:"session_id"`
		OperationID    string        `json:"operation_id"`
		Classification policy.Tier   `json:"classification"`
		Provider       string        `json:"provider"`
		Channel        string        `json:"channel"`
		Allowed        bool          `json:"allowed"`
		Success        bool          `json:"success"`
		Duration       time.Duration `json:"duration_ns"`
		Violations     []string      `json:"violations"`
		Warnings       []string      `json:"warnings"`
		DecisionHash   string        `json:"decision_hash"`
		PrevHash       string        `json:"prev_hash"`
	}{
		ID:             e.ID,
		Sequence:       e.Sequence,
		Timestamp:      e.Timestamp,
		ActorID:        e.ActorID,
		SessionID:      e.SessionID,
		OperationID:    e.OperationID,
		Classification: e.Classification,
		Provider:       e.Provider,
		Channel:        e.Channel,
		Allowed:        e.Allowed,
		Success:        e.Success,
		Duration:       e.Duration,
		Violations:     e.Violations,
		Warnings:       e.Warnings,
		DecisionHash:   e.DecisionHash,
		PrevHash:       e.PrevHash,
	}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("audit: marshal event for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize event for hashing: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
