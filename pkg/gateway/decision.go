package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/quayside-labs/keel/pkg/policy"
	"github.com/quayside-labs/keel/pkg/provider"
)

// Request carries everything one evaluation needs. Actor and session
// identifiers are supplied by the caller and trusted; identity
// verification happens upstream.
type Request struct {
	OperationID string   `json:"operation_id"`
	ResourceIDs []string `json:"resource_ids"`
	Channel     string   `json:"channel"`
	ActorID     string   `json:"actor_id"`
	SessionID   string   `json:"session_id"`
}

// Decision is the immutable result of one Evaluate call. Denials are
// Decisions, never errors: a caller can always distinguish "denied by
// policy" from "evaluation is broken".
type Decision struct {
	ID             string              `json:"id"`
	Timestamp      time.Time           `json:"timestamp"`
	OperationID    string              `json:"operation_id"`
	ActorID        string              `json:"actor_id"`
	SessionID      string              `json:"session_id"`
	Classification policy.Tier         `json:"classification"`
	Provider       *provider.Candidate `json:"provider,omitempty"`
	Channel        string              `json:"channel"`
	ChannelAllowed bool                `json:"channel_allowed"`
	Allowed        bool                `json:"allowed"`
	Errors         []string            `json:"errors,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
	Hash           string              `json:"hash,omitempty"`
}

// ComputeDecisionHash produces a deterministic SHA-256 over the
// JCS-canonical form of the decision's policy-relevant fields. The
// correlation ID and timestamp are excluded so identical inputs yield
// identical hashes across calls.
func ComputeDecisionHash(d *Decision) (string, error) {
	hashInput := struct {
		OperationID    string      `json:"operation_id"`
		ActorID        string      `json:"actor_id"`
		Classification policy.Tier `json:"classification"`
		Provider       string      `json:"provider"`
		Channel        string      `json:"channel"`
		ChannelAllowed bool        `json:"channel_allowed"`
		Allowed        bool        `json:"allowed"`
		Errors         []string    `json:"errors"`
		Warnings       []string    `json:"warnings"`
	}{
		OperationID:    d.OperationID,
		ActorID:        d.ActorID,
		Classification: d.Classification,
		Channel:        d.Channel,
		ChannelAllowed: d.ChannelAllowed,
		Allowed:        d.Allowed,
		Errors:         d.Errors,
		Warnings:       d.Warnings,
	}
	if d.Provider != nil {
		hashInput.Provider = d.Provider.Name
	}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("gateway: decision hash marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("gateway: decision hash canonicalization: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
