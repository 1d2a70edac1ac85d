package domain

import (
	"time"

	"github.com/google/uuid"
)

type ClaimStatus string

const (
	ClaimActive     ClaimStatus = "active"
	ClaimSuperseded ClaimStatus = "superseded"
	ClaimRetired    ClaimStatus = "retired"
)

func ValidClaimStatus(s string) bool {
	switch ClaimStatus(s) {
	case ClaimActive, ClaimSuperseded, ClaimRetired:
		return true
	}
	return false
}

// Provenance records who asserted a claim, and when by the writer's clock.
// TrustWeight, when set, overrides the store's trust source for this claim.
type Provenance struct {
	AgentID     string    `json:"agent_id"`
	Role        string    `json:"role,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	TrustWeight *float64  `json:"trust_weight,omitempty"`
}

// Claim is an immutable assertion of a value for a key. Value, Confidence
// and Provenance never change after creation; only Status transitions
// (active -> superseded or retired). Seq is the store-assigned logical time
// and RecordedAt the store-assigned wall time, so ordering does not depend
// on writer clocks.
type Claim struct {
	ID         uuid.UUID   `json:"id"`
	Key        string      `json:"key"`
	Value      Value       `json:"value"`
	Confidence float64     `json:"confidence"`
	Provenance Provenance  `json:"provenance"`
	Status     ClaimStatus `json:"status"`
	Seq        uint64      `json:"seq"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// ConflictRecord links two claims on the same key whose values are mutually
// incompatible. Records never delete the claims they reference; a multi-way
// disagreement produces one record per violating pair, all sharing GroupID.
type ConflictRecord struct {
	ID         uuid.UUID      `json:"id"`
	GroupID    uuid.UUID      `json:"group_id"`
	Key        string         `json:"key"`
	ClaimA     uuid.UUID      `json:"claim_a"`
	ClaimB     uuid.UUID      `json:"claim_b"`
	Reason     string         `json:"reason"`
	DetectedAt time.Time      `json:"detected_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
