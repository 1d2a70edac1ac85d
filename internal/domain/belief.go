package domain

import (
	"time"

	"github.com/google/uuid"
)

// Hypothesis is one fused candidate value for a key. ProbabilityMass is the
// hypothesis's aggregate confidence normalized across all hypotheses for
// the key; normalization is explicit in the fusion engine, never implicit.
type Hypothesis struct {
	Value               Value       `json:"value"`
	AggregateConfidence float64     `json:"aggregate_confidence"`
	ProbabilityMass     float64     `json:"probability_mass"`
	SupportingClaimIDs  []uuid.UUID `json:"supporting_claim_ids"`
	LastUpdated         time.Time   `json:"last_updated"`
}

// DecayState tracks per-key sweep bookkeeping.
type DecayState struct {
	LastSweep     time.Time `json:"last_sweep,omitempty"`
	RetiredClaims int       `json:"retired_claims"`
}

// BeliefItem is the full fused state for a key: every live hypothesis,
// ordered by descending aggregate confidence. DisputeFlag is set when at
// least two hypotheses exceed the materiality floor.
type BeliefItem struct {
	Key         string       `json:"key"`
	Hypotheses  []Hypothesis `json:"hypotheses"`
	DisputeFlag bool         `json:"dispute_flag"`
	DecayState  DecayState   `json:"decay_state"`
}

// BeliefView is what a caller sees after the resolution policy has been
// applied. Decided is false when the policy declines to collapse (consensus
// below threshold, or keep_all_escalate).
type BeliefView struct {
	Key         string       `json:"key"`
	Policy      string       `json:"policy"`
	Decided     bool         `json:"decided"`
	Current     *Hypothesis  `json:"current,omitempty"`
	Hypotheses  []Hypothesis `json:"hypotheses"`
	DisputeFlag bool         `json:"dispute_flag"`
}

// EvidenceEntry is one row of an explain trace: a claim, its status, and
// the salience it contributes right now.
type EvidenceEntry struct {
	ClaimID    uuid.UUID   `json:"claim_id"`
	AgentID    string      `json:"agent_id"`
	Value      Value       `json:"value"`
	Confidence float64     `json:"confidence"`
	Status     ClaimStatus `json:"status"`
	Salience   float64     `json:"salience"`
	Hypothesis int         `json:"hypothesis"` // index into the belief's hypotheses, -1 if inactive
}

// EvidenceTrace explains how a key's current hypotheses came to be.
type EvidenceTrace struct {
	Key         string          `json:"key"`
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []EvidenceEntry `json:"entries"`
}

// CloneHypotheses deep-copies a hypothesis slice so snapshots handed to
// callers and subscribers share no mutable state with the store.
func CloneHypotheses(hs []Hypothesis) []Hypothesis {
	if hs == nil {
		return nil
	}
	out := make([]Hypothesis, len(hs))
	for i, h := range hs {
		out[i] = h
		out[i].SupportingClaimIDs = append([]uuid.UUID(nil), h.SupportingClaimIDs...)
	}
	return out
}

// EqualHypotheses reports whether two hypothesis sets are identical, used to
// decide whether a recompute actually changed the belief.
func EqualHypotheses(a, b []Hypothesis) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Value.Equal(b[i].Value) ||
			a[i].AggregateConfidence != b[i].AggregateConfidence ||
			a[i].ProbabilityMass != b[i].ProbabilityMass ||
			len(a[i].SupportingClaimIDs) != len(b[i].SupportingClaimIDs) {
			return false
		}
		for j := range a[i].SupportingClaimIDs {
			if a[i].SupportingClaimIDs[j] != b[i].SupportingClaimIDs[j] {
				return false
			}
		}
	}
	return true
}
