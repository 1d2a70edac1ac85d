package domain

import (
	"context"
	"time"
)

// EventType identifies an audit event emitted to the ingestion substrate.
type EventType string

const (
	EventClaimAccepted     EventType = "claim_accepted"
	EventConflictDetected  EventType = "conflict_detected"
	EventHypothesisChanged EventType = "hypothesis_changed"
	EventClaimRetired      EventType = "claim_retired"
	EventSweepWarning      EventType = "sweep_warning"
)

// Event is the structured record emitted on every accepted state change.
// The substrate owns persistence of the audit log; the store only emits.
type Event struct {
	Type      EventType      `json:"event_type"`
	Key       string         `json:"key"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives audit events. Emission failures are logged by the
// store, never propagated to writers.
type EventSink interface {
	Emit(ctx context.Context, e Event) error
}

// TrustSource supplies a trust weight in [0,1] for an agent. The partner
// model collaborator registers one; absent that, every agent weighs 1.0.
type TrustSource interface {
	TrustWeight(agentID string) float64
}

// EscalationSink is notified when a key is left in dispute under an
// escalating policy. Invoked asynchronously, outside any critical section.
type EscalationSink interface {
	Escalate(key string, item BeliefItem)
}

// DisputeHandler and BeliefHandler are subscription hooks fired
// synchronously after each recompute, for consumers that need event-driven
// updates rather than polling.
type (
	DisputeHandler func(key string, rec ConflictRecord)
	BeliefHandler  func(key string, item BeliefItem)
)

// NopEventSink discards all events.
type NopEventSink struct{}

func (NopEventSink) Emit(context.Context, Event) error { return nil }

// FixedTrust assigns the same weight to every agent.
type FixedTrust float64

func (t FixedTrust) TrustWeight(string) float64 { return float64(t) }

// TrustMap is a static per-agent trust table; unknown agents fall back to
// Default.
type TrustMap struct {
	Weights map[string]float64
	Default float64
}

func (t TrustMap) TrustWeight(agentID string) float64 {
	if w, ok := t.Weights[agentID]; ok {
		return w
	}
	return t.Default
}

// NopEscalation ignores escalations.
type NopEscalation struct{}

func (NopEscalation) Escalate(string, BeliefItem) {}
