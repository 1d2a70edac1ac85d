package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrInvalidConfidence = errors.New("confidence must be in [0,1]")
	ErrInvalidValue      = errors.New("invalid claim value")
	ErrTypeMismatch      = errors.New("value kind does not match the key's established kind")
	ErrKeyNotFound       = errors.New("key not found")
	ErrClaimNotFound     = errors.New("claim not found")
	ErrInvalidStatus     = errors.New("invalid status transition")
)

// keyLedger holds one key's full claim history. The first claim binds the
// key's value kind for the ledger's lifetime.
type keyLedger struct {
	kind          domain.ValueKind
	claims        []*domain.Claim
	latestByAgent map[string]uuid.UUID
}

// Ledger is the append-only claim history. Claims are immutable once
// appended; only their status transitions, and nothing is ever physically
// deleted. Every append is stamped with a store-wide monotonic sequence so
// ordering is deterministic under writer clock skew.
type Ledger struct {
	mu      sync.RWMutex
	seq     uint64
	keys    map[string]*keyLedger
	byID    map[uuid.UUID]*domain.Claim
	nowFunc func() time.Time

	// supersedePerAgent enables single-latest-claim semantics: a newer
	// claim from an agent supersedes that agent's previous active claim on
	// the same key.
	supersedePerAgent bool
}

func NewLedger(supersedePerAgent bool) *Ledger {
	return &Ledger{
		keys:              make(map[string]*keyLedger),
		byID:              make(map[uuid.UUID]*domain.Claim),
		nowFunc:           time.Now,
		supersedePerAgent: supersedePerAgent,
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.nowFunc = now
}

// Append validates and records a claim, assigning its ID, logical sequence
// and store wall timestamp. The caller's claim struct is copied; the ledger
// keeps exclusive ownership of its records.
func (l *Ledger) Append(c domain.Claim) (*domain.Claim, error) {
	if c.Confidence < 0 || c.Confidence > 1 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidConfidence, c.Confidence)
	}
	if err := c.Value.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.keys[c.Key]
	if !ok {
		kl = &keyLedger{kind: c.Value.Kind, latestByAgent: make(map[string]uuid.UUID)}
		l.keys[c.Key] = kl
	} else if c.Value.Kind != kl.kind {
		return nil, fmt.Errorf("%w: key %q expects %s, got %s", ErrTypeMismatch, c.Key, kl.kind, c.Value.Kind)
	}

	l.seq++
	stored := c
	stored.ID = uuid.New()
	stored.Seq = l.seq
	stored.RecordedAt = l.nowFunc()
	stored.Status = domain.ClaimActive
	if stored.Provenance.Timestamp.IsZero() {
		stored.Provenance.Timestamp = stored.RecordedAt
	}

	if l.supersedePerAgent && stored.Provenance.AgentID != "" {
		if prevID, ok := kl.latestByAgent[stored.Provenance.AgentID]; ok {
			if prev := l.byID[prevID]; prev != nil && prev.Status == domain.ClaimActive {
				prev.Status = domain.ClaimSuperseded
			}
		}
	}
	kl.latestByAgent[stored.Provenance.AgentID] = stored.ID

	kl.claims = append(kl.claims, &stored)
	l.byID[stored.ID] = &stored

	out := stored
	return &out, nil
}

// ActiveClaims returns copies of the key's active claims ordered by logical
// time ascending. A key with no claims yields an empty slice.
func (l *Ledger) ActiveClaims(key string) []domain.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kl, ok := l.keys[key]
	if !ok {
		return nil
	}
	out := make([]domain.Claim, 0, len(kl.claims))
	for _, c := range kl.claims {
		if c.Status == domain.ClaimActive {
			out = append(out, *c)
		}
	}
	return out
}

// History returns every claim ever appended for the key, in append order,
// including superseded and retired claims.
func (l *Ledger) History(key string) ([]domain.Claim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kl, ok := l.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	out := make([]domain.Claim, len(kl.claims))
	for i, c := range kl.claims {
		out[i] = *c
	}
	return out, nil
}

// GetClaim returns a copy of a single claim by ID.
func (l *Ledger) GetClaim(id uuid.UUID) (*domain.Claim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.byID[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	out := *c
	return &out, nil
}

// MarkStatus transitions a claim's status. Active claims may become
// superseded or retired; terminal states never transition back.
func (l *Ledger) MarkStatus(id uuid.UUID, status domain.ClaimStatus) error {
	if !domain.ValidClaimStatus(string(status)) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.byID[id]
	if !ok {
		return ErrClaimNotFound
	}
	if c.Status != domain.ClaimActive && status != c.Status {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, c.Status, status)
	}
	c.Status = status
	return nil
}

// HasKey reports whether the key has ever received a claim.
func (l *Ledger) HasKey(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.keys[key]
	return ok
}

// Keys returns every key with at least one claim, in no particular order.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		out = append(out, k)
	}
	return out
}
