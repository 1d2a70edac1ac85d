package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/credal-io/credal/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrKeyNotFound = store.ErrKeyNotFound

// keyState serializes all mutation for one key and holds its latest fused
// snapshot. Writes to different keys proceed fully in parallel.
type keyState struct {
	mu     sync.Mutex
	belief *domain.BeliefItem
}

// BeliefService owns the whole belief pipeline for one deployment: it
// appends claims, detects conflicts, fuses hypotheses and answers queries.
// The append -> detect -> score -> fuse path is atomic per key; queries
// observe either the state before or after a concurrent write, never a
// partially fused one.
type BeliefService struct {
	opts   Options
	ledger *store.Ledger
	log    *store.ConflictLog

	detector *ConflictDetector
	scorer   *SalienceScorer
	fusion   *FusionEngine
	resolver *PolicyResolver

	sink       domain.EventSink
	escalation domain.EscalationSink
	logger     *zap.Logger
	nowFunc    func() time.Time

	mu   sync.RWMutex
	keys map[string]*keyState

	subMu       sync.RWMutex
	disputeSubs []domain.DisputeHandler
	beliefSubs  []domain.BeliefHandler

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewBeliefService validates the configuration and builds the store.
// Invalid combinations are rejected here, before any claim is accepted.
func NewBeliefService(opts Options, logger *zap.Logger) (*BeliefService, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scorer, err := NewSalienceScorer(opts.Weights, opts.DecayHalfLife, nil)
	if err != nil {
		return nil, err
	}
	for key, hl := range opts.HalfLifeByKey {
		scorer.SetKeyHalfLife(key, hl)
	}

	detector := NewConflictDetector(opts.NumericTolerance, opts.MaterialityFloor)

	s := &BeliefService{
		opts:       opts,
		ledger:     store.NewLedger(opts.SupersedePerAgent),
		log:        store.NewConflictLog(),
		detector:   detector,
		scorer:     scorer,
		fusion:     NewFusionEngine(detector, scorer, opts.MaterialityFloor),
		resolver:   NewPolicyResolver(scorer, opts.ConsensusThreshold),
		sink:       domain.NopEventSink{},
		escalation: domain.NopEscalation{},
		logger:     logger,
		nowFunc:    time.Now,
		keys:       make(map[string]*keyState),
	}
	s.lastSweep = s.nowFunc()
	return s, nil
}

// SetNowFunc overrides the clock, for tests. Call before serving.
func (s *BeliefService) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
	s.ledger.SetNowFunc(now)
	s.sweepMu.Lock()
	s.lastSweep = now()
	s.sweepMu.Unlock()
}

func (s *BeliefService) SetEventSink(sink domain.EventSink) {
	if sink == nil {
		sink = domain.NopEventSink{}
	}
	s.sink = sink
}

func (s *BeliefService) SetTrustSource(trust domain.TrustSource) {
	s.scorer.SetTrustSource(trust)
}

func (s *BeliefService) SetEscalationSink(sink domain.EscalationSink) {
	if sink == nil {
		sink = domain.NopEscalation{}
	}
	s.escalation = sink
}

// OnDispute registers a hook fired synchronously after a recompute that
// detected new conflicts.
func (s *BeliefService) OnDispute(h domain.DisputeHandler) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.disputeSubs = append(s.disputeSubs, h)
}

// OnHypothesisChange registers a hook fired synchronously after a recompute
// that changed the key's hypothesis set.
func (s *BeliefService) OnHypothesisChange(h domain.BeliefHandler) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.beliefSubs = append(s.beliefSubs, h)
}

func (s *BeliefService) keyState(key string) *keyState {
	s.mu.RLock()
	ks, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		return ks
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, ok = s.keys[key]; ok {
		return ks
	}
	ks = &keyState{}
	s.keys[key] = ks
	return ks
}

// SubmitClaim validates, appends and fuses a new claim. Conflicts never
// reject the write; they are recorded and surface as extra hypotheses.
func (s *BeliefService) SubmitClaim(ctx context.Context, key string, value domain.Value, confidence float64, prov domain.Provenance) (*domain.Claim, error) {
	ks := s.keyState(key)
	ks.mu.Lock()

	claim, err := s.ledger.Append(domain.Claim{
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Provenance: prov,
	})
	if err != nil {
		ks.mu.Unlock()
		return nil, err
	}

	now := s.nowFunc()
	actives := s.ledger.ActiveClaims(key)
	conflicts := s.detector.DetectAgainst(claim, actives, now)
	s.log.Append(conflicts...)

	item, changed := s.fuseKeyLocked(ks, key, actives, now)
	ks.mu.Unlock()

	s.logger.Debug("claim accepted",
		zap.String("key", key),
		zap.String("claim_id", claim.ID.String()),
		zap.String("agent_id", prov.AgentID),
		zap.Float64("confidence", confidence),
		zap.Int("conflicts", len(conflicts)))

	s.emit(ctx, domain.EventClaimAccepted, key, map[string]any{
		"claim_id": claim.ID.String(),
		"agent_id": prov.AgentID,
	})
	for _, rec := range conflicts {
		s.emit(ctx, domain.EventConflictDetected, key, map[string]any{
			"conflict_id": rec.ID.String(),
			"group_id":    rec.GroupID.String(),
			"claim_a":     rec.ClaimA.String(),
			"claim_b":     rec.ClaimB.String(),
			"reason":      rec.Reason,
		})
	}

	s.notify(ctx, key, item, changed, conflicts)
	return claim, nil
}

// fuseKeyLocked recomputes the key's belief from the given active claim
// set. Caller must hold the key lock. Returns the new snapshot and whether
// the hypothesis set actually changed.
func (s *BeliefService) fuseKeyLocked(ks *keyState, key string, actives []domain.Claim, now time.Time) (domain.BeliefItem, bool) {
	item := s.fusion.Fuse(key, actives, now)
	if ks.belief != nil {
		item.DecayState = ks.belief.DecayState
	}

	changed := ks.belief == nil || !domain.EqualHypotheses(ks.belief.Hypotheses, item.Hypotheses)
	snapshot := item
	snapshot.Hypotheses = domain.CloneHypotheses(item.Hypotheses)
	ks.belief = &snapshot
	return item, changed
}

// notify fires subscription hooks synchronously (outside the key's critical
// section) and the escalation sink asynchronously when the key is disputed
// under an escalating policy.
func (s *BeliefService) notify(ctx context.Context, key string, item domain.BeliefItem, changed bool, conflicts []domain.ConflictRecord) {
	s.subMu.RLock()
	disputeSubs := append([]domain.DisputeHandler(nil), s.disputeSubs...)
	beliefSubs := append([]domain.BeliefHandler(nil), s.beliefSubs...)
	s.subMu.RUnlock()

	// Every handler gets its own copy; a misbehaving subscriber must not be
	// able to reach the store's snapshot or another subscriber's view.
	for _, rec := range conflicts {
		for _, h := range disputeSubs {
			recCopy := rec
			recCopy.Metadata = maps.Clone(rec.Metadata)
			h(key, recCopy)
		}
	}
	if changed {
		s.emit(ctx, domain.EventHypothesisChanged, key, map[string]any{
			"hypotheses":   len(item.Hypotheses),
			"dispute_flag": item.DisputeFlag,
		})
		for _, h := range beliefSubs {
			itemCopy := item
			itemCopy.Hypotheses = domain.CloneHypotheses(item.Hypotheses)
			h(key, itemCopy)
		}
	}

	if item.DisputeFlag && s.policyFor(key, "") == PolicyKeepAllEscalate {
		itemCopy := item
		itemCopy.Hypotheses = domain.CloneHypotheses(item.Hypotheses)
		go s.escalation.Escalate(key, itemCopy)
	}
}

func (s *BeliefService) emit(ctx context.Context, typ domain.EventType, key string, details map[string]any) {
	err := s.sink.Emit(ctx, domain.Event{
		Type:      typ,
		Key:       key,
		Details:   details,
		Timestamp: s.nowFunc(),
	})
	if err != nil {
		s.logger.Warn("event emission failed",
			zap.String("event_type", string(typ)),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (s *BeliefService) policyFor(key, override string) ResolutionPolicy {
	if override != "" {
		p, err := ParsePolicy(override)
		if err == nil {
			return p
		}
	}
	if name, ok := s.opts.PolicyByKey[key]; ok {
		p, _ := ParsePolicy(name)
		return p
	}
	p, _ := ParsePolicy(s.opts.Policy)
	return p
}

// QueryOptions tune a single read.
type QueryOptions struct {
	// PolicyOverride applies a different resolution policy for this query
	// only. Empty means the configured per-key or store-wide policy.
	PolicyOverride string
	// ContextRelevance feeds the w_x salience term. Nil means 1.0; an
	// explicit zero is a valid relevance, not an unset one.
	ContextRelevance *float64
}

func (q QueryOptions) relevance() float64 {
	if q.ContextRelevance == nil {
		return 1.0
	}
	return *q.ContextRelevance
}

// GetBelief returns the key's resolved view under the effective policy.
// The only side effect a query may have is lazily running an overdue decay
// sweep first.
func (s *BeliefService) GetBelief(ctx context.Context, key string, q QueryOptions) (*domain.BeliefView, error) {
	if q.PolicyOverride != "" {
		if _, err := ParsePolicy(q.PolicyOverride); err != nil {
			return nil, err
		}
	}
	if !s.ledger.HasKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	s.maybeSweep(ctx)

	ks := s.keyState(key)
	ks.mu.Lock()
	var item domain.BeliefItem
	if ks.belief != nil {
		item = *ks.belief
		item.Hypotheses = domain.CloneHypotheses(ks.belief.Hypotheses)
	} else {
		item = domain.BeliefItem{Key: key}
	}
	ks.mu.Unlock()

	view := s.resolver.Resolve(s.policyFor(key, q.PolicyOverride), item, s.lookupClaim, q.relevance(), s.nowFunc())
	return &view, nil
}

func (s *BeliefService) lookupClaim(id uuid.UUID) *domain.Claim {
	c, err := s.ledger.GetClaim(id)
	if err != nil {
		return nil
	}
	return c
}

// GetDisputes returns conflict records, for one key or across all keys
// when key is empty.
func (s *BeliefService) GetDisputes(ctx context.Context, key string) []domain.ConflictRecord {
	s.maybeSweep(ctx)
	if key == "" {
		return s.log.All()
	}
	return s.log.ByKey(key)
}

// ClaimHistory returns the key's full append-only claim sequence, retired
// and superseded claims included.
func (s *BeliefService) ClaimHistory(ctx context.Context, key string) ([]domain.Claim, error) {
	s.maybeSweep(ctx)
	return s.ledger.History(key)
}

// Keys lists every key the store has seen.
func (s *BeliefService) Keys() []string {
	return s.ledger.Keys()
}

// Explain produces the evidence trace behind the key's current hypotheses:
// every claim ever submitted, its status, and the salience active claims
// contribute right now.
func (s *BeliefService) Explain(ctx context.Context, key string) (*domain.EvidenceTrace, error) {
	s.maybeSweep(ctx)
	history, err := s.ledger.History(key)
	if err != nil {
		return nil, err
	}

	ks := s.keyState(key)
	ks.mu.Lock()
	var hyps []domain.Hypothesis
	if ks.belief != nil {
		hyps = domain.CloneHypotheses(ks.belief.Hypotheses)
	}
	ks.mu.Unlock()

	hypIndex := make(map[uuid.UUID]int)
	for i, h := range hyps {
		for _, id := range h.SupportingClaimIDs {
			hypIndex[id] = i
		}
	}

	now := s.nowFunc()
	trace := &domain.EvidenceTrace{Key: key, GeneratedAt: now}
	for i := range history {
		c := &history[i]
		entry := domain.EvidenceEntry{
			ClaimID:    c.ID,
			AgentID:    c.Provenance.AgentID,
			Value:      c.Value,
			Confidence: c.Confidence,
			Status:     c.Status,
			Hypothesis: -1,
		}
		if c.Status == domain.ClaimActive {
			entry.Salience = s.scorer.Score(c, 1.0, now)
			if idx, ok := hypIndex[c.ID]; ok {
				entry.Hypothesis = idx
			}
		}
		trace.Entries = append(trace.Entries, entry)
	}
	return trace, nil
}

// maybeSweep runs a decay sweep if none has run within the configured
// interval. Queries call this before reading.
func (s *BeliefService) maybeSweep(ctx context.Context) {
	s.sweepMu.Lock()
	due := s.nowFunc().Sub(s.lastSweep) >= s.opts.DecayInterval
	s.sweepMu.Unlock()
	if due {
		s.RunDecay(ctx)
	}
}

// DecayResult summarizes one sweep.
type DecayResult struct {
	KeysSwept     int `json:"keys_swept"`
	ClaimsRetired int `json:"claims_retired"`
	KeysFailed    int `json:"keys_failed"`
}

// RunDecay sweeps every key once, retiring claims whose contribution has
// eroded below the floor and whose age exceeds the TTL, then re-fusing the
// affected keys. Keys are locked one at a time so writers are never
// starved, and one key's failure never aborts the rest of the sweep.
func (s *BeliefService) RunDecay(ctx context.Context) *DecayResult {
	s.sweepMu.Lock()
	s.lastSweep = s.nowFunc()
	s.sweepMu.Unlock()

	result := &DecayResult{}
	for _, key := range s.ledger.Keys() {
		retired, err := s.sweepKey(ctx, key)
		if err != nil {
			result.KeysFailed++
			s.logger.Warn("decay sweep failed for key", zap.String("key", key), zap.Error(err))
			s.emit(ctx, domain.EventSweepWarning, key, map[string]any{"error": err.Error()})
			continue
		}
		result.KeysSwept++
		result.ClaimsRetired += retired
	}

	if result.ClaimsRetired > 0 || result.KeysFailed > 0 {
		s.logger.Info("decay sweep complete",
			zap.Int("keys_swept", result.KeysSwept),
			zap.Int("claims_retired", result.ClaimsRetired),
			zap.Int("keys_failed", result.KeysFailed))
	}
	return result
}

func (s *BeliefService) sweepKey(ctx context.Context, key string) (retired int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()

	ks := s.keyState(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := s.nowFunc()
	actives := s.ledger.ActiveClaims(key)

	var retiredIDs []uuid.UUID
	for i := range actives {
		c := &actives[i]
		contribution := s.scorer.Score(c, 1.0, now)
		age := now.Sub(c.RecordedAt)
		if contribution < s.opts.ContributionFloor && age > s.opts.DecayTTL {
			if markErr := s.ledger.MarkStatus(c.ID, domain.ClaimRetired); markErr != nil {
				return retired, markErr
			}
			retiredIDs = append(retiredIDs, c.ID)
		}
	}

	if len(retiredIDs) == 0 {
		// Snapshot bookkeeping still records the sweep.
		if ks.belief != nil {
			ks.belief.DecayState.LastSweep = now
		}
		return 0, nil
	}

	remaining := s.ledger.ActiveClaims(key)
	item, changed := s.fuseKeyLocked(ks, key, remaining, now)
	ks.belief.DecayState.LastSweep = now
	ks.belief.DecayState.RetiredClaims += len(retiredIDs)

	// Events and hooks fire after the lock is released; collect what we
	// need first.
	go func() {
		for _, id := range retiredIDs {
			s.emit(ctx, domain.EventClaimRetired, key, map[string]any{"claim_id": id.String()})
		}
		s.notify(ctx, key, item, changed, nil)
	}()

	return len(retiredIDs), nil
}

// IsValidationError reports whether an error belongs to the recoverable
// caller-fault taxonomy, for transport layers mapping errors to statuses.
func IsValidationError(err error) bool {
	return errors.Is(err, store.ErrInvalidConfidence) ||
		errors.Is(err, store.ErrInvalidValue) ||
		errors.Is(err, store.ErrTypeMismatch) ||
		errors.Is(err, ErrInvalidWeights) ||
		errors.Is(err, ErrUnknownPolicy)
}
