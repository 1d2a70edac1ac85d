package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/credal-io/credal/internal/store"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, mutate func(*Options)) *BeliefService {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewBeliefService(opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

// fakeClock is a mutable clock for SetNowFunc.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureSink records every emitted event.
type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *captureSink) Emit(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) byType(typ domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestSubmitClaimPipeline(t *testing.T) {
	svc := newTestService(t, nil)
	sink := &captureSink{}
	svc.SetEventSink(sink)
	ctx := context.Background()

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(5), 0.8, domain.Provenance{AgentID: "beta"}); err != nil {
		t.Fatal(err)
	}

	view, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Hypotheses) != 2 {
		t.Fatalf("hypotheses = %d, want 2", len(view.Hypotheses))
	}
	if view.Hypotheses[0].Value.Number != 5 {
		t.Fatalf("top hypothesis value = %g, want the higher-confidence claim's", view.Hypotheses[0].Value.Number)
	}
	if !view.DisputeFlag {
		t.Fatal("conflicting claims must flag a dispute")
	}
	if view.Decided {
		t.Fatal("keep_all_escalate must not decide")
	}

	disputes := svc.GetDisputes(ctx, "eta")
	if len(disputes) != 1 {
		t.Fatalf("disputes = %d, want 1", len(disputes))
	}
	if disputes[0].Reason == "" {
		t.Fatal("conflict record must carry a reason")
	}

	if got := len(sink.byType(domain.EventClaimAccepted)); got != 2 {
		t.Errorf("claim_accepted events = %d, want 2", got)
	}
	if got := len(sink.byType(domain.EventConflictDetected)); got != 1 {
		t.Errorf("conflict_detected events = %d, want 1", got)
	}
	if got := len(sink.byType(domain.EventHypothesisChanged)); got != 2 {
		t.Errorf("hypothesis_changed events = %d, want 2", got)
	}
}

func TestSubmitClaimValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(1), 1.5, domain.Provenance{AgentID: "a"})
	if !errors.Is(err, store.ErrInvalidConfidence) {
		t.Fatalf("err = %v, want ErrInvalidConfidence", err)
	}
	if !IsValidationError(err) {
		t.Fatal("confidence error must classify as a validation error")
	}

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(1), 0.5, domain.Provenance{AgentID: "a"}); err != nil {
		t.Fatal(err)
	}
	_, err = svc.SubmitClaim(ctx, "eta", domain.TextValue("soon"), 0.5, domain.Provenance{AgentID: "b"})
	if !errors.Is(err, store.ErrTypeMismatch) {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestGetBeliefErrors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.GetBelief(ctx, "ghost", QueryOptions{}); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(1), 0.5, domain.Provenance{AgentID: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetBelief(ctx, "eta", QueryOptions{PolicyOverride: "coin_flip"}); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("err = %v, want ErrUnknownPolicy", err)
	}
}

func TestPolicyOverrideIsAView(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(5), 0.8, domain.Provenance{AgentID: "beta"}); err != nil {
		t.Fatal(err)
	}

	base, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Query once under every policy, then confirm the default view is
	// unchanged: policies resolve, they never rewrite state.
	for _, p := range []string{"trust_weighted", "recency_weighted", "consensus", "best_salience"} {
		if _, err := svc.GetBelief(ctx, "eta", QueryOptions{PolicyOverride: p}); err != nil {
			t.Fatalf("override %s: %v", p, err)
		}
	}

	after, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !domain.EqualHypotheses(base.Hypotheses, after.Hypotheses) {
		t.Fatal("policy-override queries mutated the stored hypotheses")
	}

	recency, err := svc.GetBelief(ctx, "eta", QueryOptions{PolicyOverride: "recency_weighted"})
	if err != nil {
		t.Fatal(err)
	}
	if !recency.Decided || recency.Current == nil || recency.Current.Value.Number != 5 {
		t.Fatal("recency_weighted override must decide on the newest claim's hypothesis")
	}
}

func TestConcurrentWritersSameKey(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	const writers = 32

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(4), 0.6,
				domain.Provenance{AgentID: fmt.Sprintf("agent-%d", i)})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.ClaimHistory(ctx, "eta")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != writers {
		t.Fatalf("history = %d claims, want %d", len(history), writers)
	}
	seen := make(map[uint64]bool, writers)
	for _, c := range history {
		if seen[c.Seq] {
			t.Fatalf("duplicate seq %d", c.Seq)
		}
		seen[c.Seq] = true
	}

	view, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Hypotheses) != 1 {
		t.Fatalf("hypotheses = %d, want 1 for identical values", len(view.Hypotheses))
	}
	if got := len(view.Hypotheses[0].SupportingClaimIDs); got != writers {
		t.Fatalf("supporting claims = %d, want %d", got, writers)
	}
}

func TestSubscriptionHooks(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	var disputes []domain.ConflictRecord
	var changes int
	svc.OnDispute(func(key string, rec domain.ConflictRecord) {
		disputes = append(disputes, rec)
	})
	svc.OnHypothesisChange(func(key string, item domain.BeliefItem) {
		changes++
	})

	escalated := make(chan string, 1)
	svc.SetEscalationSink(escalationFunc(func(key string, item domain.BeliefItem) {
		select {
		case escalated <- key:
		default:
		}
	}))

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(5), 0.8, domain.Provenance{AgentID: "beta"}); err != nil {
		t.Fatal(err)
	}

	if len(disputes) != 1 {
		t.Fatalf("dispute hooks fired %d times, want 1", len(disputes))
	}
	if changes != 2 {
		t.Fatalf("hypothesis change hooks fired %d times, want 2", changes)
	}

	select {
	case key := <-escalated:
		if key != "eta" {
			t.Fatalf("escalated key = %q, want eta", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("escalation sink never fired for a disputed key")
	}
}

func TestSubscriberMutationDoesNotCorruptStore(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	// Hostile handlers scribble over everything they are handed. The store
	// must keep its own snapshot out of their reach.
	svc.OnHypothesisChange(func(key string, item domain.BeliefItem) {
		for i := range item.Hypotheses {
			item.Hypotheses[i].AggregateConfidence = -99
			item.Hypotheses[i].Value.Number = -1234
		}
	})
	svc.OnDispute(func(key string, rec domain.ConflictRecord) {
		for k := range rec.Metadata {
			rec.Metadata[k] = "tampered"
		}
	})

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(5), 0.8, domain.Provenance{AgentID: "beta"}); err != nil {
		t.Fatal(err)
	}

	view, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Hypotheses) != 2 {
		t.Fatalf("hypotheses = %d, want 2", len(view.Hypotheses))
	}
	for _, h := range view.Hypotheses {
		if h.AggregateConfidence <= 0 || h.AggregateConfidence > 1 {
			t.Fatalf("aggregate confidence %g leaked a subscriber write", h.AggregateConfidence)
		}
		if h.Value.Number != 2 && h.Value.Number != 5 {
			t.Fatalf("hypothesis value %g leaked a subscriber write", h.Value.Number)
		}
	}

	disputes := svc.GetDisputes(ctx, "eta")
	if len(disputes) != 1 {
		t.Fatalf("disputes = %d, want 1", len(disputes))
	}
	if got := disputes[0].Metadata["a_agent"]; got != "alpha" {
		t.Fatalf("conflict metadata a_agent = %v, want alpha", got)
	}
	for k, v := range disputes[0].Metadata {
		if v == "tampered" {
			t.Fatalf("conflict metadata %q leaked a subscriber write", k)
		}
	}
}

func TestQueryOptionsRelevance(t *testing.T) {
	if got := (QueryOptions{}).relevance(); got != 1.0 {
		t.Fatalf("unset relevance = %g, want 1.0", got)
	}
	zero := 0.0
	if got := (QueryOptions{ContextRelevance: &zero}).relevance(); got != 0.0 {
		t.Fatalf("explicit zero relevance = %g, want 0.0", got)
	}
	partial := 0.4
	if got := (QueryOptions{ContextRelevance: &partial}).relevance(); got != 0.4 {
		t.Fatalf("relevance = %g, want 0.4", got)
	}
}

// escalationFunc adapts a function to domain.EscalationSink.
type escalationFunc func(key string, item domain.BeliefItem)

func (f escalationFunc) Escalate(key string, item domain.BeliefItem) { f(key, item) }

func TestSupersedePerAgent(t *testing.T) {
	svc := newTestService(t, func(o *Options) { o.SupersedePerAgent = true })
	ctx := context.Background()

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(9), 0.8, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}

	view, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// The older claim is superseded: no conflict, single hypothesis on the
	// revision.
	if len(view.Hypotheses) != 1 {
		t.Fatalf("hypotheses = %d, want 1", len(view.Hypotheses))
	}
	if view.Hypotheses[0].Value.Number != 9 {
		t.Fatalf("value = %g, want the agent's latest revision", view.Hypotheses[0].Value.Number)
	}
	if len(svc.GetDisputes(ctx, "eta")) != 0 {
		t.Fatal("an agent revising itself must not open a dispute")
	}

	history, err := svc.ClaimHistory(ctx, "eta")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want both claims kept", len(history))
	}
}

func TestExplainTrace(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	a, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(5), 0.8, domain.Provenance{AgentID: "beta"}); err != nil {
		t.Fatal(err)
	}

	trace, err := svc.Explain(ctx, "eta")
	if err != nil {
		t.Fatal(err)
	}
	if len(trace.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(trace.Entries))
	}
	for _, e := range trace.Entries {
		if e.Status != domain.ClaimActive {
			t.Fatalf("claim %s status = %s, want active", e.ClaimID, e.Status)
		}
		if e.Salience <= 0 {
			t.Fatalf("claim %s salience = %g, want > 0", e.ClaimID, e.Salience)
		}
		if e.Hypothesis < 0 {
			t.Fatalf("active claim %s not attributed to a hypothesis", e.ClaimID)
		}
	}
	if trace.Entries[0].ClaimID != a.ID {
		t.Fatal("trace must follow the append order")
	}

	if _, err := svc.Explain(ctx, "ghost"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestPerKeyPolicy(t *testing.T) {
	svc := newTestService(t, func(o *Options) {
		o.Policy = string(PolicyKeepAllEscalate)
		o.PolicyByKey = map[string]string{"eta": string(PolicyRecencyWeighted)}
	})
	ctx := context.Background()

	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(2), 0.7, domain.Provenance{AgentID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitClaim(ctx, "eta", domain.NumberValue(5), 0.8, domain.Provenance{AgentID: "beta"}); err != nil {
		t.Fatal(err)
	}

	view, err := svc.GetBelief(ctx, "eta", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if view.Policy != string(PolicyRecencyWeighted) {
		t.Fatalf("policy = %s, want per-key override", view.Policy)
	}
	if !view.Decided {
		t.Fatal("recency_weighted must decide")
	}
}
