package service

import (
	"errors"
	"testing"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/google/uuid"
)

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{
		"trust_weighted", "recency_weighted", "consensus", "keep_all_escalate", "best_salience",
	} {
		if _, err := ParsePolicy(name); err != nil {
			t.Errorf("ParsePolicy(%q) = %v, want nil", name, err)
		}
	}
	if _, err := ParsePolicy("majority_vote"); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("ParsePolicy(majority_vote) = %v, want ErrUnknownPolicy", err)
	}
}

// twoHypothesisItem builds a disputed belief over two claims and returns the
// item plus a lookup over the claims by ID.
func twoHypothesisItem(t *testing.T, a, b domain.Claim, massA, massB float64) (domain.BeliefItem, claimLookup) {
	t.Helper()
	byID := map[uuid.UUID]*domain.Claim{a.ID: &a, b.ID: &b}
	item := domain.BeliefItem{
		Key:         a.Key,
		DisputeFlag: true,
		Hypotheses: []domain.Hypothesis{
			{Value: a.Value, AggregateConfidence: massA, ProbabilityMass: massA, SupportingClaimIDs: []uuid.UUID{a.ID}},
			{Value: b.Value, AggregateConfidence: massB, ProbabilityMass: massB, SupportingClaimIDs: []uuid.UUID{b.ID}},
		},
	}
	return item, func(id uuid.UUID) *domain.Claim { return byID[id] }
}

func newTestResolver(t *testing.T, trust domain.TrustSource) *PolicyResolver {
	t.Helper()
	scorer, err := NewSalienceScorer(DefaultSalienceWeights, 2*time.Hour, trust)
	if err != nil {
		t.Fatal(err)
	}
	return NewPolicyResolver(scorer, 0.6)
}

func TestResolveKeepAllEscalate(t *testing.T) {
	r := newTestResolver(t, nil)
	a := claimWith("eta", "alpha", domain.NumberValue(2), 0.7)
	b := claimWith("eta", "beta", domain.NumberValue(5), 0.8)
	item, lookup := twoHypothesisItem(t, a, b, 0.45, 0.55)

	view := r.Resolve(PolicyKeepAllEscalate, item, lookup, 1.0, time.Now())
	if view.Decided || view.Current != nil {
		t.Fatal("keep_all_escalate must never collapse to a single answer")
	}
	if !view.DisputeFlag {
		t.Fatal("keep_all_escalate must raise the dispute flag on disagreement")
	}
	if len(view.Hypotheses) != 2 {
		t.Fatalf("hypotheses = %d, want both preserved", len(view.Hypotheses))
	}
}

func TestResolveConsensus(t *testing.T) {
	r := newTestResolver(t, nil)
	a := claimWith("eta", "alpha", domain.NumberValue(2), 0.7)
	b := claimWith("eta", "beta", domain.NumberValue(5), 0.8)

	// Top mass below the 0.6 threshold: stay undecided, expose everything.
	split, lookup := twoHypothesisItem(t, a, b, 0.55, 0.45)
	view := r.Resolve(PolicyConsensus, split, lookup, 1.0, time.Now())
	if view.Decided || view.Current != nil {
		t.Fatal("consensus below threshold must stay undecided")
	}

	// Top mass above the threshold: decided on the dominant hypothesis.
	dominant, lookup := twoHypothesisItem(t, a, b, 0.8, 0.2)
	view = r.Resolve(PolicyConsensus, dominant, lookup, 1.0, time.Now())
	if !view.Decided || view.Current == nil {
		t.Fatal("consensus above threshold must decide")
	}
	if view.Current.Value.Number != 2 {
		t.Fatalf("decided value = %g, want the dominant hypothesis", view.Current.Value.Number)
	}
}

func TestResolveTrustWeighted(t *testing.T) {
	trust := domain.TrustMap{
		Weights: map[string]float64{"alpha": 1.0, "beta": 0.2},
		Default: 0.5,
	}
	r := newTestResolver(t, trust)

	a := claimWith("eta", "alpha", domain.NumberValue(2), 0.7)
	b := claimWith("eta", "beta", domain.NumberValue(5), 0.8)
	// Raw confidence favors beta; trust reweighting flips the pick:
	// alpha 0.45*1.0 = 0.45 beats beta 0.55*0.2 = 0.11.
	item, lookup := twoHypothesisItem(t, a, b, 0.45, 0.55)

	view := r.Resolve(PolicyTrustWeighted, item, lookup, 1.0, time.Now())
	if !view.Decided || view.Current == nil {
		t.Fatal("trust_weighted must decide")
	}
	if view.Current.Value.Number != 2 {
		t.Fatalf("decided value = %g, want the trusted agent's hypothesis", view.Current.Value.Number)
	}
}

func TestResolveRecencyWeighted(t *testing.T) {
	r := newTestResolver(t, nil)

	a := claimWith("eta", "alpha", domain.NumberValue(2), 0.9)
	b := claimWith("eta", "beta", domain.NumberValue(5), 0.3)
	a.Seq, b.Seq = 1, 2
	item, lookup := twoHypothesisItem(t, a, b, 0.7, 0.3)

	view := r.Resolve(PolicyRecencyWeighted, item, lookup, 1.0, time.Now())
	if !view.Decided || view.Current == nil {
		t.Fatal("recency_weighted must decide")
	}
	if view.Current.Value.Number != 5 {
		t.Fatalf("decided value = %g, want the newest claim's hypothesis", view.Current.Value.Number)
	}
}

func TestResolveBestSalience(t *testing.T) {
	r := newTestResolver(t, nil)
	now := time.Unix(10_000, 0)

	a := claimWith("eta", "alpha", domain.NumberValue(2), 0.95)
	b := claimWith("eta", "beta", domain.NumberValue(5), 0.4)
	a.RecordedAt, b.RecordedAt = now, now
	// Hypothesis order favors beta, but alpha holds the single most salient
	// claim.
	item, lookup := twoHypothesisItem(t, b, a, 0.6, 0.4)

	view := r.Resolve(PolicyBestSalience, item, lookup, 1.0, now)
	if !view.Decided || view.Current == nil {
		t.Fatal("best_salience must decide")
	}
	if view.Current.Value.Number != 2 {
		t.Fatalf("decided value = %g, want the most salient claim's hypothesis", view.Current.Value.Number)
	}
}

func TestResolveNeverMutatesItem(t *testing.T) {
	r := newTestResolver(t, nil)
	a := claimWith("eta", "alpha", domain.NumberValue(2), 0.7)
	b := claimWith("eta", "beta", domain.NumberValue(5), 0.8)
	item, lookup := twoHypothesisItem(t, a, b, 0.45, 0.55)
	before := domain.CloneHypotheses(item.Hypotheses)

	for _, p := range []ResolutionPolicy{
		PolicyTrustWeighted, PolicyRecencyWeighted, PolicyConsensus,
		PolicyKeepAllEscalate, PolicyBestSalience,
	} {
		view := r.Resolve(p, item, lookup, 1.0, time.Now())
		if view.Current != nil {
			view.Current.AggregateConfidence = -1 // vandalize the view copy
		}
		if !domain.EqualHypotheses(item.Hypotheses, before) {
			t.Fatalf("policy %s mutated the stored hypotheses", p)
		}
	}
}

func TestResolveEmptyItem(t *testing.T) {
	r := newTestResolver(t, nil)
	view := r.Resolve(PolicyConsensus, domain.BeliefItem{Key: "ghost"}, func(uuid.UUID) *domain.Claim { return nil }, 1.0, time.Now())
	if view.Decided || view.Current != nil || len(view.Hypotheses) != 0 {
		t.Fatal("empty belief must resolve to an empty undecided view")
	}
}
