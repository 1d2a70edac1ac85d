package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/google/uuid"
)

var ErrUnknownPolicy = errors.New("unknown resolution policy")

// ResolutionPolicy names a strategy for collapsing a hypothesis set into
// the single answer a caller sees. Policies are views: applying or
// switching one never mutates stored claims or hypotheses.
type ResolutionPolicy string

const (
	PolicyTrustWeighted   ResolutionPolicy = "trust_weighted"
	PolicyRecencyWeighted ResolutionPolicy = "recency_weighted"
	PolicyConsensus       ResolutionPolicy = "consensus"
	PolicyKeepAllEscalate ResolutionPolicy = "keep_all_escalate"
	PolicyBestSalience    ResolutionPolicy = "best_salience"
)

func ParsePolicy(name string) (ResolutionPolicy, error) {
	switch p := ResolutionPolicy(name); p {
	case PolicyTrustWeighted, PolicyRecencyWeighted, PolicyConsensus,
		PolicyKeepAllEscalate, PolicyBestSalience:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// claimLookup resolves a supporting claim ID to its claim.
type claimLookup func(id uuid.UUID) *domain.Claim

// PolicyResolver turns a BeliefItem into the caller-facing BeliefView under
// one policy.
type PolicyResolver struct {
	scorer             *SalienceScorer
	consensusThreshold float64
}

func NewPolicyResolver(scorer *SalienceScorer, consensusThreshold float64) *PolicyResolver {
	return &PolicyResolver{scorer: scorer, consensusThreshold: consensusThreshold}
}

func (r *PolicyResolver) Resolve(policy ResolutionPolicy, item domain.BeliefItem, lookup claimLookup, contextRelevance float64, now time.Time) domain.BeliefView {
	view := domain.BeliefView{
		Key:         item.Key,
		Policy:      string(policy),
		Hypotheses:  domain.CloneHypotheses(item.Hypotheses),
		DisputeFlag: item.DisputeFlag,
	}
	if len(item.Hypotheses) == 0 {
		return view
	}

	switch policy {
	case PolicyKeepAllEscalate:
		// Never collapse. Disagreement stays visible to the caller and the
		// dispute flag is raised for the escalation hook.
		view.DisputeFlag = view.DisputeFlag || len(item.Hypotheses) > 1

	case PolicyConsensus:
		top := view.Hypotheses[0]
		if top.ProbabilityMass > r.consensusThreshold {
			view.Decided = true
			view.Current = &top
		}

	case PolicyTrustWeighted:
		idx := r.pickByTrust(item.Hypotheses, lookup)
		view.Decided = true
		view.Current = &view.Hypotheses[idx]

	case PolicyRecencyWeighted:
		idx := r.pickNewest(item.Hypotheses, lookup)
		view.Decided = true
		view.Current = &view.Hypotheses[idx]

	case PolicyBestSalience:
		idx := r.pickBySalience(item.Hypotheses, lookup, contextRelevance, now)
		view.Decided = true
		view.Current = &view.Hypotheses[idx]
	}

	return view
}

// pickByTrust reweights each hypothesis's aggregate confidence by the mean
// trust weight of its supporting claims and picks the highest. Ties keep
// the existing confidence order.
func (r *PolicyResolver) pickByTrust(hyps []domain.Hypothesis, lookup claimLookup) int {
	best, bestScore := 0, -1.0
	for i, h := range hyps {
		var sum float64
		var n int
		for _, id := range h.SupportingClaimIDs {
			if c := lookup(id); c != nil {
				sum += r.scorer.trustFor(c)
				n++
			}
		}
		if n == 0 {
			continue
		}
		score := h.AggregateConfidence * (sum / float64(n))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// pickBySalience re-scores each hypothesis's members with the configured
// weights and picks the hypothesis holding the single most salient claim.
func (r *PolicyResolver) pickBySalience(hyps []domain.Hypothesis, lookup claimLookup, contextRelevance float64, now time.Time) int {
	best, bestScore := 0, -1.0
	for i, h := range hyps {
		for _, id := range h.SupportingClaimIDs {
			c := lookup(id)
			if c == nil {
				continue
			}
			if score := r.scorer.Score(c, contextRelevance, now); score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	return best
}

// pickNewest returns the hypothesis whose most recent supporting claim has
// the highest logical sequence.
func (r *PolicyResolver) pickNewest(hyps []domain.Hypothesis, lookup claimLookup) int {
	best := 0
	var bestSeq uint64
	for i, h := range hyps {
		for _, id := range h.SupportingClaimIDs {
			if c := lookup(id); c != nil && c.Seq > bestSeq {
				best, bestSeq = i, c.Seq
			}
		}
	}
	return best
}
