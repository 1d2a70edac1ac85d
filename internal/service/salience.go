package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/credal-io/credal/internal/domain"
)

var ErrInvalidWeights = errors.New("salience weights must each be in [0,1] and sum to 1.0")

const weightSumEpsilon = 1e-9

// SalienceWeights is the configuration tuple combining the four salience
// inputs. The components must each lie in [0,1] and sum to 1.0.
type SalienceWeights struct {
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`
	Trust      float64 `json:"trust"`
	Context    float64 `json:"context"`
}

// DefaultSalienceWeights favor writer confidence, then recency, then trust.
var DefaultSalienceWeights = SalienceWeights{Confidence: 0.55, Recency: 0.25, Trust: 0.20, Context: 0}

func (w SalienceWeights) Validate() error {
	for _, v := range []float64{w.Confidence, w.Recency, w.Trust, w.Context} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: component %g out of range", ErrInvalidWeights, v)
		}
	}
	sum := w.Confidence + w.Recency + w.Trust + w.Context
	if math.Abs(sum-1.0) > weightSumEpsilon {
		return fmt.Errorf("%w: sum %g", ErrInvalidWeights, sum)
	}
	return nil
}

// SalienceScorer ranks claims by a weighted combination of confidence,
// recency, trust and caller-supplied context relevance. Scoring is pure:
// nothing is cached, because the recency factor is time-dependent.
type SalienceScorer struct {
	weights       SalienceWeights
	halfLife      time.Duration
	halfLifeByKey map[string]time.Duration
	trust         domain.TrustSource
}

func NewSalienceScorer(weights SalienceWeights, halfLife time.Duration, trust domain.TrustSource) (*SalienceScorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if halfLife <= 0 {
		return nil, fmt.Errorf("%w: half-life must be positive", ErrInvalidOptions)
	}
	if trust == nil {
		trust = domain.FixedTrust(1.0)
	}
	return &SalienceScorer{
		weights:       weights,
		halfLife:      halfLife,
		halfLifeByKey: make(map[string]time.Duration),
		trust:         trust,
	}, nil
}

// SetTrustSource swaps the trust input. Pass nil to restore the default
// weight of 1.0 for every agent.
func (s *SalienceScorer) SetTrustSource(trust domain.TrustSource) {
	if trust == nil {
		trust = domain.FixedTrust(1.0)
	}
	s.trust = trust
}

// SetKeyHalfLife overrides the recency half-life for one key. Call during
// construction, before the store starts serving.
func (s *SalienceScorer) SetKeyHalfLife(key string, halfLife time.Duration) {
	if halfLife > 0 {
		s.halfLifeByKey[key] = halfLife
	}
}

func (s *SalienceScorer) halfLifeFor(key string) time.Duration {
	if hl, ok := s.halfLifeByKey[key]; ok {
		return hl
	}
	return s.halfLife
}

// RecencyFactor is the exponential decay term: 0.5^(age/halfLife), where
// age is measured from the claim's store-assigned timestamp.
func (s *SalienceScorer) RecencyFactor(c *domain.Claim, now time.Time) float64 {
	age := now.Sub(c.RecordedAt)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, float64(age)/float64(s.halfLifeFor(c.Key)))
}

func (s *SalienceScorer) trustFor(c *domain.Claim) float64 {
	if c.Provenance.TrustWeight != nil {
		return clamp01(*c.Provenance.TrustWeight)
	}
	return clamp01(s.trust.TrustWeight(c.Provenance.AgentID))
}

// Score computes the claim's rank score with the scorer's configured
// weights. contextRelevance defaults to 1.0 when callers have no opinion.
func (s *SalienceScorer) Score(c *domain.Claim, contextRelevance float64, now time.Time) float64 {
	return s.ScoreWith(s.weights, c, contextRelevance, now)
}

// ScoreWith computes a score under an alternative weight tuple, used by
// resolution policies that emphasize trust or recency at read time.
func (s *SalienceScorer) ScoreWith(w SalienceWeights, c *domain.Claim, contextRelevance float64, now time.Time) float64 {
	score := w.Confidence*clamp01(c.Confidence) +
		w.Recency*s.RecencyFactor(c, now) +
		w.Trust*s.trustFor(c) +
		w.Context*clamp01(contextRelevance)
	return clamp01(score)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
