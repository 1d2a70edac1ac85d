package service

import (
	"sort"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/google/uuid"
)

// FusionEngine merges a key's active claims into one or more weighted
// hypotheses. Disagreement never blocks: incompatible claims simply end up
// in different hypotheses. Fusion is deterministic — an unchanged claim set
// always fuses to an identical hypothesis set.
type FusionEngine struct {
	detector         *ConflictDetector
	scorer           *SalienceScorer
	materialityFloor float64
}

func NewFusionEngine(detector *ConflictDetector, scorer *SalienceScorer, materialityFloor float64) *FusionEngine {
	return &FusionEngine{detector: detector, scorer: scorer, materialityFloor: materialityFloor}
}

// Fuse recomputes the key's BeliefItem from its active claims. Claims must
// be in logical-time order, as returned by the ledger.
func (f *FusionEngine) Fuse(key string, claims []domain.Claim, now time.Time) domain.BeliefItem {
	item := domain.BeliefItem{Key: key}
	if len(claims) == 0 {
		return item
	}

	scores := make([]float64, len(claims))
	for i := range claims {
		scores[i] = f.scorer.Score(&claims[i], 1.0, now)
	}

	clusters := f.clusterCompatible(claims)

	hyps := make([]domain.Hypothesis, 0, len(clusters))
	for _, members := range clusters {
		hyps = append(hyps, f.fuseCluster(claims, scores, members, now))
	}

	// Order by descending aggregate confidence; ties go to the hypothesis
	// whose earliest supporting claim is older.
	sort.SliceStable(hyps, func(i, j int) bool {
		if hyps[i].AggregateConfidence != hyps[j].AggregateConfidence {
			return hyps[i].AggregateConfidence > hyps[j].AggregateConfidence
		}
		return false
	})

	// Explicit normalization of probability mass across hypotheses.
	var total float64
	for i := range hyps {
		total += hyps[i].AggregateConfidence
	}
	for i := range hyps {
		if len(hyps) == 1 {
			hyps[i].ProbabilityMass = 1.0
		} else if total > 0 {
			hyps[i].ProbabilityMass = hyps[i].AggregateConfidence / total
		}
	}

	material := 0
	for i := range hyps {
		if hyps[i].AggregateConfidence > f.materialityFloor {
			material++
		}
	}

	item.Hypotheses = hyps
	item.DisputeFlag = material >= 2
	return item
}

// clusterCompatible groups claim indices transitively: two claims land in
// the same cluster when they do not conflict, directly or through a chain
// of mutually compatible claims. Union-find keeps it near-linear.
func (f *FusionEngine) clusterCompatible(claims []domain.Claim) [][]int {
	parent := make([]int, len(claims))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			if _, conflict := f.detector.Check(&claims[i], &claims[j]); !conflict {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	order := make([]int, 0)
	for i := range claims {
		root := find(i)
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], i)
	}

	out := make([][]int, 0, len(groups))
	for _, root := range order {
		out = append(out, groups[root])
	}
	return out
}

func (f *FusionEngine) fuseCluster(claims []domain.Claim, scores []float64, members []int, now time.Time) domain.Hypothesis {
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = claims[m].ID
	}

	h := domain.Hypothesis{
		SupportingClaimIDs: ids,
		LastUpdated:        now,
	}

	switch claims[members[0]].Value.Kind {
	case domain.KindNumber:
		h.Value, h.AggregateConfidence = fuseNumeric(claims, scores, members)
	case domain.KindBool, domain.KindText:
		h.Value, h.AggregateConfidence = fuseCategorical(claims, scores, members)
	case domain.KindRecord:
		h.Value, h.AggregateConfidence = fuseRecord(claims, scores, members)
	}
	return h
}

// fuseNumeric takes the salience-weighted mean; aggregate confidence is the
// member score sum capped at 1.0.
func fuseNumeric(claims []domain.Claim, scores []float64, members []int) (domain.Value, float64) {
	var weighted, totalScore float64
	for _, m := range members {
		weighted += claims[m].Value.Number * scores[m]
		totalScore += scores[m]
	}
	value := claims[members[0]].Value.Number
	if totalScore > 0 {
		value = weighted / totalScore
	}
	return domain.NumberValue(value), clamp01(totalScore)
}

// fuseCategorical takes the highest-salience member's value, ties broken by
// earliest logical time; agreement from other members raises confidence
// with diminishing returns: 1 - (1-best) * prod(1-other).
func fuseCategorical(claims []domain.Claim, scores []float64, members []int) (domain.Value, float64) {
	best := members[0]
	for _, m := range members[1:] {
		if scores[m] > scores[best] {
			best = m
		}
		// Members arrive in logical-time order, so ties keep the earlier claim.
	}

	conf := scores[best]
	for _, m := range members {
		if m == best {
			continue
		}
		conf = 1 - (1-conf)*(1-scores[m])
	}
	return claims[best].Value, clamp01(conf)
}

// fuseRecord fuses field-wise: each field is fused across the members that
// carry it, using the per-kind rules above. Aggregate confidence follows the
// categorical rule over whole-record member scores.
func fuseRecord(claims []domain.Claim, scores []float64, members []int) (domain.Value, float64) {
	fieldNames := make(map[string]struct{})
	for _, m := range members {
		for name := range claims[m].Value.Fields {
			fieldNames[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(fieldNames))
	for name := range fieldNames {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]domain.Value, len(names))
	for _, name := range names {
		var carriers []int
		for _, m := range members {
			if _, ok := claims[m].Value.Fields[name]; ok {
				carriers = append(carriers, m)
			}
		}
		fields[name] = fuseField(claims, scores, carriers, name)
	}

	_, conf := fuseCategorical(claims, scores, members)
	return domain.RecordValue(fields), conf
}

func fuseField(claims []domain.Claim, scores []float64, carriers []int, name string) domain.Value {
	switch claims[carriers[0]].Value.Fields[name].Kind {
	case domain.KindNumber:
		var weighted, totalScore float64
		for _, m := range carriers {
			weighted += claims[m].Value.Fields[name].Number * scores[m]
			totalScore += scores[m]
		}
		v := claims[carriers[0]].Value.Fields[name].Number
		if totalScore > 0 {
			v = weighted / totalScore
		}
		return domain.NumberValue(v)
	default:
		best := carriers[0]
		for _, m := range carriers[1:] {
			if scores[m] > scores[best] {
				best = m
			}
		}
		return claims[best].Value.Fields[name]
	}
}
