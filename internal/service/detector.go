package service

import (
	"fmt"
	"math"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/google/uuid"
)

// ConflictDetector decides pairwise incompatibility between claims on the
// same key. Detection is purely observational: it records, never blocks or
// rejects a write.
type ConflictDetector struct {
	// NumericTolerance is the largest |a-b| two numeric claims may differ
	// by and still be compatible.
	NumericTolerance float64
	// MaterialityFloor is the confidence both claims must exceed before a
	// difference counts as a conflict.
	MaterialityFloor float64
}

func NewConflictDetector(tolerance, floor float64) *ConflictDetector {
	return &ConflictDetector{NumericTolerance: tolerance, MaterialityFloor: floor}
}

// Check reports whether two claims conflict, with a diagnostic reason when
// they do. Claims below the materiality floor never conflict.
func (d *ConflictDetector) Check(a, b *domain.Claim) (string, bool) {
	if a.Key != b.Key {
		return "", false
	}
	if a.Confidence <= d.MaterialityFloor || b.Confidence <= d.MaterialityFloor {
		return "", false
	}
	return d.checkValue(a.Value, b.Value)
}

func (d *ConflictDetector) checkValue(va, vb domain.Value) (string, bool) {
	switch va.Kind {
	case domain.KindNumber:
		diff := math.Abs(va.Number - vb.Number)
		if diff > d.NumericTolerance {
			return fmt.Sprintf("number_mismatch(diff=%g)", diff), true
		}
	case domain.KindBool:
		if va.Bool != vb.Bool {
			return "bool_mismatch", true
		}
	case domain.KindText:
		if va.Text != vb.Text {
			return "text_mismatch", true
		}
	case domain.KindRecord:
		// Only overlapping fields can conflict; a field present on one
		// side only is extra information, not disagreement.
		for _, name := range va.FieldNames() {
			fb, ok := vb.Fields[name]
			if !ok {
				continue
			}
			fa := va.Fields[name]
			if fa.Kind != fb.Kind {
				return fmt.Sprintf("field %q: kind_mismatch(%s vs %s)", name, fa.Kind, fb.Kind), true
			}
			if reason, conflict := d.checkValue(fa, fb); conflict {
				return fmt.Sprintf("field %q: %s", name, reason), true
			}
		}
	}
	return "", false
}

// DetectAgainst compares a newly appended claim to the key's other active
// claims, producing one ConflictRecord per violating pair. All records from
// one detection pass share a group ID so multi-way disagreements can be
// referenced as a unit.
func (d *ConflictDetector) DetectAgainst(newClaim *domain.Claim, actives []domain.Claim, now time.Time) []domain.ConflictRecord {
	var recs []domain.ConflictRecord
	groupID := uuid.New()
	for i := range actives {
		other := &actives[i]
		if other.ID == newClaim.ID {
			continue
		}
		reason, conflict := d.Check(other, newClaim)
		if !conflict {
			continue
		}
		recs = append(recs, domain.ConflictRecord{
			ID:         uuid.New(),
			GroupID:    groupID,
			Key:        newClaim.Key,
			ClaimA:     other.ID,
			ClaimB:     newClaim.ID,
			Reason:     reason,
			DetectedAt: now,
			Metadata: map[string]any{
				"a_value": other.Value.String(),
				"b_value": newClaim.Value.String(),
				"a_agent": other.Provenance.AgentID,
				"b_agent": newClaim.Provenance.AgentID,
			},
		})
	}
	return recs
}
