package store

import (
	"maps"
	"sync"

	"github.com/credal-io/credal/internal/domain"
)

// ConflictLog is the append-only record of detected incompatibilities.
// Records reference claims by ID and never remove them; conflicting claims
// stay queryable for audit.
type ConflictLog struct {
	mu    sync.RWMutex
	all   []domain.ConflictRecord
	byKey map[string][]domain.ConflictRecord
}

func NewConflictLog() *ConflictLog {
	return &ConflictLog{byKey: make(map[string][]domain.ConflictRecord)}
}

func (cl *ConflictLog) Append(recs ...domain.ConflictRecord) {
	if len(recs) == 0 {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, r := range recs {
		cl.all = append(cl.all, r)
		cl.byKey[r.Key] = append(cl.byKey[r.Key], r)
	}
}

// ByKey returns the key's conflict records in detection order.
func (cl *ConflictLog) ByKey(key string) []domain.ConflictRecord {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cloneRecords(cl.byKey[key])
}

// All returns every conflict record across keys in detection order.
func (cl *ConflictLog) All() []domain.ConflictRecord {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cloneRecords(cl.all)
}

// cloneRecords copies records including their metadata maps, so callers
// cannot reach the log's own state.
func cloneRecords(recs []domain.ConflictRecord) []domain.ConflictRecord {
	out := append([]domain.ConflictRecord(nil), recs...)
	for i := range out {
		out[i].Metadata = maps.Clone(out[i].Metadata)
	}
	return out
}
