package substrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/credal-io/credal/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends audit events to a substrate table. It is optional:
// the store runs fully in memory and only emits through this adapter when a
// database is configured.
type PostgresSink struct {
	db *pgxpool.Pool
}

func NewPostgresSink(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the audit table if the substrate database does not
// have it yet.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS belief_events (
			id         BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			key        TEXT NOT NULL,
			details    JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure belief_events schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Emit(ctx context.Context, e domain.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO belief_events (event_type, key, details, created_at)
		 VALUES ($1, $2, $3, $4)`,
		string(e.Type), e.Key, details, e.Timestamp,
	)
	return err
}
