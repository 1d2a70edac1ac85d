// Package substrate holds adapters at the ingestion-substrate boundary.
// The store emits structured audit events on every accepted state change;
// these sinks forward them. Durability of the audit log belongs to the
// substrate, not to the belief store.
package substrate

import (
	"context"

	"github.com/credal-io/credal/internal/domain"
	"go.uber.org/zap"
)

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, e domain.Event) error {
	s.logger.Info("belief event",
		zap.String("event_type", string(e.Type)),
		zap.String("key", e.Key),
		zap.Any("details", e.Details),
		zap.Time("event_time", e.Timestamp))
	return nil
}

// MultiSink fans one event out to several sinks; the first failure wins but
// every sink still sees the event.
type MultiSink []domain.EventSink

func (m MultiSink) Emit(ctx context.Context, e domain.Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
