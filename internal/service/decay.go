package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DecayScheduler runs periodic decay sweeps in the background. It is
// cooperative: each tick acquires key locks one at a time and never blocks
// writers for longer than a single key's recompute.
type DecayScheduler struct {
	svc    *BeliefService
	logger *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewDecayScheduler(svc *BeliefService, logger *zap.Logger) *DecayScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecayScheduler{
		svc:      svc,
		logger:   logger,
		interval: svc.opts.DecayInterval,
		stopCh:   make(chan struct{}),
	}
}

// SetInterval overrides the sweep interval. Call before Start.
func (d *DecayScheduler) SetInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

func (d *DecayScheduler) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.logger.Info("decay worker started", zap.Duration("interval", d.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				d.svc.RunDecay(ctx)
				cancel()
			case <-d.stopCh:
				d.logger.Info("decay worker stopped")
				return
			}
		}
	}()
}

func (d *DecayScheduler) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}
