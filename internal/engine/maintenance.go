package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.RunMaintenance(context.Background())
		}
	}
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	StaleExpired    int    `json:"stale_expired"`
	PatternsRemoved int    `json:"patterns_removed"`
	HeapBytes       uint64 `json:"heap_bytes"`
}

// RunMaintenance performs one maintenance pass: expire stale pending
// decisions, clean up patterns when due, feed the heap sample to every
// governor and flush history.
func (e *Engine) RunMaintenance(ctx context.Context) MaintenanceReport {
	now := e.now()
	var report MaintenanceReport

	e.mu.Lock()
	sessions := e.sessionsLocked()
	cleanupDue := now.Sub(e.lastCleanup) >= e.cfg.CleanupInterval
	if cleanupDue {
		e.lastCleanup = now
	}
	e.mu.Unlock()

	for _, s := range sessions {
		report.StaleExpired += e.cache.SweepPending(ctx, s.coord, now)
	}
	if cleanupDue {
		report.PatternsRemoved = e.patterns.Cleanup(ctx)
	}
	if e.sampleMemory != nil {
		report.HeapBytes = e.sampleMemory()
		for _, s := range sessions {
			s.governor.ObserveMemory(report.HeapBytes)
		}
	}
	if err := e.cache.Flush(ctx); err != nil {
		e.logger.Warn("failed to flush history", zap.Error(err))
	}

	if report.StaleExpired > 0 || report.PatternsRemoved > 0 {
		e.logger.Info("maintenance pass",
			zap.Int("stale_expired", report.StaleExpired),
			zap.Int("patterns_removed", report.PatternsRemoved))
	}
	return report
}
