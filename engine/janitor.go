package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor sweeps expired checkpoints on a cron schedule. Retention by
// count is enforced inline by the checkpoint store; the janitor handles
// retention by age, which has no natural inline trigger. It is never
// required for correctness.
type Janitor struct {
	engine *Engine
	cron   *cron.Cron
	maxAge time.Duration
}

// NewJanitor schedules a retention sweep on e. The schedule uses
// standard five-field cron syntax.
func NewJanitor(e *Engine, cfg JanitorConfig) (*Janitor, error) {
	j := &Janitor{
		engine: e,
		cron:   cron.New(),
		maxAge: cfg.MaxAge.Std(),
	}
	_, err := j.cron.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if removed, err := j.Sweep(ctx); err != nil {
			e.logger.Warn("checkpoint sweep failed", "error", err)
		} else if removed > 0 {
			e.logger.Info("checkpoint sweep completed", "removed", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start begins scheduled sweeps.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule. A sweep already running finishes.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep deletes every checkpoint older than the retention age across
// all stored sessions and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	summaries, err := j.engine.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("checkpoint sweep: %w", err)
	}
	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, s := range summaries {
		index, err := j.engine.checkpoints.List(ctx, s.SessionID)
		if err != nil {
			return removed, fmt.Errorf("checkpoint sweep for %s: %w", s.SessionID, err)
		}
		for _, cp := range index {
			if !cp.CreatedAt.Before(cutoff) {
				continue
			}
			if err := j.engine.checkpoints.Delete(ctx, s.SessionID, cp.Key); err != nil {
				return removed, fmt.Errorf("checkpoint sweep for %s: %w", s.SessionID, err)
			}
			removed++
		}
	}
	if removed > 0 {
		j.engine.metrics.RecordCheckpoint("sweep")
	}
	return removed, nil
}
