package quota

import (
	"context"
	"time"

	"lovepage-backend/internal/shared/telemetry"
)

// Pruner drops replay records older than Retention from a Store every Interval.
// Retries that arrive after a record is pruned are treated as new operations.
type Pruner struct {
	Store     Store
	Retention time.Duration
	Interval  time.Duration

	now func() time.Time
}

// NewPruner constructs a Pruner. A non-positive interval defaults to Retention/10.
func NewPruner(store Store, retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = retention / 10
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Pruner{
		Store:     store,
		Retention: retention,
		Interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PruneOnce removes records created before now minus Retention.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.Retention)
	n, err := p.Store.PruneOperations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.Info("quota.operations_pruned", map[string]any{
			"count":  n,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return n, nil
}

// Run prunes immediately and then on every tick until ctx is done.
// A non-positive Retention disables pruning.
func (p *Pruner) Run(ctx context.Context) {
	if p.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			telemetry.Warn("quota.prune_failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
