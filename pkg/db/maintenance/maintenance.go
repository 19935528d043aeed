package maintenance

import (
	"context"
	"log/slog"
	"time"

	"glidetrack/pkg/db"
	"glidetrack/pkg/store"
)

const lastRunStateKey = "maintenance_last_run"

// minInterval is how often pruning actually runs, however often Run is called.
const minInterval = 24 * time.Hour

// Run prunes archived tracks older than retention. It records its last run
// in the state store and does nothing if the previous run is recent.
// It blocks until completion.
func Run(ctx context.Context, s store.StateStore, d *db.DB, retention time.Duration) error {
	now := time.Now().UTC()
	if last, ok := s.GetState(ctx, lastRunStateKey); ok {
		if t, err := time.Parse(time.RFC3339, last); err == nil && now.Sub(t) < minInterval {
			slog.Debug("Database maintenance skipped", "last_run", t)
			return nil
		}
	}

	slog.Info("Starting database maintenance...")
	if retention > 0 {
		n, err := d.PruneTracks(retention)
		if err != nil {
			slog.Error("Track pruning failed", "error", err)
		} else {
			slog.Info("Track pruning completed", "removed", n)
		}
	}

	return s.SetState(ctx, lastRunStateKey, now.Format(time.RFC3339))
}
