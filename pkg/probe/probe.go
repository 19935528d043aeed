// Package probe runs start-up checks and reports which ones block recording.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 5 * time.Second

// Check is one start-up condition.
type Check struct {
	Name     string
	Fn       func(ctx context.Context) error
	Critical bool // failure prevents start-up
}

// Result is the outcome of one check.
type Result struct {
	Check    Check
	Err      error
	Duration time.Duration
}

// Run executes checks in order, each under its own timeout.
func Run(ctx context.Context, timeout time.Duration, checks []Check) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	results := make([]Result, len(checks))
	for i, c := range checks {
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Fn(cctx)
		cancel()
		results[i] = Result{Check: c, Err: err, Duration: time.Since(start)}
	}
	return results
}

// Report logs every result and joins the errors of failed critical checks.
func Report(results []Result) error {
	var critical []error
	for _, r := range results {
		d := r.Duration.Round(time.Millisecond)
		if r.Err == nil {
			slog.Info("Startup check passed", "check", r.Check.Name, "duration", d)
			continue
		}
		if r.Check.Critical {
			slog.Error("Startup check failed", "check", r.Check.Name, "duration", d, "error", r.Err)
			critical = append(critical, fmt.Errorf("%s: %w", r.Check.Name, r.Err))
		} else {
			slog.Warn("Startup check failed", "check", r.Check.Name, "duration", d, "error", r.Err)
		}
	}
	return errors.Join(critical...)
}
