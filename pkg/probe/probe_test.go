package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errPort = errors.New("no such port")

func TestRun(t *testing.T) {
	checks := []Check{
		{Name: "database", Fn: func(context.Context) error { return nil }, Critical: true},
		{Name: "endpoint", Fn: func(context.Context) error { return errors.New("offline") }},
		{Name: "slow", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}

	results := Run(context.Background(), 20*time.Millisecond, checks)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("database: unexpected error %v", results[0].Err)
	}
	if results[1].Err == nil || results[1].Err.Error() != "offline" {
		t.Errorf("endpoint: expected 'offline', got %v", results[1].Err)
	}
	if !errors.Is(results[2].Err, context.DeadlineExceeded) {
		t.Errorf("slow: expected deadline exceeded, got %v", results[2].Err)
	}

	if err := Report(results); err != nil {
		t.Errorf("Report() = %v, want nil when only non-critical checks failed", err)
	}
}

func TestReport_Critical(t *testing.T) {
	results := []Result{
		{Check: Check{Name: "sensor", Critical: true}, Err: errPort},
		{Check: Check{Name: "endpoint"}, Err: errors.New("offline")},
		{Check: Check{Name: "database", Critical: true}},
	}
	err := Report(results)
	if err == nil {
		t.Fatal("Report() = nil, want critical failure")
	}
	if !errors.Is(err, errPort) {
		t.Errorf("Report() = %v, want it to wrap %v", err, errPort)
	}
	if !strings.Contains(err.Error(), "sensor: no such port") {
		t.Errorf("error %q does not name the failed check", err)
	}
	if strings.Contains(err.Error(), "offline") {
		t.Errorf("error %q includes a non-critical failure", err)
	}
}
