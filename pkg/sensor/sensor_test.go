package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"glidetrack/pkg/fix"
)

func TestError(t *testing.T) {
	denied := &Error{Code: CodePermissionDenied, Message: "User denied Geolocation"}
	if !errors.Is(denied, ErrPermissionDenied) || !denied.Fatal() {
		t.Error("permission denied should match ErrPermissionDenied and be fatal")
	}
	if got := denied.Error(); got != "sensor error 1: User denied Geolocation" {
		t.Errorf("Error() = %q", got)
	}

	timeout := &Error{Code: CodeTimeout, Message: "Timeout expired"}
	if errors.Is(timeout, ErrPermissionDenied) || timeout.Fatal() {
		t.Error("timeout should be neither permission denied nor fatal")
	}
}

func TestGate_MaxFixAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var got []fix.RawFix
	g := NewGate(Options{MaxFixAge: time.Second}, Handler{
		OnFix: func(f fix.RawFix) { got = append(got, f) },
	}, func() time.Time { return now })

	g.Fix(fix.RawFix{Time: now.Add(-500 * time.Millisecond)})
	g.Fix(fix.RawFix{Time: now.Add(-3 * time.Second)})
	if len(got) != 1 {
		t.Fatalf("expected 1 fix to pass, got %d", len(got))
	}
	if want := now.Add(-500 * time.Millisecond); !got[0].Time.Equal(want) {
		t.Errorf("passed fix time = %v, want %v", got[0].Time, want)
	}
}

func TestGate_Timeout(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var errs []*Error
	g := NewGate(Options{Timeout: 10 * time.Second}, Handler{
		OnError: func(e *Error) { errs = append(errs, e) },
	}, func() time.Time { return now })

	now = now.Add(5 * time.Second)
	g.Tick()
	if len(errs) != 0 {
		t.Fatalf("timeout reported after 5s: %v", errs)
	}

	now = now.Add(6 * time.Second)
	g.Tick()
	if len(errs) != 1 || errs[0].Code != CodeTimeout {
		t.Fatalf("expected one timeout error, got %v", errs)
	}

	// Once per quiet period
	now = now.Add(time.Second)
	g.Tick()
	if len(errs) != 1 {
		t.Errorf("timeout repeated within the quiet period: %d errors", len(errs))
	}

	// A fix resets the period
	g.Fix(fix.RawFix{Time: now})
	now = now.Add(11 * time.Second)
	g.Tick()
	if len(errs) != 2 {
		t.Errorf("expected a second timeout after a new quiet period, got %d errors", len(errs))
	}
}

func TestGo_StopWaitsForLoop(t *testing.T) {
	exited := make(chan struct{})
	w := Go(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})
	w.Stop()
	select {
	case <-exited:
	default:
		t.Fatal("Stop returned before the loop exited")
	}
}
