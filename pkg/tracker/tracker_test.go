package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	host := "gt.example.org"

	// Test Initial State
	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.TrackRequest(host, 100)
	tr.TrackSuccess(host, 4)
	tr.TrackRequest(host, 50)
	tr.TrackFailure(host)

	stats = tr.Snapshot()
	hs, ok := stats[host]
	if !ok {
		t.Fatalf("Expected stats for host %s", host)
	}
	if hs.Requests != 2 {
		t.Errorf("Expected 2 Requests, got %d", hs.Requests)
	}
	if hs.Successes != 1 {
		t.Errorf("Expected 1 Success, got %d", hs.Successes)
	}
	if hs.Failures != 1 {
		t.Errorf("Expected 1 Failure, got %d", hs.Failures)
	}
	if hs.BytesSent != 150 {
		t.Errorf("Expected 150 BytesSent, got %d", hs.BytesSent)
	}
	if hs.BytesRecvd != 4 {
		t.Errorf("Expected 4 BytesRecvd, got %d", hs.BytesRecvd)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackRequest("h", 1)
		}()
	}
	wg.Wait()
	if got := tr.Snapshot()["h"].Requests; got != 20 {
		t.Errorf("Expected 20 Requests, got %d", got)
	}
}
