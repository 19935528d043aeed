package store

import (
	"context"
	"time"
)

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// ArchivedTrack is a retired track with its final transfer counters.
type ArchivedTrack struct {
	Token      string
	DeviceID   string
	Origin     time.Time
	LastSample time.Time
	Entries    int
	Fixes      int
	Sent       int
	Attempts   int
	Successes  int
	Errors     int
	Timeouts   int
	Waits      int
	Aborts     int
	HardFailed bool
	IGC        string
	ArchivedAt time.Time
}

// TrackArchive keeps retired tracks for later download.
type TrackArchive interface {
	ArchiveTrack(ctx context.Context, t *ArchivedTrack) error
	GetArchivedTrack(ctx context.Context, token string) (*ArchivedTrack, error)
	ListArchivedTracks(ctx context.Context, limit int) ([]ArchivedTrack, error)
}
