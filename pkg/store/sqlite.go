package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"time"

	"glidetrack/pkg/db"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	StateStore
	TrackArchive

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Tracks ---

const trackColumns = `token, device_id, origin, last_sample, entries, fixes, sent,
	attempts, successes, errors, timeouts, waits, aborts, hard_failed, igc, archived_at`

func (s *SQLiteStore) ArchiveTrack(ctx context.Context, t *ArchivedTrack) error {
	igc, err := compress([]byte(t.IGC))
	if err != nil {
		return err
	}
	if t.ArchivedAt.IsZero() {
		t.ArchivedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tracks (`+trackColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Token, t.DeviceID, t.Origin.UTC(), t.LastSample.UTC(), t.Entries, t.Fixes, t.Sent,
		t.Attempts, t.Successes, t.Errors, t.Timeouts, t.Waits, t.Aborts, t.HardFailed,
		igc, t.ArchivedAt.UTC())
	return err
}

// GetArchivedTrack returns nil, nil when the token is unknown.
func (s *SQLiteStore) GetArchivedTrack(ctx context.Context, token string) (*ArchivedTrack, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE token = ?`, token)
	t, err := scanTrack(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return t, err
}

// ListArchivedTracks returns the most recently archived tracks first,
// without their IGC payload.
func (s *SQLiteStore) ListArchivedTracks(ctx context.Context, limit int) ([]ArchivedTrack, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedTrack
	for rows.Next() {
		t, err := scanTrack(rows.Scan)
		if err != nil {
			return nil, err
		}
		t.IGC = ""
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrack(scan func(dest ...any) error) (*ArchivedTrack, error) {
	var t ArchivedTrack
	var devID sql.NullString
	var origin, last, archived sql.NullTime
	var igc []byte
	err := scan(&t.Token, &devID, &origin, &last, &t.Entries, &t.Fixes, &t.Sent,
		&t.Attempts, &t.Successes, &t.Errors, &t.Timeouts, &t.Waits, &t.Aborts, &t.HardFailed,
		&igc, &archived)
	if err != nil {
		return nil, err
	}
	t.DeviceID = devID.String
	t.Origin = origin.Time
	t.LastSample = last.Time
	t.ArchivedAt = archived.Time

	// Transparent Decompression
	if len(igc) > 2 && igc[0] == 0x1f && igc[1] == 0x8b {
		if raw, err := decompress(igc); err == nil {
			igc = raw
		}
	}
	t.IGC = string(igc)
	return &t, nil
}

// --- Compression Pooling ---

var (
	// Pool for gzip writers to reuse flate state
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	// Pool for generic byte buffers
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
