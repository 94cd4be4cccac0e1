// Package sqlite records tracker samples to a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalsfoundry/lfp-tracker/lfp"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultBatchSize is how many samples are buffered before a flush.
const DefaultBatchSize = 512

// ErrClosed is returned when recording to a closed store.
var ErrClosed = errors.New("sample store closed")

// SampleStore buffers samples and writes them in batched transactions.
// Samples are keyed by tracker and simulation time in nanoseconds.
type SampleStore struct {
	db    *sql.DB
	path  string
	batch int

	mu      sync.Mutex
	pending []lfp.Sample
	closed  bool
}

// Open creates or opens the database at path. An empty path opens a
// private in-memory database.
func Open(path string) (*SampleStore, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS samples (
		tracker TEXT NOT NULL,
		t_ns INTEGER NOT NULL,
		value REAL,
		skipped INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create samples table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS samples_tracker_time ON samples (tracker, t_ns)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create samples index: %w", err)
	}
	return &SampleStore{db: db, path: dsn, batch: DefaultBatchSize}, nil
}

// Path returns the database location.
func (s *SampleStore) Path() string { return s.path }

// SetBatchSize changes the flush threshold; n < 1 flushes every sample.
func (s *SampleStore) SetBatchSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 {
		n = 1
	}
	s.batch = n
}

// Record buffers smp and flushes once the batch is full.
func (s *SampleStore) Record(ctx context.Context, smp lfp.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, smp)
	if len(s.pending) < s.batch {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes every buffered sample.
func (s *SampleStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked(ctx)
}

func (s *SampleStore) flushLocked(ctx context.Context) (retErr error) {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (tracker, t_ns, value, skipped) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, smp := range s.pending {
		var value sql.NullFloat64
		if !math.IsNaN(smp.Value) && !math.IsInf(smp.Value, 0) {
			value = sql.NullFloat64{Float64: smp.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, smp.Tracker, smp.Time.UnixNano(), value, smp.Skipped); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.pending = s.pending[:0]
	return nil
}

// Samples returns the recorded samples of tracker in time order. Values
// that were not finite read back as NaN.
func (s *SampleStore) Samples(ctx context.Context, tracker string) ([]lfp.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT t_ns, value, skipped FROM samples WHERE tracker = ? ORDER BY t_ns, rowid`, tracker)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []lfp.Sample
	for rows.Next() {
		var (
			ns      int64
			value   sql.NullFloat64
			skipped int
		)
		if err := rows.Scan(&ns, &value, &skipped); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		smp := lfp.Sample{Tracker: tracker, Time: time.Unix(0, ns).UTC(), Value: math.NaN(), Skipped: skipped}
		if value.Valid {
			smp.Value = value.Float64
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Trackers lists the tracker names that have recorded samples.
func (s *SampleStore) Trackers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tracker FROM samples ORDER BY tracker`)
	if err != nil {
		return nil, fmt.Errorf("select trackers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close flushes pending samples and closes the database.
func (s *SampleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.flushLocked(context.Background())
	return errors.Join(flushErr, s.db.Close())
}
