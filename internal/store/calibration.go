package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kea/internal/types"
)

// CalibrationStore serves calibration history to the gate-out phase and
// accepts observed outcomes. Implementations handle their own locking.
type CalibrationStore interface {
	History(domain string) []types.CalibrationSample
	Record(sample types.CalibrationSample) error
	Close() error
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryCalibrationStore keeps samples in process memory. Used when no
// database path is configured, and by tests.
type MemoryCalibrationStore struct {
	mu      sync.RWMutex
	window  int
	samples map[string][]types.CalibrationSample
}

// NewMemoryCalibrationStore creates a store keeping at most window samples
// per domain.
func NewMemoryCalibrationStore(window int) *MemoryCalibrationStore {
	if window < 1 {
		window = 50
	}
	return &MemoryCalibrationStore{
		window:  window,
		samples: make(map[string][]types.CalibrationSample),
	}
}

// History returns the retained samples for a domain, oldest first.
func (s *MemoryCalibrationStore) History(domain string) []types.CalibrationSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.CalibrationSample(nil), s.samples[domain]...)
}

// Record appends a sample, evicting the oldest past the window.
func (s *MemoryCalibrationStore) Record(sample types.CalibrationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.samples[sample.Domain], sample)
	if len(list) > s.window {
		list = list[len(list)-s.window:]
	}
	s.samples[sample.Domain] = list
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryCalibrationStore) Close() error { return nil }

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteCalibrationStore persists calibration samples so curves survive
// process restarts and are shared across invocations.
type SQLiteCalibrationStore struct {
	db     *sql.DB
	mu     sync.Mutex
	window int
}

const calibrationSchema = `
CREATE TABLE IF NOT EXISTS calibration_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    domain      TEXT NOT NULL,
    stated      REAL NOT NULL,
    observed    REAL NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibration_domain
    ON calibration_history(domain, recorded_at DESC);
`

// NewSQLiteCalibrationStore opens (creating if needed) the SQLite database
// at path and ensures the schema exists.
func NewSQLiteCalibrationStore(path string, window int) (*SQLiteCalibrationStore, error) {
	if window < 1 {
		window = 50
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create calibration db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open calibration db: %w", err)
	}
	if _, err := db.Exec(calibrationSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init calibration schema: %w", err)
	}
	return &SQLiteCalibrationStore{db: db, window: window}, nil
}

// History returns up to window recent samples for a domain, oldest first.
// Read errors degrade to an empty history; calibration is advisory.
func (s *SQLiteCalibrationStore) History(domain string) []types.CalibrationSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT domain, stated, observed, recorded_at
		 FROM calibration_history WHERE domain = ?
		 ORDER BY recorded_at DESC LIMIT ?`, domain, s.window)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []types.CalibrationSample
	for rows.Next() {
		var sample types.CalibrationSample
		var ts int64
		if err := rows.Scan(&sample.Domain, &sample.Stated, &sample.Observed, &ts); err != nil {
			return nil
		}
		sample.RecordedAt = time.Unix(ts, 0)
		out = append(out, sample)
	}
	if rows.Err() != nil {
		return nil
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Record inserts one sample atomically.
func (s *SQLiteCalibrationStore) Record(sample types.CalibrationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := sample.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO calibration_history (domain, stated, observed, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		sample.Domain, sample.Stated, sample.Observed, at.Unix())
	if err != nil {
		return fmt.Errorf("record calibration sample: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteCalibrationStore) Close() error { return s.db.Close() }

// Open picks the SQLite store when a path is configured, the in-memory
// store otherwise.
func Open(path string, window int) (CalibrationStore, error) {
	if path == "" {
		return NewMemoryCalibrationStore(window), nil
	}
	return NewSQLiteCalibrationStore(path, window)
}
