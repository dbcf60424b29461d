package store

import (
	"path/filepath"
	"testing"
	"time"

	"kea/internal/types"
)

func TestMemoryCalibrationStoreWindow(t *testing.T) {
	s := NewMemoryCalibrationStore(2)

	for i := 0; i < 3; i++ {
		if err := s.Record(types.CalibrationSample{
			Domain: "data",
			Stated: float64(i) / 10,
		}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	history := s.History("data")
	if len(history) != 2 {
		t.Fatalf("History = %d samples, want window of 2", len(history))
	}
	if history[0].Stated != 0.1 || history[1].Stated != 0.2 {
		t.Fatalf("History = %+v, want oldest evicted", history)
	}
}

func TestMemoryCalibrationStoreDomainsAreIndependent(t *testing.T) {
	s := NewMemoryCalibrationStore(10)
	_ = s.Record(types.CalibrationSample{Domain: "data", Stated: 0.5})

	if got := s.History("ops"); len(got) != 0 {
		t.Fatalf("History(ops) = %+v, want empty", got)
	}
}

func TestSQLiteCalibrationStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.db")
	s, err := NewSQLiteCalibrationStore(path, 10)
	if err != nil {
		t.Fatalf("NewSQLiteCalibrationStore() error = %v", err)
	}
	defer s.Close()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		if err := s.Record(types.CalibrationSample{
			Domain:     "data",
			Stated:     0.8,
			Observed:   0.6,
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	history := s.History("data")
	if len(history) != 3 {
		t.Fatalf("History = %d samples, want 3", len(history))
	}
	if !history[0].RecordedAt.Before(history[2].RecordedAt) {
		t.Fatalf("History not in chronological order: %+v", history)
	}
	if history[0].Observed != 0.6 {
		t.Fatalf("Observed = %v, want 0.6", history[0].Observed)
	}
}

func TestSQLiteCalibrationStoreWindowLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.db")
	s, err := NewSQLiteCalibrationStore(path, 2)
	if err != nil {
		t.Fatalf("NewSQLiteCalibrationStore() error = %v", err)
	}
	defer s.Close()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		_ = s.Record(types.CalibrationSample{
			Domain:     "data",
			Stated:     float64(i) / 10,
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	history := s.History("data")
	if len(history) != 2 {
		t.Fatalf("History = %d samples, want window of 2", len(history))
	}
	// The two most recent, oldest first.
	if history[0].Stated != 0.3 || history[1].Stated != 0.4 {
		t.Fatalf("History = %+v, want the newest two", history)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	mem, err := Open("", 10)
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	defer mem.Close()
	if _, ok := mem.(*MemoryCalibrationStore); !ok {
		t.Fatalf("Open(\"\") = %T, want memory store", mem)
	}

	path := filepath.Join(t.TempDir(), "cal.db")
	db, err := Open(path, 10)
	if err != nil {
		t.Fatalf("Open(path) error = %v", err)
	}
	defer db.Close()
	if _, ok := db.(*SQLiteCalibrationStore); !ok {
		t.Fatalf("Open(path) = %T, want sqlite store", db)
	}
}
