package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
)

// createTestStore creates a store backed by a database file in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testStart is a fixed run start time so assertions are reproducible.
var testStart = time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

// openTestRun inserts a run row and returns its token. Most history rows
// need one for the foreign key.
func openTestRun(t *testing.T, s *Store, token string) string {
	t.Helper()
	err := s.OpenRun(context.Background(), Run{
		Token:              token,
		ProfileName:        "standard-dry-cure",
		ProfileFingerprint: "deadbeef",
		StartedAt:          testStart,
	})
	if err != nil {
		t.Fatalf("OpenRun() failed: %v", err)
	}
	return token
}

// createTestReading builds a reading with plausible chamber numbers.
func createTestReading(token string, seq int64, probe string) Reading {
	return Reading{
		RunToken:      token,
		Seq:           seq,
		At:            testStart.Add(time.Duration(seq) * 10 * time.Second),
		Probe:         probe,
		TempF:         68.0,
		Humidity:      62.0,
		VPDkPa:        0.75,
		DewPointF:     55.0,
		WaterActivity: 0.62,
	}
}

// createTestTransition builds an equipment transition.
func createTestTransition(token string, seq int64, id hardware.EquipmentID, on bool) Transition {
	return Transition{
		RunToken:  token,
		Seq:       seq,
		At:        testStart.Add(time.Duration(seq) * 10 * time.Second),
		Equipment: id,
		On:        on,
		Cause:     "vpd_above_max",
	}
}

// countRows counts rows in a table.
func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
