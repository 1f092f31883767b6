package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

// ReadRun retrieves a single run by token.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, token string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, profile_name, profile_fingerprint, started_at, stopped_at, outcome
		FROM runs
		WHERE token = ?
	`, token)

	return scanRun(row)
}

// ReadLatestRun returns the most recently started run.
// Returns sql.ErrNoRows on an empty database.
func (s *Store) ReadLatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, profile_name, profile_fingerprint, started_at, stopped_at, outcome
		FROM runs
		ORDER BY started_at DESC, token DESC
		LIMIT 1
	`)

	return scanRun(row)
}

// ReadReadings returns every reading for a run with deterministic ordering:
// ORDER BY seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the run has no readings.
func (s *Store) ReadReadings(ctx context.Context, runToken string) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, at, probe, temp_f, humidity, vpd_kpa, dew_point_f, water_activity
		FROM readings
		WHERE run_token = ?
		ORDER BY seq ASC, id ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// ReadRecentReadings returns the newest limit readings for a run, oldest
// first so callers render them in time order.
func (s *Store) ReadRecentReadings(ctx context.Context, runToken string, limit int) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, at, probe, temp_f, humidity, vpd_kpa, dew_point_f, water_activity
		FROM readings
		WHERE run_token = ?
		ORDER BY seq DESC, id DESC
		LIMIT ?
	`, runToken, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	defer rows.Close()

	readings, err := collectReadings(rows)
	if err != nil {
		return nil, err
	}
	reverse(readings)
	return readings, nil
}

// ReadTransitions returns every equipment transition for a run with
// deterministic ordering: ORDER BY seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the run has no transitions.
func (s *Store) ReadTransitions(ctx context.Context, runToken string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, at, equipment, state, cause
		FROM transitions
		WHERE run_token = ?
		ORDER BY seq ASC, id ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	return collectTransitions(rows)
}

// ReadTransitionsSince returns a run's transitions at or after a point in
// time, for the operator history view.
func (s *Store) ReadTransitionsSince(ctx context.Context, runToken string, since time.Time) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, at, equipment, state, cause
		FROM transitions
		WHERE run_token = ? AND at >= ?
		ORDER BY seq ASC, id ASC
	`, runToken, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query transitions since: %w", err)
	}
	defer rows.Close()

	return collectTransitions(rows)
}

// ReadPhaseEvents returns every phase event for a run with deterministic
// ordering: ORDER BY seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the run has no phase events.
func (s *Store) ReadPhaseEvents(ctx context.Context, runToken string) ([]PhaseEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, at, phase, cause
		FROM phase_events
		WHERE run_token = ?
		ORDER BY seq ASC, id ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query phase events: %w", err)
	}
	defer rows.Close()

	var events []PhaseEvent
	for rows.Next() {
		var (
			ev    PhaseEvent
			atMs  int64
			phase string
		)
		if err := rows.Scan(&ev.RunToken, &ev.Seq, &atMs, &phase, &ev.Cause); err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		ev.At = time.UnixMilli(atMs).UTC()
		p, err := profile.ParsePhase(phase)
		if err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		ev.Phase = p
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase events: %w", err)
	}

	if events == nil {
		events = []PhaseEvent{}
	}

	return events, nil
}

// ReadRecentAlerts returns the newest limit alerts across all runs, oldest
// first.
func (s *Store) ReadRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, at, level, code, message
		FROM alerts
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a     Alert
			token sql.NullString
			atMs  int64
			level string
		)
		if err := rows.Scan(&token, &a.Seq, &atMs, &level, &a.Code, &a.Message); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.RunToken = token.String
		a.At = time.UnixMilli(atMs).UTC()
		a.Level = AlertLevel(level)
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	if alerts == nil {
		alerts = []Alert{}
	}

	reverse(alerts)
	return alerts, nil
}

// scanRun scans a single row into a Run struct.
func scanRun(row *sql.Row) (Run, error) {
	var (
		run       Run
		startedMs int64
		stoppedMs sql.NullInt64
		outcome   string
	)
	if err := row.Scan(
		&run.Token, &run.ProfileName, &run.ProfileFingerprint,
		&startedMs, &stoppedMs, &outcome,
	); err != nil {
		return Run{}, err
	}

	run.StartedAt = time.UnixMilli(startedMs).UTC()
	run.StoppedAt = scanNullTime(stoppedMs)
	run.Outcome = Outcome(outcome)

	return run, nil
}

// collectReadings drains rows into Reading structs.
func collectReadings(rows *sql.Rows) ([]Reading, error) {
	var readings []Reading
	for rows.Next() {
		var (
			r    Reading
			atMs int64
		)
		if err := rows.Scan(
			&r.RunToken, &r.Seq, &atMs, &r.Probe,
			&r.TempF, &r.Humidity, &r.VPDkPa, &r.DewPointF, &r.WaterActivity,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.At = time.UnixMilli(atMs).UTC()
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}

	// Return empty slice instead of nil
	if readings == nil {
		readings = []Reading{}
	}

	return readings, nil
}

// collectTransitions drains rows into Transition structs.
func collectTransitions(rows *sql.Rows) ([]Transition, error) {
	var transitions []Transition
	for rows.Next() {
		var (
			tr        Transition
			atMs      int64
			equipment string
			state     string
		)
		if err := rows.Scan(&tr.RunToken, &tr.Seq, &atMs, &equipment, &state, &tr.Cause); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.At = time.UnixMilli(atMs).UTC()
		id, err := hardware.ParseEquipmentID(equipment)
		if err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.Equipment = id
		tr.On = state == "on"
		transitions = append(transitions, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	// Return empty slice instead of nil
	if transitions == nil {
		transitions = []Transition{}
	}

	return transitions, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
