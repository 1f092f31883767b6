package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OpenRun inserts the run row at process start.
// Uses ON CONFLICT(token) DO NOTHING for idempotency - resuming a persisted
// run after a restart re-inserts the same token harmlessly.
func (s *Store) OpenRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(token, profile_name, profile_fingerprint, started_at, stopped_at, outcome)
		VALUES (?, ?, ?, ?, NULL, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		run.Token,
		run.ProfileName,
		run.ProfileFingerprint,
		run.StartedAt.UnixMilli(),
		string(OutcomeActive),
	)
	if err != nil {
		return fmt.Errorf("open run: %w", err)
	}

	return nil
}

// CloseRun marks a run ended with its outcome.
// Idempotent - only the first close for a token takes effect; later calls
// find stopped_at already set and change nothing.
func (s *Store) CloseRun(ctx context.Context, token string, stoppedAt time.Time, outcome Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET stopped_at = ?, outcome = ?
		WHERE token = ? AND stopped_at IS NULL
	`,
		stoppedAt.UnixMilli(),
		string(outcome),
		token,
	)
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}

	return nil
}

// WriteReading inserts one probe reading.
// Uses ON CONFLICT(run_token, seq, probe) DO NOTHING for idempotency -
// re-appending the same cycle's reading is silently ignored.
//
// Note: The run referenced by RunToken must exist (foreign key constraint).
func (s *Store) WriteReading(ctx context.Context, r Reading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO readings
		(run_token, seq, at, probe, temp_f, humidity, vpd_kpa, dew_point_f, water_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, seq, probe) DO NOTHING
	`,
		r.RunToken,
		r.Seq,
		r.At.UnixMilli(),
		r.Probe,
		r.TempF,
		r.Humidity,
		r.VPDkPa,
		r.DewPointF,
		r.WaterActivity,
	)
	if err != nil {
		return fmt.Errorf("write reading: %w", err)
	}

	return nil
}

// WriteTransition inserts one equipment state change.
// Uses ON CONFLICT(run_token, seq, equipment) DO NOTHING for idempotency -
// one cycle can change a given actuator at most once.
//
// Note: The run referenced by RunToken must exist (foreign key constraint).
func (s *Store) WriteTransition(ctx context.Context, tr Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions
		(run_token, seq, at, equipment, state, cause)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, seq, equipment) DO NOTHING
	`,
		tr.RunToken,
		tr.Seq,
		tr.At.UnixMilli(),
		tr.Equipment.String(),
		stateText(tr.On),
		tr.Cause,
	)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}

	return nil
}

// WritePhaseEvent inserts one phase machine event.
func (s *Store) WritePhaseEvent(ctx context.Context, ev PhaseEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_events
		(run_token, seq, at, phase, cause)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.RunToken,
		ev.Seq,
		ev.At.UnixMilli(),
		ev.Phase.String(),
		ev.Cause,
	)
	if err != nil {
		return fmt.Errorf("write phase event: %w", err)
	}

	return nil
}

// WriteAlert inserts one operator alert. An empty RunToken stores NULL so
// alerts raised outside any run (corrupt snapshot at boot) are representable.
func (s *Store) WriteAlert(ctx context.Context, a Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts
		(run_token, seq, at, level, code, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		nullableToken(a.RunToken),
		a.Seq,
		a.At.UnixMilli(),
		string(a.Level),
		a.Code,
		a.Message,
	)
	if err != nil {
		return fmt.Errorf("write alert: %w", err)
	}

	return nil
}

// WriteCycle atomically appends everything one control cycle produced:
// probe readings, equipment transitions, phase events and alerts, in a
// single transaction. A crash mid-append leaves either the whole cycle in
// the history or none of it.
//
// The per-row ON CONFLICT DO NOTHING idempotency is preserved inside the
// transaction, so re-appending an already-recorded cycle is a no-op for the
// keyed tables.
func (s *Store) WriteCycle(
	ctx context.Context,
	readings []Reading,
	transitions []Transition,
	events []PhaseEvent,
	alerts []Alert,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write cycle: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, r := range readings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO readings
			(run_token, seq, at, probe, temp_f, humidity, vpd_kpa, dew_point_f, water_activity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_token, seq, probe) DO NOTHING
		`,
			r.RunToken, r.Seq, r.At.UnixMilli(), r.Probe,
			r.TempF, r.Humidity, r.VPDkPa, r.DewPointF, r.WaterActivity,
		)
		if err != nil {
			return fmt.Errorf("write cycle: reading %s: %w", r.Probe, err)
		}
	}

	for _, tr := range transitions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transitions
			(run_token, seq, at, equipment, state, cause)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_token, seq, equipment) DO NOTHING
		`,
			tr.RunToken, tr.Seq, tr.At.UnixMilli(),
			tr.Equipment.String(), stateText(tr.On), tr.Cause,
		)
		if err != nil {
			return fmt.Errorf("write cycle: transition %s: %w", tr.Equipment, err)
		}
	}

	for _, ev := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phase_events
			(run_token, seq, at, phase, cause)
			VALUES (?, ?, ?, ?, ?)
		`,
			ev.RunToken, ev.Seq, ev.At.UnixMilli(), ev.Phase.String(), ev.Cause,
		)
		if err != nil {
			return fmt.Errorf("write cycle: phase event %s: %w", ev.Phase, err)
		}
	}

	for _, a := range alerts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts
			(run_token, seq, at, level, code, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			nullableToken(a.RunToken), a.Seq, a.At.UnixMilli(),
			string(a.Level), a.Code, a.Message,
		)
		if err != nil {
			return fmt.Errorf("write cycle: alert %s: %w", a.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write cycle: commit: %w", err)
	}

	return nil
}

// nullableToken maps the empty run token to SQL NULL.
func nullableToken(token string) any {
	if token == "" {
		return nil
	}
	return token
}

// scanNullTime converts a nullable unix-milliseconds column to a time.Time,
// zero when NULL.
func scanNullTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
