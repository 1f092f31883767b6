// Package store provides the durable state of the controller: the crash-safe
// process snapshot and the SQLite history log.
//
// The snapshot is a single JSON file written at the end of every control
// cycle via write-temp-then-rename, so a power loss mid-write never yields a
// half-written file. It is the only state required to resume a run: a lost
// history database costs analytics, a lost snapshot costs the run.
//
// The history log is append-only:
//   - runs: one row per process run, closed with an outcome
//   - readings: per-cycle, per-probe samples with derived psychrometrics
//   - transitions: equipment state changes with their cause
//   - phase_events: schedule advancement, early exits, resumes
//   - alerts: warning/critical conditions
//
// Conventions carried throughout:
//   - Per-run ordering uses the cycle sequence number, then row id. Wall
//     timestamps are stored as unix milliseconds UTC and ordered by only in
//     the cross-run alert view.
//   - Writes are idempotent via ON CONFLICT DO NOTHING on natural keys, so
//     a cycle replayed after a crash-restore cannot double-append.
//   - WAL mode with a single writer connection; readers (the status CLI)
//     open their own connection concurrently.
package store
