package control

import (
	"time"

	"github.com/drydenhq/dryden/internal/profile"
)

// ProcessRun is the lifecycle state of one drying/curing run. It is owned
// by the Controller and mutated only under its lock; everyone else sees
// copies via Status.
//
// A run is created by Start, advanced every cycle, frozen by an emergency
// stop (equipment off, phase and timestamps retained for resume) and
// destroyed by Stop or schedule completion.
type ProcessRun struct {
	// Token identifies the run in the history store and telemetry.
	// UUIDv7 in production, so tokens sort by start time.
	Token string

	// ProfileName and Fingerprint pin the recipe the run started under.
	// A different fingerprint on resume is logged, not rejected: the
	// operator may have tuned the recipe mid-run on purpose.
	ProfileName string
	Fingerprint string

	Phase profile.Phase

	// PrevPhase is the outgoing phase, kept for cross-boundary setpoint
	// blending. Equal to Phase until the first transition.
	PrevPhase profile.Phase

	// ProcessStart is zero when idle. It survives restarts exactly as
	// first persisted; elapsed-time phase math depends on that.
	ProcessStart time.Time
	PhaseStart   time.Time

	Active bool
	Held   bool
}
