package store

import (
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

// Outcome records how a run ended. OutcomeActive marks the open run.
type Outcome string

const (
	OutcomeActive        Outcome = "active"
	OutcomeCompleted     Outcome = "completed"
	OutcomeStopped       Outcome = "stopped"
	OutcomeEmergencyStop Outcome = "emergency_stop"
)

// AlertLevel distinguishes warnings (degraded but still controlling) from
// critical conditions (equipment forced off, operator action required).
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Run is one process run, from operator start to stop or completion.
type Run struct {
	Token              string
	ProfileName        string
	ProfileFingerprint string
	StartedAt          time.Time
	StoppedAt          time.Time // zero while the run is open
	Outcome            Outcome
}

// Reading is one probe sample with its derived psychrometrics, tagged with
// the control cycle that produced it.
type Reading struct {
	RunToken      string
	Seq           int64
	At            time.Time
	Probe         string
	TempF         float64
	Humidity      float64
	VPDkPa        float64
	DewPointF     float64
	WaterActivity float64
}

// Transition is one equipment on/off change and the decision cause behind it.
type Transition struct {
	RunToken  string
	Seq       int64
	At        time.Time
	Equipment hardware.EquipmentID
	On        bool
	Cause     string
}

// PhaseEvent marks the phase machine entering a phase and why.
type PhaseEvent struct {
	RunToken string
	Seq      int64
	At       time.Time
	Phase    profile.Phase
	Cause    string
}

// Alert is an operator-facing warning or critical condition.
type Alert struct {
	RunToken string // empty when raised outside a run
	Seq      int64
	At       time.Time
	Level    AlertLevel
	Code     string
	Message  string
}

// stateText renders an on/off bit the way the transitions table stores it.
func stateText(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
