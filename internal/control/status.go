package control

import (
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

// EquipmentStatus pairs the mirrored actuator state with its operator
// mode.
type EquipmentStatus struct {
	On   bool        `json:"on"`
	Mode ControlMode `json:"mode"`
}

// TargetStatus is the active control envelope in presentation form.
type TargetStatus struct {
	TempF          float64 `json:"temp_f"`
	DewPointF      float64 `json:"dew_point_f"`
	DewPointTolF   float64 `json:"dew_point_tolerance_f"`
	HumidityMin    float64 `json:"humidity_min"`
	HumidityMax    float64 `json:"humidity_max"`
	VPDMin         float64 `json:"vpd_min"`
	VPDMax         float64 `json:"vpd_max"`
	VPDTarget      float64 `json:"vpd_target"`
	HumidityTarget float64 `json:"humidity_target"`
}

// Status is the read path for operators and telemetry: a self-contained
// copy, safe to hold after the call returns. Phase and schedule fields
// are meaningful only while a run exists, whether active, held or
// frozen by an emergency stop.
type Status struct {
	Active           bool   `json:"active"`
	Held             bool   `json:"held"`
	EmergencyStopped bool   `json:"emergency_stopped"`
	Degraded         bool   `json:"degraded"`
	RunToken         string `json:"run_token,omitempty"`
	Profile          string `json:"profile,omitempty"`

	Phase        profile.Phase `json:"phase"`
	Progress     float64       `json:"progress"`
	ProcessStart time.Time     `json:"process_start"`
	PhaseStart   time.Time     `json:"phase_start"`

	Cycle       int64            `json:"cycle"`
	LastCycleAt time.Time        `json:"last_cycle_at"`
	Disturbance DisturbanceLevel `json:"disturbance"`
	Conditions  Conditions       `json:"conditions"`
	Targets     TargetStatus     `json:"targets"`

	Equipment        map[string]EquipmentStatus `json:"equipment"`
	ClimateSetpointF float64                    `json:"climate_setpoint_f"`
	HumidifierDuty   float64                    `json:"humidifier_duty"`
}

// Status returns a deep copy of the controller's current view. Callable
// from any goroutine; never hands out live references.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// statusLocked builds the status copy. Caller holds c.mu.
func (c *Controller) statusLocked() Status {
	st := Status{
		Active:           c.run.Active,
		Held:             c.run.Held,
		EmergencyStopped: c.estopped.Load(),
		Degraded:         c.degraded,
		RunToken:         c.run.Token,
		Profile:          c.run.ProfileName,
		Phase:            c.run.Phase,
		ProcessStart:     c.run.ProcessStart,
		PhaseStart:       c.run.PhaseStart,
		Cycle:            c.clock.Current(),
		LastCycleAt:      c.lastCycleAt,
		Disturbance:      c.lastLevel,
		Conditions:       c.lastCond,
		Targets:          targetStatus(c.lastTargets),
		ClimateSetpointF: c.sentClimateF,
		HumidifierDuty:   c.eng.duty,
	}
	if !c.run.ProcessStart.IsZero() {
		st.Progress = c.prof.Progress(c.run.Phase, c.run.PhaseStart, c.now())
	}
	states := c.rec.States()
	eq := make(map[string]EquipmentStatus, hardware.NumEquipment)
	for _, id := range hardware.AllEquipment() {
		eq[id.String()] = EquipmentStatus{On: states[id], Mode: c.modes[id]}
	}
	st.Equipment = eq
	return st
}

func targetStatus(t profile.Targets) TargetStatus {
	return TargetStatus{
		TempF:          t.Setpoints.TempF,
		DewPointF:      t.Setpoints.DewPointF,
		DewPointTolF:   t.Setpoints.DewPointToleranceF,
		HumidityMin:    t.Setpoints.HumidityMin,
		HumidityMax:    t.Setpoints.HumidityMax,
		VPDMin:         t.Setpoints.VPDMin,
		VPDMax:         t.Setpoints.VPDMax,
		VPDTarget:      t.VPDTarget,
		HumidityTarget: t.HumidityTarget,
	}
}
