// Package profile defines the compiled environmental recipe: the ordered phase
// list with per-phase setpoint bounds, and the pure schedule math that turns
// (recipe, start time, now) into the effective control targets.
//
// Recipes are authored in CUE and compiled by this package (see compile.go).
// A compiled Profile is immutable; the controller holds one for the lifetime
// of a run. Identity across restarts is tracked by a content-addressed
// fingerprint (see canonical.go), so a resume against an edited recipe can be
// detected and surfaced.
package profile

import (
	"fmt"
	"time"
)

// Setpoints is the static per-phase control envelope.
//
// Temperature and dew point are single targets with a symmetric tolerance.
// Humidity and VPD are windows; the moving target inside each window is
// derived by the schedule (see Targets).
type Setpoints struct {
	TempF              float64
	TempToleranceF     float64
	DewPointF          float64
	DewPointToleranceF float64
	HumidityMin        float64
	HumidityMax        float64
	VPDMin             float64
	VPDMax             float64
}

// PhaseSpec binds a phase to its setpoints and nominal duration.
// Duration zero means indefinite and is only valid for Storage.
type PhaseSpec struct {
	Phase     Phase
	Duration  time.Duration
	Setpoints Setpoints
}

// Profile is a compiled recipe.
type Profile struct {
	Name string

	// WaterActivityTarget is the estimated-aW threshold for the early exit
	// from DryFinal/Cure to Storage. The estimate is a heuristic; the
	// threshold gates only that shortcut, never safety logic.
	WaterActivityTarget float64

	// TransitionWindow is the linear cross-fade applied after each phase
	// boundary so setpoints never step discontinuously.
	TransitionWindow time.Duration

	// Phases in canonical order. Validated at compile time: at least one
	// entry, strictly forward, windows non-inverted, only Storage indefinite.
	Phases []PhaseSpec
}

// Spec returns the PhaseSpec for the given phase.
func (pr *Profile) Spec(p Phase) (PhaseSpec, bool) {
	for _, ps := range pr.Phases {
		if ps.Phase == p {
			return ps, true
		}
	}
	return PhaseSpec{}, false
}

// First returns the opening phase of the profile.
func (pr *Profile) First() Phase {
	return pr.Phases[0].Phase
}

// validate enforces the structural invariants the CUE schema cannot express
// on its own. Called by the compiler; collect reports every violation when
// true, otherwise the first.
func (pr *Profile) validate(collect bool) []error {
	var errs []error
	fail := func(format string, args ...any) bool {
		errs = append(errs, fmt.Errorf(format, args...))
		return !collect
	}

	if len(pr.Phases) == 0 {
		fail("recipe defines no phases")
		return errs
	}
	if pr.WaterActivityTarget < 0.30 || pr.WaterActivityTarget > 1.0 {
		if fail("water_activity_target %.3f outside [0.30, 1.0]", pr.WaterActivityTarget) {
			return errs
		}
	}
	if pr.TransitionWindow < 0 {
		if fail("transition window must not be negative") {
			return errs
		}
	}

	prev := Phase(-1)
	for i, ps := range pr.Phases {
		if ps.Phase <= prev {
			if fail("phases[%d] %s out of order (must be strictly forward)", i, ps.Phase) {
				return errs
			}
		}
		prev = ps.Phase
		if ps.Duration < 0 {
			if fail("phases[%d] %s: negative duration", i, ps.Phase) {
				return errs
			}
		}
		if ps.Duration == 0 && ps.Phase != Storage {
			if fail("phases[%d] %s: only storage may be indefinite", i, ps.Phase) {
				return errs
			}
		}
		sp := ps.Setpoints
		if sp.HumidityMin >= sp.HumidityMax {
			if fail("phases[%d] %s: humidity window inverted (%.1f >= %.1f)", i, ps.Phase, sp.HumidityMin, sp.HumidityMax) {
				return errs
			}
		}
		if sp.VPDMin >= sp.VPDMax {
			if fail("phases[%d] %s: vpd window inverted (%.2f >= %.2f)", i, ps.Phase, sp.VPDMin, sp.VPDMax) {
				return errs
			}
		}
		if sp.TempToleranceF <= 0 || sp.DewPointToleranceF <= 0 {
			if fail("phases[%d] %s: tolerances must be positive", i, ps.Phase) {
				return errs
			}
		}
	}
	return errs
}
