package profile

import (
	"encoding/json"
	"fmt"
)

// Phase identifies one stage of the drying/curing schedule.
//
// Phases form a closed, ordered set and are traversed strictly forward. The
// only permitted shortcuts are the water-activity early exit (DryFinal or Cure
// straight to Storage) and explicit operator stop/restart. Complete is reached
// only when a profile defines a finite Storage duration, which the default
// recipe does not.
type Phase int

const (
	DryInitial Phase = iota
	DryMid
	DryFinal
	Cure
	Storage
	Complete
)

var phaseNames = [...]string{
	DryInitial: "dry_initial",
	DryMid:     "dry_mid",
	DryFinal:   "dry_final",
	Cure:       "cure",
	Storage:    "storage",
	Complete:   "complete",
}

// String returns the canonical snake_case name used in recipes, snapshots and
// telemetry.
func (p Phase) String() string {
	if p < DryInitial || p > Complete {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase maps a canonical phase name back to its Phase. Unknown names are
// rejected at the boundary rather than defaulting.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if s == name {
			return Phase(p), nil
		}
	}
	return DryInitial, fmt.Errorf("unknown phase %q", s)
}

// Next returns the following phase in canonical order. ok is false for
// Complete, which is terminal.
func (p Phase) Next() (Phase, bool) {
	if p >= Complete {
		return Complete, false
	}
	return p + 1, true
}

// Before reports whether p precedes other in canonical order.
func (p Phase) Before(other Phase) bool { return p < other }

// IsDrying reports whether the phase is one of the four active drying/curing
// stages, as opposed to Storage maintenance or Complete.
func (p Phase) IsDrying() bool { return p >= DryInitial && p <= Cure }

// MarshalJSON encodes the phase as its canonical name.
func (p Phase) MarshalJSON() ([]byte, error) {
	if p < DryInitial || p > Complete {
		return nil, fmt.Errorf("cannot marshal invalid phase %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a canonical phase name.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
