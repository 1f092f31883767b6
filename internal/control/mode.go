package control

import (
	"encoding/json"
	"fmt"
)

// ControlMode is the operator's per-equipment authority switch. In Auto the
// decision engine owns the actuator; in ForcedOn/ForcedOff the forced value
// is authoritative until the mode reverts to Auto. Only an emergency stop
// overrides a forced mode.
type ControlMode int

const (
	Auto ControlMode = iota
	ForcedOn
	ForcedOff

	numControlModes int = iota
)

var controlModeNames = [numControlModes]string{
	Auto:      "auto",
	ForcedOn:  "forced_on",
	ForcedOff: "forced_off",
}

// String returns the canonical snake_case name used in telemetry and
// operator commands.
func (m ControlMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return controlModeNames[m]
}

// Valid reports whether m is inside the closed set.
func (m ControlMode) Valid() bool {
	return m >= 0 && int(m) < numControlModes
}

// ParseControlMode maps a canonical name back to its ControlMode.
func ParseControlMode(s string) (ControlMode, error) {
	for i, name := range controlModeNames {
		if s == name {
			return ControlMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown control mode %q", s)
}

// MarshalJSON encodes the mode as its canonical name.
func (m ControlMode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid control mode %d", int(m))
	}
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a canonical mode name.
func (m *ControlMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseControlMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
