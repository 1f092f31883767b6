// Package hardware defines the physical boundary of the control core: the
// closed equipment enumeration, the narrow ports the core drives (relay
// outputs, climate setpoint, probe readings), the gobot-backed Raspberry Pi
// implementations of those ports, and the Reconciler that keeps the software
// mirror and the electrical reality in agreement.
//
// The control core never sees pin numbers, I2C addresses or relay polarity;
// those live entirely in this package's configuration.
package hardware

import (
	"encoding/json"
	"fmt"
)

// EquipmentID enumerates every actuator the chamber has. The set is closed:
// unknown names are rejected at parse time, and all per-equipment state lives
// in fixed-size arrays indexed by EquipmentID.
type EquipmentID int

const (
	Dehumidifier EquipmentID = iota
	HumidifierSolenoid
	HumidifierFan
	FreshAirExchanger
	SupplyFan
	ReturnFan
	ClimateUnit

	NumEquipment int = iota
)

var equipmentNames = [NumEquipment]string{
	Dehumidifier:       "dehumidifier",
	HumidifierSolenoid: "humidifier_solenoid",
	HumidifierFan:      "humidifier_fan",
	FreshAirExchanger:  "fresh_air_exchanger",
	SupplyFan:          "supply_fan",
	ReturnFan:          "return_fan",
	ClimateUnit:        "climate_unit",
}

// String returns the canonical snake_case name used in config, snapshots,
// telemetry and the history log.
func (id EquipmentID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("equipment(%d)", int(id))
	}
	return equipmentNames[id]
}

// Valid reports whether id is inside the closed set.
func (id EquipmentID) Valid() bool {
	return id >= 0 && int(id) < NumEquipment
}

// ParseEquipmentID maps a canonical name back to its EquipmentID.
func ParseEquipmentID(s string) (EquipmentID, error) {
	for i, name := range equipmentNames {
		if s == name {
			return EquipmentID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown equipment %q", s)
}

// AllEquipment returns every EquipmentID in declaration order.
func AllEquipment() [NumEquipment]EquipmentID {
	var ids [NumEquipment]EquipmentID
	for i := range ids {
		ids[i] = EquipmentID(i)
	}
	return ids
}

// MarshalJSON encodes the ID as its canonical name.
func (id EquipmentID) MarshalJSON() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid equipment id %d", int(id))
	}
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a canonical equipment name.
func (id *EquipmentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEquipmentID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// States holds one on/off bit per actuator, indexed by EquipmentID.
// The zero value is everything off, which is also the safe state.
type States [NumEquipment]bool

// ToMap renders the states as a name->"on"/"off" map for snapshots and
// telemetry, where a self-describing form beats positional encoding.
func (s States) ToMap() map[string]string {
	m := make(map[string]string, NumEquipment)
	for i, on := range s {
		v := "off"
		if on {
			v = "on"
		}
		m[equipmentNames[i]] = v
	}
	return m
}

// StatesFromMap parses the map form back into States. Unknown equipment
// names and values other than on/off are rejected; missing equipment
// defaults to off, so snapshots survive the enum growing a new actuator.
func StatesFromMap(m map[string]string) (States, error) {
	var s States
	for name, v := range m {
		id, err := ParseEquipmentID(name)
		if err != nil {
			return States{}, err
		}
		switch v {
		case "on":
			s[id] = true
		case "off":
			s[id] = false
		default:
			return States{}, fmt.Errorf("equipment %s: invalid state %q", name, v)
		}
	}
	return s, nil
}
