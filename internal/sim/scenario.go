package sim

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

// Scenario is one deterministic chamber run: initial conditions, a
// cycle count, mid-run injections and the expectations that make it a
// test.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`

	// Recipe is a CUE recipe path, resolved relative to the scenario
	// file. Empty selects the embedded reference recipe.
	Recipe string `yaml:"recipe,omitempty"`

	// Cycles is how many control cycles to run.
	Cycles int `yaml:"cycles"`

	// CycleSeconds overrides the loop cadence; zero keeps the site
	// default.
	CycleSeconds int `yaml:"cycle_seconds,omitempty"`

	// Initial seeds the chamber model.
	Initial Initial `yaml:"initial"`

	// Inject lists mid-run events, applied before the named cycle runs.
	Inject []Injection `yaml:"inject,omitempty"`

	// Expect lists the clauses checked against the recorded trace.
	Expect []Expectation `yaml:"expect"`
}

// Injection is one scripted disturbance.
type Injection struct {
	// AtCycle is the 1-based cycle the injection precedes.
	AtCycle int `yaml:"at_cycle"`

	// Action is one of door_open, door_close, probes_fail,
	// probes_recover, set_ambient.
	Action string `yaml:"action"`

	// TempF and Humidity parameterize set_ambient.
	TempF    float64 `yaml:"temp_f,omitempty"`
	Humidity float64 `yaml:"humidity,omitempty"`
}

// Expectation is one checked clause.
type Expectation struct {
	// Type is one of phase_at, equipment_at, disturbance_at,
	// alert_raised, no_alerts.
	Type string `yaml:"type"`

	// AtCycle anchors the _at clauses (1-based).
	AtCycle int `yaml:"at_cycle,omitempty"`

	// Phase names the expected phase for phase_at.
	Phase string `yaml:"phase,omitempty"`

	// Equipment and State parameterize equipment_at; State is "on" or
	// "off".
	Equipment string `yaml:"equipment,omitempty"`
	State     string `yaml:"state,omitempty"`

	// Level names the expected classification for disturbance_at.
	Level string `yaml:"level,omitempty"`

	// Code names the alert for alert_raised.
	Code string `yaml:"code,omitempty"`
}

// Expectation type constants.
const (
	ExpectPhaseAt       = "phase_at"
	ExpectEquipmentAt   = "equipment_at"
	ExpectDisturbanceAt = "disturbance_at"
	ExpectAlertRaised   = "alert_raised"
	ExpectNoAlerts      = "no_alerts"
)

// Injection action constants.
const (
	InjectDoorOpen      = "door_open"
	InjectDoorClose     = "door_close"
	InjectProbesFail    = "probes_fail"
	InjectProbesRecover = "probes_recover"
	InjectSetAmbient    = "set_ambient"
)

// LoadScenario reads and validates a scenario file. Unknown YAML fields
// are rejected so a typoed clause fails loudly instead of silently not
// asserting. A relative recipe path is resolved against the scenario
// file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Recipe != "" && !filepath.IsAbs(s.Recipe) {
		s.Recipe = filepath.Join(filepath.Dir(path), s.Recipe)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Cycles < 1 {
		return fmt.Errorf("cycles must be >= 1, got %d", s.Cycles)
	}
	if s.CycleSeconds < 0 {
		return fmt.Errorf("cycle_seconds must be >= 0, got %d", s.CycleSeconds)
	}
	if s.Initial.TempF == 0 || s.Initial.Humidity == 0 {
		return fmt.Errorf("initial temp_f and humidity are required")
	}
	if s.Recipe != "" {
		if _, err := os.Stat(s.Recipe); err != nil {
			return fmt.Errorf("recipe not found: %s", s.Recipe)
		}
	}
	for i, inj := range s.Inject {
		if err := validateInjection(&inj, s.Cycles); err != nil {
			return fmt.Errorf("inject[%d]: %w", i, err)
		}
	}
	if len(s.Expect) == 0 {
		return fmt.Errorf("expect list is required and must be non-empty")
	}
	for i, e := range s.Expect {
		if err := validateExpectation(&e, s.Cycles); err != nil {
			return fmt.Errorf("expect[%d]: %w", i, err)
		}
	}
	return nil
}

func validateInjection(inj *Injection, cycles int) error {
	if inj.AtCycle < 1 || inj.AtCycle > cycles {
		return fmt.Errorf("at_cycle %d outside run of %d cycles", inj.AtCycle, cycles)
	}
	switch inj.Action {
	case InjectDoorOpen, InjectDoorClose, InjectProbesFail, InjectProbesRecover:
		return nil
	case InjectSetAmbient:
		if inj.TempF == 0 || inj.Humidity == 0 {
			return fmt.Errorf("set_ambient needs temp_f and humidity")
		}
		return nil
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", inj.Action)
	}
}

func validateExpectation(e *Expectation, cycles int) error {
	needCycle := func() error {
		if e.AtCycle < 1 || e.AtCycle > cycles {
			return fmt.Errorf("at_cycle %d outside run of %d cycles", e.AtCycle, cycles)
		}
		return nil
	}
	switch e.Type {
	case ExpectPhaseAt:
		if err := needCycle(); err != nil {
			return err
		}
		if _, err := profile.ParsePhase(e.Phase); err != nil {
			return err
		}
	case ExpectEquipmentAt:
		if err := needCycle(); err != nil {
			return err
		}
		if _, err := hardware.ParseEquipmentID(e.Equipment); err != nil {
			return err
		}
		if e.State != "on" && e.State != "off" {
			return fmt.Errorf(`state must be "on" or "off", got %q`, e.State)
		}
	case ExpectDisturbanceAt:
		if err := needCycle(); err != nil {
			return err
		}
		if e.Level == "" {
			return fmt.Errorf("level is required for disturbance_at")
		}
	case ExpectAlertRaised:
		if e.Code == "" {
			return fmt.Errorf("code is required for alert_raised")
		}
	case ExpectNoAlerts:
		// No parameters.
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown expectation type %q", e.Type)
	}
	return nil
}
