// Package config loads the deployment-specific site configuration: file
// locations, loop cadence, safety bounds, hardware wiring and the MQTT
// bridge. Everything here is about one particular chamber installation;
// control behavior constants (dwell times, duty periods, damping factors)
// are part of the control design and live with the code that uses them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drydenhq/dryden/internal/hardware"
)

// Config is the top-level site configuration. A missing file means
// DefaultConfig; a present file overrides field by field.
type Config struct {
	// SnapshotPath is the crash-safe process snapshot file.
	SnapshotPath string `yaml:"snapshot_path"`
	// HistoryDB is the SQLite history database.
	HistoryDB string `yaml:"history_db"`
	// RecipePath points at the CUE recipe; empty selects the embedded
	// reference recipe.
	RecipePath string `yaml:"recipe_path"`

	Control  Control  `yaml:"control"`
	Safety   Safety   `yaml:"safety"`
	Hardware Hardware `yaml:"hardware"`
	MQTT     MQTT     `yaml:"mqtt"`
}

// Control is loop timing.
type Control struct {
	CycleSeconds        int `yaml:"cycle_seconds"`
	SyncMinutes         int `yaml:"sync_minutes"`
	SensorTimeoutMillis int `yaml:"sensor_timeout_ms"`
	StalenessSeconds    int `yaml:"staleness_seconds"`

	// Storage-phase ventilation: brief fresh-air pulses during the
	// otherwise exchanger-off maintenance mode. VentEveryHours zero
	// disables them.
	VentEveryHours   int `yaml:"vent_every_hours"`
	VentPulseMinutes int `yaml:"vent_pulse_minutes"`
}

func (c Control) CycleInterval() time.Duration { return time.Duration(c.CycleSeconds) * time.Second }
func (c Control) SyncInterval() time.Duration  { return time.Duration(c.SyncMinutes) * time.Minute }
func (c Control) SensorTimeout() time.Duration {
	return time.Duration(c.SensorTimeoutMillis) * time.Millisecond
}
func (c Control) StalenessLimit() time.Duration {
	return time.Duration(c.StalenessSeconds) * time.Second
}
func (c Control) VentEvery() time.Duration { return time.Duration(c.VentEveryHours) * time.Hour }
func (c Control) VentPulse() time.Duration {
	return time.Duration(c.VentPulseMinutes) * time.Minute
}

// Safety is the emergency envelope. A reading outside it takes the same
// path as an operator emergency stop.
type Safety struct {
	TempMinF    float64 `yaml:"temp_min_f"`
	TempMaxF    float64 `yaml:"temp_max_f"`
	HumidityMin float64 `yaml:"humidity_min"`
	HumidityMax float64 `yaml:"humidity_max"`
}

// Hardware is the wiring: relay pins (physical header numbering), I2C
// probes, and the optional climate bridge topic.
type Hardware struct {
	Pins   map[string]string `yaml:"pins"`
	Probes []Probe           `yaml:"probes"`

	// ClimateTopic, when set, routes the rate-limited temperature target
	// to an MQTT-attached IR bridge in front of the heat-pump unit.
	// Empty means the unit holds its own panel setpoint and the daemon
	// only logs what it wants.
	ClimateTopic string `yaml:"climate_topic"`
}

// Probe is one SHT3x placement.
type Probe struct {
	ID      string `yaml:"id"`
	Bus     int    `yaml:"bus"`
	Address int    `yaml:"address"`
}

// MQTT is the telemetry/operator bridge. Disabled when BrokerURL is empty.
type MQTT struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DefaultConfig matches the reference chamber: 10 s cycles, 5 min drift
// sync, two probes, six-channel relay board, local state under ./data.
func DefaultConfig() Config {
	pins := make(map[string]string)
	for id, pin := range hardware.DefaultPinMap() {
		pins[id.String()] = pin
	}
	var probes []Probe
	for _, p := range hardware.DefaultProbes() {
		probes = append(probes, Probe{ID: p.ID, Bus: p.Bus, Address: p.Address})
	}
	return Config{
		SnapshotPath: "data/state.json",
		HistoryDB:    "data/history.db",
		Control: Control{
			CycleSeconds:        10,
			SyncMinutes:         5,
			SensorTimeoutMillis: 2000,
			StalenessSeconds:    120,
			VentEveryHours:      6,
			VentPulseMinutes:    15,
		},
		Safety: Safety{
			TempMinF:    60,
			TempMaxF:    75,
			HumidityMin: 40,
			HumidityMax: 70,
		},
		Hardware: Hardware{Pins: pins, Probes: probes},
		MQTT: MQTT{
			ClientID:    "dryden",
			TopicPrefix: "dryden",
		},
	}
}

// Load reads path over DefaultConfig. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run under.
func (c Config) Validate() error {
	if c.Control.CycleSeconds < 1 {
		return fmt.Errorf("control.cycle_seconds must be >= 1, got %d", c.Control.CycleSeconds)
	}
	if c.Control.SyncMinutes < 1 {
		return fmt.Errorf("control.sync_minutes must be >= 1, got %d", c.Control.SyncMinutes)
	}
	if c.Control.SensorTimeoutMillis < 100 {
		return fmt.Errorf("control.sensor_timeout_ms must be >= 100, got %d", c.Control.SensorTimeoutMillis)
	}
	if c.Control.StalenessSeconds < c.Control.CycleSeconds {
		return fmt.Errorf("control.staleness_seconds (%d) must cover at least one cycle (%d s)",
			c.Control.StalenessSeconds, c.Control.CycleSeconds)
	}
	if c.Safety.TempMinF >= c.Safety.TempMaxF {
		return fmt.Errorf("safety temperature bounds inverted (%.1f >= %.1f)",
			c.Safety.TempMinF, c.Safety.TempMaxF)
	}
	if c.Safety.HumidityMin >= c.Safety.HumidityMax {
		return fmt.Errorf("safety humidity bounds inverted (%.1f >= %.1f)",
			c.Safety.HumidityMin, c.Safety.HumidityMax)
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("snapshot_path is required")
	}
	if c.HistoryDB == "" {
		return fmt.Errorf("history_db is required")
	}
	if _, err := c.PinMap(); err != nil {
		return err
	}
	if c.Hardware.ClimateTopic != "" && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("hardware.climate_topic requires mqtt.broker_url")
	}
	return nil
}

// PinMap converts the named pin table to the hardware form, rejecting
// unknown equipment names at the boundary.
func (c Config) PinMap() (hardware.PinMap, error) {
	pins := make(hardware.PinMap, len(c.Hardware.Pins))
	for name, pin := range c.Hardware.Pins {
		id, err := hardware.ParseEquipmentID(name)
		if err != nil {
			return nil, fmt.Errorf("hardware.pins: %w", err)
		}
		pins[id] = pin
	}
	return pins, nil
}

// ProbeConfigs converts the probe table to the hardware form.
func (c Config) ProbeConfigs() []hardware.ProbeConfig {
	out := make([]hardware.ProbeConfig, 0, len(c.Hardware.Probes))
	for _, p := range c.Hardware.Probes {
		out = append(out, hardware.ProbeConfig{ID: p.ID, Bus: p.Bus, Address: p.Address})
	}
	return out
}
