// Package sim runs the real controller against a synthetic chamber: a
// lumped thermal and moisture model standing in for the relay board,
// the mini-split bridge and the probes. Scenarios written in YAML drive
// deterministic multi-cycle runs whose traces can be asserted on
// directly or compared against golden files.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
)

// Model rates, per simulated minute. The integrator sub-steps long
// intervals so an accelerated clock cannot overshoot the physics.
const (
	climatePullFPerMin = 0.5   // mini-split authority toward its setpoint
	ambientLeakPerMin  = 0.004 // envelope leakage, fraction of the gap
	exchangeMixPerMin  = 0.02  // added fraction while the exchanger runs
	doorMixPerMin      = 0.2   // added fraction while the door stands open
	dehumidifyPerMin   = 0.72  // %RH removed by the dehumidifier
	humidifyPerMin     = 0.9   // %RH added while the solenoid is open

	integrateSubStep = 10 * time.Second

	rhFloor, rhCeil     = 5.0, 99.0
	tempFloor, tempCeil = 35.0, 110.0
)

// Chamber is the synthetic plant. It implements hardware.Port,
// hardware.Climate and hardware.SensorSource, so the controller drives
// it exactly as it would the real board. All mutation is locked; the
// controller and the scenario loop share it.
type Chamber struct {
	mu  sync.Mutex
	now func() time.Time

	tempF float64
	rh    float64

	ambientTempF float64
	ambientRH    float64

	outputs   hardware.States
	climateF  float64
	doorOpen  bool
	probesOut bool
	probes    []string
}

// Initial seeds the model. Ambient values default to the interior
// values when zero, which makes the envelope inert.
type Initial struct {
	TempF           float64 `yaml:"temp_f"`
	Humidity        float64 `yaml:"humidity"`
	AmbientTempF    float64 `yaml:"ambient_temp_f,omitempty"`
	AmbientHumidity float64 `yaml:"ambient_humidity,omitempty"`
}

// NewChamber builds the model at the given initial conditions. now
// supplies probe timestamps, normally a FakeClock's Now.
func NewChamber(now func() time.Time, init Initial) *Chamber {
	c := &Chamber{
		now:          now,
		tempF:        init.TempF,
		rh:           init.Humidity,
		ambientTempF: init.AmbientTempF,
		ambientRH:    init.AmbientHumidity,
		probes:       []string{"sim-top", "sim-bottom"},
	}
	if c.ambientTempF == 0 {
		c.ambientTempF = init.TempF
	}
	if c.ambientRH == 0 {
		c.ambientRH = init.Humidity
	}
	return c
}

// SetOutput implements hardware.Port. Simulated relays never fail.
func (c *Chamber) SetOutput(_ context.Context, id hardware.EquipmentID, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[id] = on
	return nil
}

// ReadOutput implements hardware.Port.
func (c *Chamber) ReadOutput(_ context.Context, id hardware.EquipmentID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputs[id], nil
}

// SetTemperatureTarget implements hardware.Climate.
func (c *Chamber) SetTemperatureTarget(_ context.Context, fahrenheit float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.climateF = fahrenheit
	return nil
}

// Probes implements hardware.SensorSource.
func (c *Chamber) Probes() []string {
	out := make([]string, len(c.probes))
	copy(out, c.probes)
	return out
}

// Read implements hardware.SensorSource. Both probes see the lumped
// interior state; a probes_fail injection makes every read fail until
// probes_recover.
func (c *Chamber) Read(_ context.Context, probe string) (hardware.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probesOut {
		return hardware.Reading{}, fmt.Errorf("%w: %s: bus fault injected", hardware.ErrSensor, probe)
	}
	return hardware.Reading{
		ProbeID:      probe,
		TemperatureF: c.tempF,
		Humidity:     c.rh,
		At:           c.now(),
	}, nil
}

// Step advances the model by d, integrating in sub-steps so rates stay
// stable under accelerated clocks.
func (c *Chamber) Step(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d > 0 {
		dt := integrateSubStep
		if d < dt {
			dt = d
		}
		c.integrate(dt.Minutes())
		d -= dt
	}
}

// integrate applies one sub-step of the plant model. Caller holds c.mu.
func (c *Chamber) integrate(minutes float64) {
	if c.outputs[hardware.ClimateUnit] && c.climateF != 0 {
		c.tempF = moveToward(c.tempF, c.climateF, climatePullFPerMin*minutes)
	}

	mix := ambientLeakPerMin
	if c.outputs[hardware.FreshAirExchanger] {
		mix += exchangeMixPerMin
	}
	if c.doorOpen {
		mix += doorMixPerMin
	}
	f := mix * minutes
	if f > 1 {
		f = 1
	}
	c.tempF += (c.ambientTempF - c.tempF) * f
	c.rh += (c.ambientRH - c.rh) * f

	if c.outputs[hardware.Dehumidifier] {
		c.rh -= dehumidifyPerMin * minutes
	}
	if c.outputs[hardware.HumidifierSolenoid] {
		c.rh += humidifyPerMin * minutes
	}

	c.rh = clampRange(c.rh, rhFloor, rhCeil)
	c.tempF = clampRange(c.tempF, tempFloor, tempCeil)
}

// OpenDoor exposes the interior to ambient at the door mixing rate.
func (c *Chamber) OpenDoor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doorOpen = true
}

// CloseDoor reseals the chamber.
func (c *Chamber) CloseDoor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doorOpen = false
}

// FailProbes makes every probe read fail until RecoverProbes.
func (c *Chamber) FailProbes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probesOut = true
}

// RecoverProbes restores probe reads.
func (c *Chamber) RecoverProbes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probesOut = false
}

// SetAmbient repositions the outdoor conditions mid-scenario.
func (c *Chamber) SetAmbient(tempF, rh float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ambientTempF = tempF
	c.ambientRH = rh
}

// Conditions returns the current interior state, for assertions.
func (c *Chamber) Conditions() (tempF, rh float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempF, c.rh
}

func moveToward(cur, target, step float64) float64 {
	switch {
	case cur < target:
		cur += step
		if cur > target {
			cur = target
		}
	case cur > target:
		cur -= step
		if cur < target {
			cur = target
		}
	}
	return cur
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
