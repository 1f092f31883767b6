package control

import (
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

// Decision-engine tuning. These reflect the chamber's electromechanical
// constraints rather than anything recipe-specific, so they are compile
// time constants, not site config.
const (
	// dehumMinOff is the compressor short-cycle guard: once the engine
	// turns the dehumidifier off it stays off at least this long. Only
	// an emergency stop is exempt, and that only ever forces off.
	dehumMinOff = 300 * time.Second

	// humidModulation is the fixed period the humidifier solenoid duty
	// is realized over: the solenoid pulses on for duty percent of each
	// period.
	humidModulation = 30 * time.Second

	// humidDutySpanKPa maps VPD excess onto duty: 100% duty at
	// VPDMax + 0.2 kPa.
	humidDutySpanKPa = 0.2

	// trimHumidDuty is the low duty used for in-window dew point trim.
	trimHumidDuty = 25.0

	// Storage maintenance guard rails and cycling half-periods.
	storageDehumRH   = 65.0
	storageHumidRH   = 55.0
	storageHumidHalf = 60 * time.Second
	storageFanHalf   = 5 * time.Minute

	// climateMaxStepF bounds climate setpoint movement per cycle.
	climateMaxStepF = 2.0
)

// evalInput is one cycle's view of the world as the decision engine
// needs it.
type evalInput struct {
	Now        time.Time
	PhaseStart time.Time
	Targets    profile.Targets
	Cond       Conditions
	Level      DisturbanceLevel

	// ClimateF is the last climate target confirmed by hardware, zero if
	// none has been commanded yet. Rate limiting anchors here so a
	// failed write cannot widen the next step.
	ClimateF float64
}

// plan is one cycle's desired actuator states plus the climate target.
// cause carries the reason for each state, recorded on the transition
// row when the state actually changes.
type plan struct {
	desired  hardware.States
	cause    [hardware.NumEquipment]string
	climateF float64
	duty     float64
}

func (p *plan) set(id hardware.EquipmentID, on bool, cause string) {
	p.desired[id] = on
	p.cause[id] = cause
}

// engine is the stateful half of the decision algorithm: the dwell
// timer, the duty modulation anchor and the last committed plan.
// Mutated only under the controller lock.
type engine struct {
	ventEvery time.Duration
	ventPulse time.Duration

	desired    hardware.States
	havePlan   bool
	duty       float64
	dutyAnchor time.Time
	dehumOffAt time.Time
}

func newEngine(ventEvery, ventPulse time.Duration) *engine {
	return &engine{ventEvery: ventEvery, ventPulse: ventPulse}
}

// reset clears per-run state when a run starts or is destroyed.
func (e *engine) reset() {
	e.desired = hardware.States{}
	e.havePlan = false
	e.duty = 0
	e.dutyAnchor = time.Time{}
	e.dehumOffAt = time.Time{}
}

// evaluate runs the decision priorities for one cycle of an active,
// un-held run. Forced modes, safety and the emergency path belong to the
// caller; evaluate only ever sees Auto-intent.
func (e *engine) evaluate(in evalInput) plan {
	if in.Level == Major && e.havePlan {
		// A major transient (door open, probe bumped) is not worth
		// chasing: hold the last commanded states and let it pass.
		return plan{desired: e.desired, climateF: in.ClimateF, duty: e.duty}
	}

	var p plan
	if in.Targets.Phase == profile.Storage {
		e.storage(&p, in)
	} else {
		e.activePhase(&p, in)
	}

	// The climate unit runs in every phase; only its setpoint moves,
	// bounded per cycle to avoid stressing the heat pump.
	p.set(hardware.ClimateUnit, true, "climate always on")
	p.climateF = stepToward(in.ClimateF, in.Targets.Setpoints.TempF,
		climateMaxStepF*in.Level.dampingFactor())

	p.duty = e.duty
	e.commit(in.Now, p)
	return p
}

// activePhase handles the drying and curing phases: chase the VPD window
// first, trim on dew point inside it.
func (e *engine) activePhase(p *plan, in evalInput) {
	sp := in.Targets.Setpoints

	// Continuous air movement during active phases is a process
	// requirement, not a control variable.
	p.set(hardware.SupplyFan, true, "active phase airflow")
	p.set(hardware.ReturnFan, true, "active phase airflow")
	p.set(hardware.FreshAirExchanger, true, "active phase airflow")

	damp := in.Level.dampingFactor()
	switch {
	case in.Cond.VPDkPa > sp.VPDMax:
		// Too dry: humidify in proportion to the excess and park the
		// dehumidifier behind its dwell.
		duty := clamp((in.Cond.VPDkPa-sp.VPDMax)/humidDutySpanKPa*100, 0, 100) * damp
		e.setDuty(duty, in.Now)
		e.requestDehum(p, in.Now, false, "vpd above window")
		e.pulse(p, in.Now, "vpd above window")
	case in.Cond.VPDkPa < sp.VPDMin:
		// Too wet: dehumidify, stop humidifying.
		e.setDuty(0, in.Now)
		e.requestDehum(p, in.Now, true, "vpd below window")
		e.pulse(p, in.Now, "vpd below window")
	default:
		e.trim(p, in)
	}
}

// trim fine-tunes inside the VPD window on dew point error. The
// dehumidifier is the chamber's default stabilizing actuator: it runs
// whenever the air is not too dry.
func (e *engine) trim(p *plan, in evalInput) {
	sp := in.Targets.Setpoints
	switch {
	case in.Cond.DewPointF > sp.DewPointF+sp.DewPointToleranceF:
		e.setDuty(0, in.Now)
		e.requestDehum(p, in.Now, true, "dew point above tolerance")
		e.pulse(p, in.Now, "dew point above tolerance")
	case in.Cond.DewPointF < sp.DewPointF-sp.DewPointToleranceF:
		e.setDuty(trimHumidDuty*in.Level.dampingFactor(), in.Now)
		e.requestDehum(p, in.Now, false, "dew point below tolerance")
		e.pulse(p, in.Now, "dew point below tolerance")
	default:
		e.setDuty(0, in.Now)
		e.requestDehum(p, in.Now, true, "holding in window")
		e.pulse(p, in.Now, "holding in window")
	}
}

// storage is the low-intervention maintenance mode: humidity guard rails
// instead of VPD chasing, half-duty air movement, exchanger off except
// the periodic ventilation pulse.
func (e *engine) storage(p *plan, in evalInput) {
	e.setDuty(0, in.Now)
	e.requestDehum(p, in.Now, in.Cond.Humidity > storageDehumRH, "storage humidity guard")

	// Fixed 60s-on/60s-off cycling below the low guard, independent of
	// VPD. Anchored at phase start so the rhythm survives restarts.
	humidOn := in.Cond.Humidity < storageHumidRH &&
		halfCycleOn(in.Now, in.PhaseStart, storageHumidHalf)
	p.set(hardware.HumidifierSolenoid, humidOn, "storage humidity cycling")
	p.set(hardware.HumidifierFan, humidOn, "storage humidity cycling")

	fansOn := halfCycleOn(in.Now, in.PhaseStart, storageFanHalf)
	p.set(hardware.SupplyFan, fansOn, "storage reduced airflow")
	p.set(hardware.ReturnFan, fansOn, "storage reduced airflow")

	p.set(hardware.FreshAirExchanger, e.ventOn(in.Now, in.PhaseStart), "storage ventilation")
}

// requestDehum steers the dehumidifier toward want, enforcing the
// minimum-off dwell on the off-to-on edge. The dwell anchors when the
// engine turns the unit off, not when hardware confirms, so a failed
// relay write cannot shorten it.
func (e *engine) requestDehum(p *plan, now time.Time, want bool, cause string) {
	if want && !e.desired[hardware.Dehumidifier] &&
		!e.dehumOffAt.IsZero() && now.Sub(e.dehumOffAt) < dehumMinOff {
		p.set(hardware.Dehumidifier, false, "compressor dwell")
		return
	}
	p.set(hardware.Dehumidifier, want, cause)
}

// setDuty updates the modulation duty, anchoring a fresh period when
// humidification begins.
func (e *engine) setDuty(duty float64, now time.Time) {
	if duty > 0 && e.duty == 0 {
		e.dutyAnchor = now
	}
	e.duty = duty
}

// pulse realizes the current duty as an on/off pulse inside the fixed
// modulation period. The humidifier fan tracks the solenoid.
func (e *engine) pulse(p *plan, now time.Time, cause string) {
	on := false
	if e.duty > 0 {
		if e.dutyAnchor.IsZero() {
			e.dutyAnchor = now
		}
		offset := now.Sub(e.dutyAnchor) % humidModulation
		on = offset < time.Duration(e.duty/100*float64(humidModulation))
	}
	p.set(hardware.HumidifierSolenoid, on, cause)
	p.set(hardware.HumidifierFan, on, cause)
}

// ventOn reports whether the storage ventilation pulse is due: ventPulse
// minutes out of every ventEvery, starting one full interval into the
// phase.
func (e *engine) ventOn(now, phaseStart time.Time) bool {
	if e.ventEvery <= 0 || e.ventPulse <= 0 {
		return false
	}
	since := now.Sub(phaseStart)
	if since < e.ventEvery {
		return false
	}
	return since%e.ventEvery < e.ventPulse
}

// commit records the plan as the engine's last word and maintains the
// dwell anchor across the dehumidifier's edges.
func (e *engine) commit(now time.Time, p plan) {
	wasOn := e.desired[hardware.Dehumidifier]
	isOn := p.desired[hardware.Dehumidifier]
	switch {
	case e.havePlan && wasOn && !isOn:
		e.dehumOffAt = now
	case isOn:
		e.dehumOffAt = time.Time{}
	}
	e.desired = p.desired
	e.havePlan = true
}

// halfCycleOn alternates equal on/off windows of the given half-period,
// anchored at phase start so cycling is deterministic across restarts.
func halfCycleOn(now, phaseStart time.Time, half time.Duration) bool {
	since := now.Sub(phaseStart)
	if since < 0 {
		return false
	}
	return (since/half)%2 == 0
}

// stepToward moves cur toward want by at most step. Zero cur means
// nothing has been commanded yet; the first command jumps straight to
// want rather than ramping from an arbitrary origin.
func stepToward(cur, want, step float64) float64 {
	if cur == 0 {
		return want
	}
	diff := want - cur
	switch {
	case diff > step:
		return cur + step
	case diff < -step:
		return cur - step
	default:
		return want
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
