package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

func engineTargets() profile.Targets {
	return profile.Targets{
		Phase: profile.DryInitial,
		Setpoints: profile.Setpoints{
			TempF:              68,
			TempToleranceF:     1,
			DewPointF:          55,
			DewPointToleranceF: 1,
			HumidityMin:        55,
			HumidityMax:        65,
			VPDMin:             0.80,
			VPDMax:             0.95,
		},
	}
}

func storageTargets() profile.Targets {
	return profile.Targets{
		Phase: profile.Storage,
		Setpoints: profile.Setpoints{
			TempF:              65,
			TempToleranceF:     1,
			DewPointF:          52,
			DewPointToleranceF: 1,
			HumidityMin:        55,
			HumidityMax:        65,
			VPDMin:             0.65,
			VPDMax:             0.85,
		},
	}
}

// activeIn builds an active-phase cycle input at the given offset from
// testStart.
func activeIn(offset time.Duration, cond Conditions, level DisturbanceLevel, climateF float64) evalInput {
	return evalInput{
		Now:        testStart.Add(offset),
		PhaseStart: testStart,
		Targets:    engineTargets(),
		Cond:       cond,
		Level:      level,
		ClimateF:   climateF,
	}
}

var (
	// tooDry sits 0.10 kPa above VPDMax, which maps to 50% duty.
	tooDry = Conditions{VPDkPa: 1.05, DewPointF: 53}
	// tooWet sits below VPDMin.
	tooWet = Conditions{VPDkPa: 0.70, DewPointF: 57}
	// inWindow is inside both the VPD window and the dew point tolerance.
	inWindow = Conditions{VPDkPa: 0.85, DewPointF: 55.3}
)

func TestEvaluate_TooDryHumidifiesProportionally(t *testing.T) {
	e := newEngine(0, 0)

	p := e.evaluate(activeIn(0, tooDry, Stable, 68))

	assert.InDelta(t, 50.0, p.duty, 1e-9, "0.10 kPa over the window is half duty")
	assert.True(t, p.desired[hardware.HumidifierSolenoid], "pulse starts at the period anchor")
	assert.True(t, p.desired[hardware.HumidifierFan], "humidifier fan tracks the solenoid")
	assert.False(t, p.desired[hardware.Dehumidifier])
	assert.True(t, p.desired[hardware.SupplyFan])
	assert.True(t, p.desired[hardware.ReturnFan])
	assert.True(t, p.desired[hardware.FreshAirExchanger])
	assert.True(t, p.desired[hardware.ClimateUnit])
}

func TestEvaluate_PulseRealizesDutyAcrossPeriod(t *testing.T) {
	e := newEngine(0, 0)

	// 50% duty over the 30 s period: on for the first 15 s of each
	// period, off for the rest, anchored at the first nonzero duty.
	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{10 * time.Second, true},
		{16 * time.Second, false},
		{29 * time.Second, false},
		{31 * time.Second, true},
	}
	for _, tc := range steps {
		p := e.evaluate(activeIn(tc.at, tooDry, Stable, 68))
		assert.Equal(t, tc.want, p.desired[hardware.HumidifierSolenoid], "solenoid at t+%s", tc.at)
	}
}

func TestEvaluate_TooWetRunsDehumidifier(t *testing.T) {
	e := newEngine(0, 0)

	p := e.evaluate(activeIn(0, tooWet, Stable, 68))

	assert.True(t, p.desired[hardware.Dehumidifier])
	assert.False(t, p.desired[hardware.HumidifierSolenoid])
	assert.Zero(t, p.duty, "no humidification while too wet")
}

func TestEvaluate_DehumidifierMinimumOffDwell(t *testing.T) {
	e := newEngine(0, 0)
	on := func(offset time.Duration, cond Conditions) bool {
		return e.evaluate(activeIn(offset, cond, Stable, 68)).desired[hardware.Dehumidifier]
	}

	require.True(t, on(0, tooWet), "baseline: dehumidifier running")
	require.False(t, on(10*time.Second, tooDry), "engine turns it off; dwell starts here")

	// Conditions flip back immediately, but the compressor must rest a
	// full 300 s from the off edge.
	for _, dt := range []time.Duration{20 * time.Second, 150 * time.Second, 309 * time.Second} {
		assert.False(t, on(dt, tooWet), "t+%s is inside the dwell", dt)
	}
	assert.True(t, on(311*time.Second, tooWet), "dwell expired, restart allowed")
}

func TestEvaluate_DwellReportsItsOwnCause(t *testing.T) {
	e := newEngine(0, 0)

	e.evaluate(activeIn(0, tooWet, Stable, 68))
	e.evaluate(activeIn(10*time.Second, tooDry, Stable, 68))
	p := e.evaluate(activeIn(20*time.Second, tooWet, Stable, 68))

	assert.False(t, p.desired[hardware.Dehumidifier])
	assert.Equal(t, "compressor dwell", p.cause[hardware.Dehumidifier])
}

func TestEvaluate_TrimInsideWindow(t *testing.T) {
	cases := []struct {
		name     string
		cond     Conditions
		dehum    bool
		wantDuty float64
	}{
		{"dew above tolerance", Conditions{VPDkPa: 0.85, DewPointF: 56.5}, true, 0},
		{"dew below tolerance", Conditions{VPDkPa: 0.85, DewPointF: 53.5}, false, 25},
		{"dew in tolerance", inWindow, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(0, 0)
			p := e.evaluate(activeIn(0, tc.cond, Stable, 68))
			assert.Equal(t, tc.dehum, p.desired[hardware.Dehumidifier])
			assert.InDelta(t, tc.wantDuty, p.duty, 1e-9)
		})
	}
}

func TestEvaluate_MajorDisturbanceHoldsLastPlan(t *testing.T) {
	e := newEngine(0, 0)

	p1 := e.evaluate(activeIn(0, tooWet, Stable, 68))
	require.True(t, p1.desired[hardware.Dehumidifier])

	// The world looks wildly different mid-transient; chasing it would
	// just thrash equipment. The previous plan stands.
	p2 := e.evaluate(activeIn(10*time.Second, tooDry, Major, 68))

	assert.Equal(t, p1.desired, p2.desired)
	assert.Equal(t, p1.duty, p2.duty)
	assert.Equal(t, 68.0, p2.climateF, "climate target held too")
}

func TestEvaluate_MajorWithoutHistoryActsDamped(t *testing.T) {
	e := newEngine(0, 0)

	p := e.evaluate(activeIn(0, tooDry, Major, 68))

	assert.InDelta(t, 10.0, p.duty, 1e-9, "first plan under Major runs at 0.2 strength")
}

func TestEvaluate_ModerateDampsCriticalDoesNot(t *testing.T) {
	e := newEngine(0, 0)
	p := e.evaluate(activeIn(0, tooDry, Moderate, 68))
	assert.InDelta(t, 25.0, p.duty, 1e-9, "Moderate halves the response")

	e = newEngine(0, 0)
	p = e.evaluate(activeIn(0, tooDry, Critical, 68))
	assert.InDelta(t, 50.0, p.duty, 1e-9, "Critical responds at full strength")
}

func TestEvaluate_ClimateSetpointRateLimited(t *testing.T) {
	e := newEngine(0, 0)

	cases := []struct {
		sent float64
		want float64
	}{
		{0, 68},    // nothing commanded yet: jump straight to target
		{62, 64},   // 6 F away: move the 2 F cap
		{67.5, 68}, // inside the cap: land exactly
		{71, 69},   // above target: step down
	}
	for _, tc := range cases {
		p := e.evaluate(activeIn(0, inWindow, Stable, tc.sent))
		assert.InDelta(t, tc.want, p.climateF, 1e-9, "from %.1f", tc.sent)
	}

	// Damping slows the ramp as well.
	p := e.evaluate(activeIn(0, inWindow, Moderate, 62))
	assert.InDelta(t, 63.0, p.climateF, 1e-9, "Moderate halves the climate step")
}

func TestEvaluate_StorageHumidityGuards(t *testing.T) {
	tgt := storageTargets()
	in := func(offset time.Duration, rh float64) evalInput {
		return evalInput{
			Now:        testStart.Add(offset),
			PhaseStart: testStart,
			Targets:    tgt,
			Cond:       Conditions{TempF: 65, Humidity: rh},
			Level:      Stable,
			ClimateF:   65,
		}
	}

	e := newEngine(0, 0)
	p := e.evaluate(in(time.Second, 67))
	assert.True(t, p.desired[hardware.Dehumidifier], "above the high guard")
	assert.False(t, p.desired[hardware.HumidifierSolenoid])

	e = newEngine(0, 0)
	p = e.evaluate(in(time.Second, 60))
	assert.False(t, p.desired[hardware.Dehumidifier], "mid-band needs nothing")
	assert.False(t, p.desired[hardware.HumidifierSolenoid])

	// Below the low guard the humidifier cycles 60 s on, 60 s off,
	// anchored at phase start.
	e = newEngine(0, 0)
	p = e.evaluate(in(10*time.Second, 50))
	assert.True(t, p.desired[hardware.HumidifierSolenoid], "first half-cycle is on")
	p = e.evaluate(in(70*time.Second, 50))
	assert.False(t, p.desired[hardware.HumidifierSolenoid], "second half-cycle is off")
	p = e.evaluate(in(130*time.Second, 50))
	assert.True(t, p.desired[hardware.HumidifierSolenoid], "third half-cycle is on again")
}

func TestEvaluate_StorageCyclesAirMovement(t *testing.T) {
	tgt := storageTargets()
	e := newEngine(0, 0)
	in := func(offset time.Duration) evalInput {
		return evalInput{
			Now:        testStart.Add(offset),
			PhaseStart: testStart,
			Targets:    tgt,
			Cond:       Conditions{TempF: 65, Humidity: 60},
			Level:      Stable,
			ClimateF:   65,
		}
	}

	p := e.evaluate(in(10 * time.Second))
	assert.True(t, p.desired[hardware.SupplyFan], "fans on for the first 5 min")
	assert.True(t, p.desired[hardware.ReturnFan])

	p = e.evaluate(in(6 * time.Minute))
	assert.False(t, p.desired[hardware.SupplyFan], "fans rest for the next 5 min")
	assert.False(t, p.desired[hardware.ReturnFan])
}

func TestEvaluate_StorageVentilationPulse(t *testing.T) {
	e := newEngine(6*time.Hour, 15*time.Minute)
	in := func(offset time.Duration) evalInput {
		return evalInput{
			Now:        testStart.Add(offset),
			PhaseStart: testStart,
			Targets:    storageTargets(),
			Cond:       Conditions{TempF: 65, Humidity: 60},
			Level:      Stable,
			ClimateF:   65,
		}
	}

	assert.False(t, e.evaluate(in(time.Hour)).desired[hardware.FreshAirExchanger],
		"no pulse inside the first interval")
	assert.True(t, e.evaluate(in(6*time.Hour+5*time.Minute)).desired[hardware.FreshAirExchanger],
		"pulse open 5 min into the window")
	assert.False(t, e.evaluate(in(6*time.Hour+20*time.Minute)).desired[hardware.FreshAirExchanger],
		"pulse closed after 15 min")
	assert.True(t, e.evaluate(in(12*time.Hour+time.Minute)).desired[hardware.FreshAirExchanger],
		"next interval pulses again")
}

func TestEvaluate_StorageDisabledVentilationStaysClosed(t *testing.T) {
	e := newEngine(0, 0)
	p := e.evaluate(evalInput{
		Now:        testStart.Add(7 * time.Hour),
		PhaseStart: testStart,
		Targets:    storageTargets(),
		Cond:       Conditions{TempF: 65, Humidity: 60},
		Level:      Stable,
		ClimateF:   65,
	})
	assert.False(t, p.desired[hardware.FreshAirExchanger])
}

func TestStepToward(t *testing.T) {
	cases := []struct {
		cur, want, step, out float64
	}{
		{0, 68, 2, 68},  // first command jumps
		{60, 68, 2, 62}, // ramp up
		{70, 68, 2, 68}, // inside one step
		{71.5, 68, 2, 69.5},
		{68, 68, 2, 68},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.out, stepToward(tc.cur, tc.want, tc.step), 1e-9,
			"stepToward(%v, %v, %v)", tc.cur, tc.want, tc.step)
	}
}

func TestHalfCycleOn(t *testing.T) {
	half := time.Minute
	assert.True(t, halfCycleOn(testStart.Add(30*time.Second), testStart, half))
	assert.False(t, halfCycleOn(testStart.Add(90*time.Second), testStart, half))
	assert.True(t, halfCycleOn(testStart.Add(125*time.Second), testStart, half))
	assert.False(t, halfCycleOn(testStart.Add(-time.Second), testStart, half),
		"before the anchor nothing runs")
}
