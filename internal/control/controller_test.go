package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
	"github.com/drydenhq/dryden/internal/psychro"
	"github.com/drydenhq/dryden/internal/store"
)

// The fixture probes default to 68 F / 62% RH, which lands inside the
// test profile's VPD window and dew point tolerance: the baseline plan
// is dehumidifier plus full airflow, no humidification.

func TestTick_FirstCycleDrivesInitialPlan(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()

	assert.True(t, f.port.on(hardware.Dehumidifier))
	assert.True(t, f.port.on(hardware.SupplyFan))
	assert.True(t, f.port.on(hardware.ReturnFan))
	assert.True(t, f.port.on(hardware.FreshAirExchanger))
	assert.True(t, f.port.on(hardware.ClimateUnit))
	assert.False(t, f.port.on(hardware.HumidifierSolenoid))
	assert.False(t, f.port.on(hardware.HumidifierFan))
	assert.Equal(t, 68.0, f.climate.last())

	st := f.ctl.Status()
	assert.True(t, st.Active)
	assert.Equal(t, profile.DryInitial, st.Phase)
	assert.Equal(t, "run-000001", st.RunToken)
	assert.Equal(t, testStart, st.ProcessStart)
}

func TestTick_SteadyStateDoesNotChatter(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()
	writes := f.port.writeCount()
	climates := f.climate.count()

	f.advance(10 * time.Second)
	f.tick()
	f.advance(10 * time.Second)
	f.tick()

	assert.Equal(t, writes, f.port.writeCount(), "unchanged plan writes nothing")
	assert.Equal(t, climates, f.climate.count(), "unchanged setpoint is not re-sent")
}

func TestTick_RecordsReadingsWithDerivations(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()

	rows, err := f.st.ReadReadings(f.ctx, f.ctl.Status().RunToken)
	require.NoError(t, err)
	require.Len(t, rows, 2, "one row per probe per cycle")
	for _, r := range rows {
		assert.InDelta(t, 68.0, r.TempF, 1e-9)
		assert.InDelta(t, psychro.VPDFromF(68, 62), r.VPDkPa, 1e-9)
		assert.InDelta(t, psychro.DewPointF(68, 62), r.DewPointF, 1e-9)
		assert.InDelta(t, psychro.WaterActivityEstimate(62, 68), r.WaterActivity, 1e-9)
	}
	assert.Equal(t, rows[0].Seq, rows[1].Seq, "both probes belong to the same cycle")
}

func TestTick_IdleWithNoRunTouchesNothing(t *testing.T) {
	f := newFixture(t, testProfile())
	f.tick()
	f.advance(10 * time.Second)
	f.tick()

	for _, id := range hardware.AllEquipment() {
		assert.False(t, f.port.on(id))
	}
	assert.Zero(t, f.climate.count())
	assert.False(t, f.ctl.Status().Active)
}

func TestPhase_AdvancesOnSchedule(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()

	f.advance(2*time.Hour + time.Minute)
	f.tick()

	st := f.ctl.Status()
	assert.Equal(t, profile.DryMid, st.Phase)
	assert.Equal(t, testStart.Add(2*time.Hour), st.PhaseStart,
		"phase start anchors at the boundary, not the cycle that noticed it")

	events, err := f.st.ReadPhaseEvents(f.ctx, st.RunToken)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, profile.DryMid, events[1].Phase)
	assert.Equal(t, "schedule elapsed", events[1].Cause)
	assert.Equal(t, testStart.Add(2*time.Hour), events[1].At)
}

func TestPhase_DefaultScheduleReachesDryMidAfterTwoDays(t *testing.T) {
	f := newFixture(t, profile.Default())
	f.start()
	f.tick()

	f.advance(49 * time.Hour)
	f.tick()

	st := f.ctl.Status()
	assert.Equal(t, profile.DryMid, st.Phase)
	assert.Equal(t, testStart.Add(48*time.Hour), st.PhaseStart)
}

func TestPhase_CatchesUpAcrossMultipleBoundaries(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.sensors.set(68, 68) // keep the aW estimate above target
	f.tick()

	// An outage spanning two boundaries: one cycle catches all the way up.
	f.advance(6 * time.Hour)
	f.tick()

	st := f.ctl.Status()
	assert.Equal(t, profile.DryFinal, st.Phase)
	assert.Equal(t, testStart.Add(5*time.Hour), st.PhaseStart)

	events, err := f.st.ReadPhaseEvents(f.ctx, st.RunToken)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, testStart.Add(2*time.Hour), events[1].At)
	assert.Equal(t, testStart.Add(5*time.Hour), events[2].At)
}

func TestPhase_WaterActivityExitsCureEarly(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.sensors.set(66, 68)
	f.tick()

	f.advance(7*time.Hour + time.Minute)
	f.tick()
	require.Equal(t, profile.Cure, f.ctl.Status().Phase)

	// The product reaches its water activity target mid-cure.
	f.sensors.set(66, 63.5)
	f.advance(10 * time.Second)
	f.tick()

	st := f.ctl.Status()
	assert.Equal(t, profile.Storage, st.Phase)
	assert.Equal(t, testStart.Add(7*time.Hour+time.Minute+10*time.Second), st.PhaseStart,
		"early exit anchors at the observing cycle")

	events, err := f.st.ReadPhaseEvents(f.ctx, st.RunToken)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, profile.Storage, last.Phase)
	assert.Contains(t, last.Cause, "water activity")
}

func TestPhase_FiniteScheduleCompletesAndShutsDown(t *testing.T) {
	sp := testProfile().Phases[0].Setpoints
	finite := &profile.Profile{
		Name:                "finite",
		WaterActivityTarget: 0.61,
		Phases: []profile.PhaseSpec{
			{Phase: profile.DryInitial, Duration: time.Hour, Setpoints: sp},
			{Phase: profile.Cure, Duration: time.Hour, Setpoints: sp},
		},
	}
	f := newFixture(t, finite)
	f.start()
	f.sensors.set(68, 68)
	f.tick()
	require.True(t, f.port.on(hardware.SupplyFan))

	f.advance(2*time.Hour + time.Second)
	f.tick()

	st := f.ctl.Status()
	assert.False(t, st.Active)
	assert.Empty(t, st.RunToken)
	for _, id := range hardware.AllEquipment() {
		assert.False(t, f.port.on(id), "%s off after completion", id)
	}

	run, err := f.st.ReadLatestRun(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeCompleted, run.Outcome)
	assert.Equal(t, testStart.Add(2*time.Hour), run.StoppedAt, "closed at the boundary")
}

func TestSafety_BreachTripsEmergencyStop(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()
	require.True(t, f.port.on(hardware.SupplyFan))

	f.sensors.set(78, 62) // above the 75 F safety limit
	f.advance(10 * time.Second)
	f.tick()

	st := f.ctl.Status()
	assert.True(t, st.EmergencyStopped)
	assert.False(t, st.Active)
	assert.Equal(t, "run-000001", st.RunToken, "the run is frozen, not destroyed")
	for _, id := range hardware.AllEquipment() {
		assert.False(t, f.port.on(id), "%s must be off", id)
	}

	alerts, err := f.st.ReadRecentAlerts(f.ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	latest := alerts[len(alerts)-1]
	assert.Equal(t, store.AlertCritical, latest.Level)
	assert.Equal(t, "safety_limit", latest.Code)

	// Latched: further cycles move nothing.
	writes := f.port.writeCount()
	f.advance(10 * time.Second)
	f.tick()
	assert.Equal(t, writes, f.port.writeCount())
}

func TestSafety_ResumeAfterBreachReenergizes(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()
	f.sensors.set(78, 62)
	f.advance(10 * time.Second)
	f.tick()
	require.True(t, f.ctl.Status().EmergencyStopped)

	f.sensors.set(68, 62)
	require.NoError(t, f.ctl.Start(f.ctx, true))
	f.advance(10 * time.Second)
	f.tick()

	st := f.ctl.Status()
	assert.False(t, st.EmergencyStopped)
	assert.True(t, st.Active)
	assert.Equal(t, testStart, st.ProcessStart, "the schedule is unaffected by the stop")
	assert.True(t, f.port.on(hardware.SupplyFan), "equipment re-driven after resume")
}

func TestDegraded_StaleSensorsHoldEquipment(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()
	require.True(t, f.port.on(hardware.SupplyFan))
	writes := f.port.writeCount()

	f.sensors.failAll(hardware.ErrSensor)
	f.advance(3 * time.Minute) // beyond the 120 s staleness limit
	f.tick()

	st := f.ctl.Status()
	assert.True(t, st.Degraded)
	assert.Equal(t, writes, f.port.writeCount(), "no decisions without data")
	assert.True(t, f.port.on(hardware.SupplyFan), "equipment held in place, not shut down")

	// The alert fires once, not every cycle.
	f.advance(10 * time.Second)
	f.tick()
	alerts, err := f.st.ReadRecentAlerts(f.ctx, 10)
	require.NoError(t, err)
	degraded := 0
	for _, a := range alerts {
		if a.Code == "sensors_degraded" {
			degraded++
		}
	}
	assert.Equal(t, 1, degraded)

	f.sensors.heal()
	f.advance(10 * time.Second)
	f.tick()
	assert.False(t, f.ctl.Status().Degraded, "recovered on the next good cycle")
}

func TestDegraded_TimeBasedAdvanceContinues(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	f.tick()

	f.sensors.failAll(hardware.ErrSensor)
	f.advance(2*time.Hour + time.Minute)
	f.tick()

	assert.Equal(t, profile.DryMid, f.ctl.Status().Phase,
		"the product keeps drying whether or not the probes answer")
}

func TestForcedOff_OverridesDecisions(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	require.NoError(t, f.ctl.SetControlMode(f.ctx, hardware.Dehumidifier, ForcedOff))
	f.tick()

	assert.False(t, f.port.on(hardware.Dehumidifier), "operator wins over the engine")
	assert.True(t, f.port.on(hardware.SupplyFan), "other equipment stays automatic")

	require.NoError(t, f.ctl.SetControlMode(f.ctx, hardware.Dehumidifier, Auto))
	f.advance(10 * time.Second)
	f.tick()
	assert.True(t, f.port.on(hardware.Dehumidifier), "engine reclaims it on the next cycle")
}

func TestForcedOn_WorksWhileIdle(t *testing.T) {
	f := newFixture(t, testProfile())
	require.NoError(t, f.ctl.SetControlMode(f.ctx, hardware.FreshAirExchanger, ForcedOn))
	assert.True(t, f.port.on(hardware.FreshAirExchanger), "applies immediately, run or no run")

	f.advance(10 * time.Second)
	f.tick()
	assert.True(t, f.port.on(hardware.FreshAirExchanger))
}

func TestForcedMode_ReassertedAfterDrift(t *testing.T) {
	f := newFixture(t, testProfile())
	require.NoError(t, f.ctl.SetControlMode(f.ctx, hardware.FreshAirExchanger, ForcedOn))

	// The line drops behind the controller's back; drift sync adopts the
	// hardware truth, then the forced mode snaps it back.
	f.port.setLine(hardware.FreshAirExchanger, false)
	f.advance(5 * time.Minute)
	f.tick()

	assert.True(t, f.port.on(hardware.FreshAirExchanger))
}

func TestClimate_FailedWriteDoesNotAdvanceRateAnchor(t *testing.T) {
	f := newFixture(t, testProfile())
	f.climate.setFail(errors.New("bridge timeout"))
	f.start()
	f.tick()

	assert.Zero(t, f.ctl.Status().ClimateSetpointF, "unconfirmed target is not remembered")

	f.climate.setFail(nil)
	f.advance(10 * time.Second)
	f.tick()
	assert.Equal(t, 68.0, f.climate.last())
	assert.Equal(t, 68.0, f.ctl.Status().ClimateSetpointF)
}

func TestApply_FailedRelayWriteRetriesNextCycle(t *testing.T) {
	f := newFixture(t, testProfile())
	f.port.failWrites(hardware.SupplyFan, true)
	f.start()
	f.tick()

	assert.False(t, f.port.on(hardware.SupplyFan))
	assert.True(t, f.port.on(hardware.ReturnFan), "one bad relay does not stall the rest")

	f.port.failWrites(hardware.SupplyFan, false)
	f.advance(10 * time.Second)
	f.tick()
	assert.True(t, f.port.on(hardware.SupplyFan), "the diff persists until confirmed")

	// Only the confirmed write produced a transition row.
	trs, err := f.st.ReadTransitions(f.ctx, f.ctl.Status().RunToken)
	require.NoError(t, err)
	supplyOns := 0
	for _, tr := range trs {
		if tr.Equipment == hardware.SupplyFan && tr.On {
			supplyOns++
		}
	}
	assert.Equal(t, 1, supplyOns)
}

func TestStatus_ReportsEquipmentConditionsAndTargets(t *testing.T) {
	f := newFixture(t, testProfile())
	f.start()
	require.NoError(t, f.ctl.SetControlMode(f.ctx, hardware.SupplyFan, ForcedOn))
	f.tick()

	st := f.ctl.Status()
	require.Len(t, st.Equipment, hardware.NumEquipment)
	assert.True(t, st.Equipment["supply_fan"].On)
	assert.Equal(t, ForcedOn, st.Equipment["supply_fan"].Mode)
	assert.Equal(t, Auto, st.Equipment["dehumidifier"].Mode)

	assert.Equal(t, Stable, st.Disturbance)
	assert.InDelta(t, 68.0, st.Conditions.TempF, 1e-9)
	assert.InDelta(t, 62.0, st.Conditions.Humidity, 1e-9)
	assert.InDelta(t, 0.95, st.Targets.VPDMax, 1e-9)
	assert.Equal(t, testStart, st.LastCycleAt)
	assert.NotZero(t, st.Cycle)
}
