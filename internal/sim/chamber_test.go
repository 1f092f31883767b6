package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydenhq/dryden/internal/hardware"
)

var chamberStart = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func fixedNow(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestChamber_ReadReportsInteriorState(t *testing.T) {
	ch := NewChamber(fixedNow(chamberStart), Initial{TempF: 68, Humidity: 62})

	probes := ch.Probes()
	require.Len(t, probes, 2)
	for _, id := range probes {
		r, err := ch.Read(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, r.ProbeID)
		assert.Equal(t, 68.0, r.TemperatureF)
		assert.Equal(t, 62.0, r.Humidity)
		assert.Equal(t, chamberStart, r.At)
	}
}

func TestChamber_ProbeFaultInjection(t *testing.T) {
	ch := NewChamber(fixedNow(chamberStart), Initial{TempF: 68, Humidity: 62})

	ch.FailProbes()
	_, err := ch.Read(context.Background(), "sim-top")
	require.ErrorIs(t, err, hardware.ErrSensor)

	ch.RecoverProbes()
	_, err = ch.Read(context.Background(), "sim-top")
	require.NoError(t, err)
}

func TestChamber_ClimatePullsTowardSetpoint(t *testing.T) {
	ctx := context.Background()
	ch := NewChamber(fixedNow(chamberStart), Initial{TempF: 70, Humidity: 62})
	ch.SetAmbient(68, 62)

	require.NoError(t, ch.SetOutput(ctx, hardware.ClimateUnit, true))
	require.NoError(t, ch.SetTemperatureTarget(ctx, 68))

	ch.Step(2 * time.Minute)
	tempF, _ := ch.Conditions()
	assert.InDelta(t, 69.0, tempF, 0.05, "pull rate is half a degree per minute")

	ch.Step(10 * time.Minute)
	tempF, _ = ch.Conditions()
	assert.InDelta(t, 68.0, tempF, 1e-9, "setpoint reached and held")
}

func TestChamber_DehumidifierRemovesMoisture(t *testing.T) {
	ctx := context.Background()
	ch := NewChamber(fixedNow(chamberStart), Initial{TempF: 68, Humidity: 62})

	require.NoError(t, ch.SetOutput(ctx, hardware.Dehumidifier, true))
	ch.Step(10 * time.Second)

	_, rh := ch.Conditions()
	assert.InDelta(t, 61.88, rh, 1e-9)
}

func TestChamber_SolenoidAddsMoisture(t *testing.T) {
	ctx := context.Background()
	ch := NewChamber(fixedNow(chamberStart), Initial{TempF: 68, Humidity: 62})

	require.NoError(t, ch.SetOutput(ctx, hardware.HumidifierSolenoid, true))
	ch.Step(10 * time.Second)

	_, rh := ch.Conditions()
	assert.InDelta(t, 62.15, rh, 1e-9)
}

func TestChamber_DoorMixesTowardAmbient(t *testing.T) {
	ch := NewChamber(fixedNow(chamberStart), Initial{
		TempF: 68, Humidity: 62,
		AmbientTempF: 75, AmbientHumidity: 80,
	})

	ch.Step(10 * time.Second)
	sealed, _ := ch.Conditions()
	assert.InDelta(t, 68.0047, sealed, 1e-3, "sealed envelope leaks slowly")

	ch.OpenDoor()
	ch.Step(10 * time.Second)
	open, _ := ch.Conditions()
	assert.Greater(t, open-sealed, 0.2, "open door mixes far faster than leakage")

	ch.CloseDoor()
	ch.Step(10 * time.Second)
	closed, _ := ch.Conditions()
	assert.Less(t, closed-open, 0.01, "closing the door reseals the envelope")
}

func TestChamber_ClampsToPhysicalRange(t *testing.T) {
	ctx := context.Background()
	ch := NewChamber(fixedNow(chamberStart), Initial{TempF: 68, Humidity: 6})

	require.NoError(t, ch.SetOutput(ctx, hardware.Dehumidifier, true))
	ch.Step(30 * time.Minute)

	_, rh := ch.Conditions()
	assert.Equal(t, 5.0, rh, "humidity clamps at the physical floor")
}

func TestChamber_StepSubdividesLongIntervals(t *testing.T) {
	init := Initial{TempF: 68, Humidity: 62, AmbientTempF: 75, AmbientHumidity: 80}
	a := NewChamber(fixedNow(chamberStart), init)
	b := NewChamber(fixedNow(chamberStart), init)
	a.OpenDoor()
	b.OpenDoor()

	a.Step(time.Hour)
	for i := 0; i < 360; i++ {
		b.Step(10 * time.Second)
	}

	at, arh := a.Conditions()
	bt, brh := b.Conditions()
	assert.InDelta(t, bt, at, 1e-9, "one long step integrates like many short ones")
	assert.InDelta(t, brh, arh, 1e-9)
}
