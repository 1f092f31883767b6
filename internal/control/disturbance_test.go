package control

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydenhq/dryden/internal/hardware"
)

// observeSeries feeds evenly spaced samples for one probe.
func observeSeries(tr *disturbanceTracker, probe string, step time.Duration, temps ...float64) {
	for i, v := range temps {
		tr.Observe(hardware.Reading{
			ProbeID:      probe,
			TemperatureF: v,
			At:           testStart.Add(time.Duration(i) * step),
		})
	}
}

// ramp builds n samples climbing from start by step each.
func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestLevel_EmptyTrackerIsStable(t *testing.T) {
	tr := newDisturbanceTracker()
	assert.Equal(t, Stable, tr.Level())
}

func TestLevel_FlatTemperatureIsStable(t *testing.T) {
	tr := newDisturbanceTracker()
	observeSeries(tr, "probe-top", time.Minute, 68, 68.05, 68.1, 68.05, 68, 68.05)
	assert.Equal(t, Stable, tr.Level())
}

func TestLevel_RateThresholds(t *testing.T) {
	cases := []struct {
		name  string
		delta float64
		want  DisturbanceLevel
	}{
		{"under minor", 0.2, Stable},
		{"minor", 0.3, Minor},
		{"moderate", 0.7, Moderate},
		{"major", 1.2, Major},
		{"critical", 2.5, Critical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newDisturbanceTracker()
			// Two samples a minute apart: delta F per minute exactly.
			observeSeries(tr, "probe-top", time.Minute, 68, 68+tc.delta)
			assert.Equal(t, tc.want, tr.Level())
		})
	}
}

func TestLevel_FallingTemperatureCountsTheSame(t *testing.T) {
	tr := newDisturbanceTracker()
	observeSeries(tr, "probe-top", time.Minute, 68, 65.5)
	assert.Equal(t, Critical, tr.Level(), "rate is absolute")
}

func TestLevel_SlowDriftDegradesStabilityScore(t *testing.T) {
	// Each series moves slowly enough that the sample-to-sample rate is
	// under every threshold; only the accumulated spread classifies it.
	cases := []struct {
		name string
		step float64
		want DisturbanceLevel
	}{
		{"wide drift", 1.0, Major},
		{"medium drift", 0.5, Moderate},
		{"narrow drift", 0.25, Minor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newDisturbanceTracker()
			observeSeries(tr, "probe-top", 5*time.Minute, ramp(65, tc.step, 10)...)
			assert.Equal(t, tc.want, tr.Level())
		})
	}
}

func TestLevel_WorstProbeWins(t *testing.T) {
	tr := newDisturbanceTracker()
	observeSeries(tr, "probe-top", time.Minute, 68, 68, 68, 68)
	observeSeries(tr, "probe-bottom", time.Minute, 68, 70.5)
	assert.Equal(t, Critical, tr.Level(), "a disturbance at one probe is a disturbance")
}

func TestObserve_WindowIsBounded(t *testing.T) {
	tr := newDisturbanceTracker()
	observeSeries(tr, "probe-top", time.Minute, ramp(68, 0.01, 3*disturbanceWindow)...)
	assert.Len(t, tr.windows["probe-top"], disturbanceWindow)
}

func TestDisturbanceLevel_JSON(t *testing.T) {
	data, err := json.Marshal(Moderate)
	require.NoError(t, err)
	assert.Equal(t, `"moderate"`, string(data))

	var lvl DisturbanceLevel
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &lvl))
	assert.Equal(t, Critical, lvl)

	assert.Error(t, json.Unmarshal([]byte(`"apocalyptic"`), &lvl))
}
