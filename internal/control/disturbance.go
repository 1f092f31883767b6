package control

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
)

// DisturbanceLevel classifies how far recent temperature data deviates
// from a stable baseline. Ordered: Stable < Minor < Moderate < Major <
// Critical. Never persisted; always recomputed from the in-memory window.
type DisturbanceLevel int

const (
	Stable DisturbanceLevel = iota
	Minor
	Moderate
	Major
	Critical

	numDisturbanceLevels int = iota
)

var disturbanceNames = [numDisturbanceLevels]string{
	Stable:   "stable",
	Minor:    "minor",
	Moderate: "moderate",
	Major:    "major",
	Critical: "critical",
}

// String returns the canonical name used in logs and telemetry.
func (d DisturbanceLevel) String() string {
	if d < 0 || int(d) >= numDisturbanceLevels {
		return fmt.Sprintf("disturbance(%d)", int(d))
	}
	return disturbanceNames[d]
}

// MarshalJSON encodes the level as its canonical name.
func (d DisturbanceLevel) MarshalJSON() ([]byte, error) {
	if d < 0 || int(d) >= numDisturbanceLevels {
		return nil, fmt.Errorf("cannot marshal invalid disturbance level %d", int(d))
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a canonical level name.
func (d *DisturbanceLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range disturbanceNames {
		if s == name {
			*d = DisturbanceLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown disturbance level %q", s)
}

// dampingFactor scales proportional corrections at this level. Major
// additionally holds the last commanded states for the cycle. Critical
// deliberately runs at full strength: it marks a real excursion, not a
// transient worth waiting out.
func (d DisturbanceLevel) dampingFactor() float64 {
	switch d {
	case Moderate:
		return 0.5
	case Major:
		return 0.2
	default:
		return 1.0
	}
}

const (
	// disturbanceWindow bounds the per-probe sample history.
	disturbanceWindow = 20
	// stabilitySpan is how many recent samples the stddev score covers.
	stabilitySpan = 10

	// Rate thresholds in degrees F per minute.
	criticalRate = 2.0
	majorRate    = 1.0
	moderateRate = 0.5
	minorRate    = 0.25

	// Stability-score floors. Score is 1 - stddev/2, clamped to [0,1]:
	// 1 is flat, 0 is swinging two degrees either side of the mean.
	majorScore    = 0.25
	moderateScore = 0.5
	minorScore    = 0.75
)

type tempSample struct {
	at    time.Time
	tempF float64
}

// disturbanceTracker keeps a short temperature history per probe and
// classifies the current disturbance from rate-of-change and stability.
// Only fresh readings are observed; replaying last-known-good values
// would fake stability.
type disturbanceTracker struct {
	windows map[string][]tempSample
}

func newDisturbanceTracker() *disturbanceTracker {
	return &disturbanceTracker{windows: make(map[string][]tempSample)}
}

// Observe appends a fresh reading to its probe's window.
func (t *disturbanceTracker) Observe(r hardware.Reading) {
	w := append(t.windows[r.ProbeID], tempSample{at: r.At, tempF: r.TemperatureF})
	if len(w) > disturbanceWindow {
		w = w[len(w)-disturbanceWindow:]
	}
	t.windows[r.ProbeID] = w
}

// Level classifies the current disturbance. The worst probe wins: a door
// opened next to one probe is still a disturbance.
func (t *disturbanceTracker) Level() DisturbanceLevel {
	var maxRate float64
	minScore := 1.0
	for _, w := range t.windows {
		if r := latestRate(w); r > maxRate {
			maxRate = r
		}
		if s := stabilityScore(w); s < minScore {
			minScore = s
		}
	}
	switch {
	case maxRate >= criticalRate:
		return Critical
	case maxRate >= majorRate || minScore < majorScore:
		return Major
	case maxRate >= moderateRate || minScore < moderateScore:
		return Moderate
	case maxRate >= minorRate || minScore < minorScore:
		return Minor
	default:
		return Stable
	}
}

// latestRate is the absolute temperature rate between the last two
// samples, in degrees F per minute.
func latestRate(w []tempSample) float64 {
	if len(w) < 2 {
		return 0
	}
	a, b := w[len(w)-2], w[len(w)-1]
	dt := b.at.Sub(a.at).Minutes()
	if dt <= 0 {
		return 0
	}
	return math.Abs(b.tempF-a.tempF) / dt
}

// stabilityScore maps the stddev of the last stabilitySpan samples onto
// [0,1]. Fewer than three samples score a neutral 1 rather than
// penalizing a cold start.
func stabilityScore(w []tempSample) float64 {
	if len(w) > stabilitySpan {
		w = w[len(w)-stabilitySpan:]
	}
	if len(w) < 3 {
		return 1
	}
	var mean float64
	for _, s := range w {
		mean += s.tempF
	}
	mean /= float64(len(w))
	var variance float64
	for _, s := range w {
		d := s.tempF - mean
		variance += d * d
	}
	variance /= float64(len(w))
	score := 1 - math.Sqrt(variance)/2
	if score < 0 {
		return 0
	}
	return score
}
