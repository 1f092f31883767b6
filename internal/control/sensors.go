package control

import (
	"context"
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/psychro"
)

// Conditions is the chamber environment as the controller sees it this
// cycle: the mean over usable probes plus the psychrometric derivations.
type Conditions struct {
	TempF         float64 `json:"temp_f"`
	Humidity      float64 `json:"humidity"`
	VPDkPa        float64 `json:"vpd_kpa"`
	DewPointF     float64 `json:"dew_point_f"`
	WaterActivity float64 `json:"water_activity"`

	// SampledAt is the newest probe timestamp that contributed. Stale
	// means no probe produced a fresh reading this cycle and the values
	// are last-known-good.
	SampledAt time.Time `json:"sampled_at"`
	Stale     bool      `json:"stale"`
}

// sensorBank wraps the sensor source with last-known-good fallback. A
// probe that fails to read keeps serving its previous value until the
// staleness limit, after which it drops out of the aggregate.
type sensorBank struct {
	src       hardware.SensorSource
	timeout   time.Duration
	staleness time.Duration

	lastGood map[string]hardware.Reading
}

func newSensorBank(src hardware.SensorSource, timeout, staleness time.Duration) *sensorBank {
	return &sensorBank{
		src:       src,
		timeout:   timeout,
		staleness: staleness,
		lastGood:  make(map[string]hardware.Reading),
	}
}

// acquire polls every probe under a bounded timeout. fresh holds the
// readings that succeeded this cycle; usable adds last-known-good values
// still inside the staleness limit. failed maps each probe that errored
// to its error so the caller can log the degradation.
func (b *sensorBank) acquire(ctx context.Context, now time.Time) (fresh, usable []hardware.Reading, failed map[string]error) {
	failed = make(map[string]error)
	for _, probe := range b.src.Probes() {
		rctx, cancel := context.WithTimeout(ctx, b.timeout)
		r, err := b.src.Read(rctx, probe)
		cancel()
		if err != nil {
			failed[probe] = err
			continue
		}
		r.ProbeID = probe
		if r.At.IsZero() {
			r.At = now
		}
		b.lastGood[probe] = r
		fresh = append(fresh, r)
	}
	for _, probe := range b.src.Probes() {
		r, have := b.lastGood[probe]
		if have && now.Sub(r.At) <= b.staleness {
			usable = append(usable, r)
		}
	}
	return fresh, usable, failed
}

// conditionsFrom averages the usable probes and derives the
// psychrometric values from the averaged pair, so the derived numbers
// stay consistent with each other rather than being means of per-probe
// derivations.
func conditionsFrom(usable []hardware.Reading, anyFresh bool) Conditions {
	var tempF, rh float64
	var newest time.Time
	for _, r := range usable {
		tempF += r.TemperatureF
		rh += r.Humidity
		if r.At.After(newest) {
			newest = r.At
		}
	}
	n := float64(len(usable))
	tempF /= n
	rh /= n
	return Conditions{
		TempF:         tempF,
		Humidity:      rh,
		VPDkPa:        psychro.VPDFromF(tempF, rh),
		DewPointF:     psychro.DewPointF(tempF, rh),
		WaterActivity: psychro.WaterActivityEstimate(rh, tempF),
		SampledAt:     newest,
		Stale:         !anyFresh,
	}
}
