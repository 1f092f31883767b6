package sim

import (
	"github.com/drydenhq/dryden/internal/control"
	"github.com/drydenhq/dryden/internal/store"
)

// TraceEvent is one cycle's observable outcome: what the chamber read,
// what the controller decided, and any alerts the cycle raised.
type TraceEvent struct {
	Cycle       int               `json:"cycle"`
	Phase       string            `json:"phase"`
	Disturbance string            `json:"disturbance"`
	TempF       float64           `json:"temp_f"`
	Humidity    float64           `json:"humidity"`
	VPDkPa      float64           `json:"vpd_kpa"`
	ClimateF    float64           `json:"climate_f"`
	Duty        float64           `json:"humidifier_duty"`
	Equipment   map[string]string `json:"equipment"`
	Alerts      []string          `json:"alerts,omitempty"`
}

// Result is a finished scenario run.
type Result struct {
	// Pass is true when every expect clause held.
	Pass bool `json:"pass"`

	// Trace holds one event per cycle, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty when Pass.
	Errors []string `json:"errors,omitempty"`
}

// AddError records a failed expectation and fails the result.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// recorder implements control.Observer and builds the trace. Tick
// delivers alerts before the cycle outcome, so pending alert codes are
// folded into the next CycleCompleted event.
type recorder struct {
	cycle   int
	pending []string
	trace   []TraceEvent
}

func (r *recorder) AlertRaised(a store.Alert) {
	r.pending = append(r.pending, a.Code)
}

func (r *recorder) CycleCompleted(st control.Status) {
	r.cycle++
	eq := make(map[string]string, len(st.Equipment))
	for name, e := range st.Equipment {
		eq[name] = stateName(e.On)
	}
	r.trace = append(r.trace, TraceEvent{
		Cycle:       r.cycle,
		Phase:       st.Phase.String(),
		Disturbance: st.Disturbance.String(),
		TempF:       st.Conditions.TempF,
		Humidity:    st.Conditions.Humidity,
		VPDkPa:      st.Conditions.VPDkPa,
		ClimateF:    st.ClimateSetpointF,
		Duty:        st.HumidifierDuty,
		Equipment:   eq,
		Alerts:      r.pending,
	})
	r.pending = nil
}

func stateName(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// toCanonicalMap renders a trace for canonical JSON: numeric fields as
// fixed-point thousandths, following the recipe fingerprint rules, so
// golden bytes never depend on float formatting.
func toCanonicalMap(name string, trace []TraceEvent) map[string]any {
	events := make([]any, len(trace))
	for i, e := range trace {
		eq := make(map[string]any, len(e.Equipment))
		for k, v := range e.Equipment {
			eq[k] = v
		}
		ev := map[string]any{
			"cycle":           e.Cycle,
			"phase":           e.Phase,
			"disturbance":     e.Disturbance,
			"temp_f":          fixedMilli(e.TempF),
			"humidity":        fixedMilli(e.Humidity),
			"vpd_kpa":         fixedMilli(e.VPDkPa),
			"climate_f":       fixedMilli(e.ClimateF),
			"humidifier_duty": fixedMilli(e.Duty),
			"equipment":       eq,
		}
		if len(e.Alerts) > 0 {
			alerts := make([]any, len(e.Alerts))
			for j, a := range e.Alerts {
				alerts[j] = a
			}
			ev["alerts"] = alerts
		}
		events[i] = ev
	}
	return map[string]any{
		"scenario_name": name,
		"trace":         events,
	}
}

// fixedMilli converts to integer thousandths, mirroring the recipe
// canonical form.
func fixedMilli(v float64) int64 {
	if v >= 0 {
		return int64(v*1000 + 0.5)
	}
	return -int64(-v*1000 + 0.5)
}
