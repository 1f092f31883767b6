package profile

import "time"

// Targets is the effective control envelope at a moment in time: the phase's
// static setpoints (cross-faded near boundaries) plus the moving targets
// derived from schedule progress.
type Targets struct {
	Phase     Phase
	Progress  float64
	Setpoints Setpoints

	// VPDTarget and HumidityTarget travel inside their windows as the phase
	// progresses: downward (max to min) for the step-down phases DryInitial
	// and DryMid, upward (min to max) for DryFinal, Cure and Storage. The
	// product finishes each step-down phase near the tight end of its band
	// and stabilizes upward afterwards.
	VPDTarget      float64
	HumidityTarget float64
}

// stepDown reports whether the phase tightens its band over time.
func stepDown(p Phase) bool { return p == DryInitial || p == DryMid }

// PhaseAt returns the scheduled phase for a run started at start, ignoring
// early exits. It accumulates nominal durations in order and returns the
// first phase whose cumulative window has not yet elapsed. An indefinite
// phase (Storage) is terminal; if every phase is finite, Complete follows
// the last one.
//
// Monotonic: for a fixed start, a later now never yields an earlier phase.
func (pr *Profile) PhaseAt(start, now time.Time) Phase {
	if !now.After(start) {
		return pr.First()
	}
	elapsed := now.Sub(start)
	var cum time.Duration
	for _, ps := range pr.Phases {
		if ps.Duration == 0 {
			return ps.Phase
		}
		cum += ps.Duration
		if elapsed < cum {
			return ps.Phase
		}
	}
	return Complete
}

// PhaseStartAt returns when the given phase begins on the nominal schedule,
// i.e. start plus the durations of every earlier phase in the profile.
func (pr *Profile) PhaseStartAt(start time.Time, phase Phase) time.Time {
	t := start
	for _, ps := range pr.Phases {
		if ps.Phase >= phase {
			break
		}
		t = t.Add(ps.Duration)
	}
	return t
}

// Progress returns how far through its nominal duration the phase is,
// clamped to [0, 1]. Indefinite phases report 0: Storage has no notion of
// completion, and its moving targets stay at the bottom of their bands.
func (pr *Profile) Progress(phase Phase, phaseStart, now time.Time) float64 {
	ps, ok := pr.Spec(phase)
	if !ok || ps.Duration == 0 {
		return 0
	}
	p := float64(now.Sub(phaseStart)) / float64(ps.Duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Targets computes the effective envelope for the current phase.
//
// prev is the phase actually left at phaseStart, which after a water-activity
// early exit is not necessarily the canonical predecessor (DryFinal can hand
// straight to Storage). For the first few hours after a boundary the outgoing
// phase's end-state envelope is linearly faded into the incoming one, so
// equipment never sees a step change. Pass prev == phase for the opening
// phase of a run.
func (pr *Profile) Targets(prev, phase Phase, phaseStart, now time.Time) Targets {
	cur := pr.targetsNoBlend(phase, pr.Progress(phase, phaseStart, now))
	if prev == phase || pr.TransitionWindow <= 0 {
		return cur
	}
	since := now.Sub(phaseStart)
	if since >= pr.TransitionWindow {
		return cur
	}
	prevSpec, ok := pr.Spec(prev)
	if !ok {
		return cur
	}
	// Outgoing phase contributes its end state: progress 1 for step-down
	// phases (band fully tightened), progress 1 for step-up likewise; the
	// direction only affects which edge of the band that end state sits on.
	out := pr.targetsNoBlend(prevSpec.Phase, 1)
	w := float64(since) / float64(pr.TransitionWindow)
	if w < 0 {
		w = 0
	}
	blended := cur
	blended.Setpoints = blendSetpoints(out.Setpoints, cur.Setpoints, w)
	blended.VPDTarget = lerp(out.VPDTarget, cur.VPDTarget, w)
	blended.HumidityTarget = lerp(out.HumidityTarget, cur.HumidityTarget, w)
	return blended
}

// TargetsFromStart is the convenience form for the nominal schedule: it
// derives phase, phase start and canonical predecessor from the run start.
// The controller uses the explicit form, which knows about early exits.
func (pr *Profile) TargetsFromStart(start, now time.Time) Targets {
	phase := pr.PhaseAt(start, now)
	if phase == Complete {
		// Hold the last defined envelope once the schedule runs out.
		last := pr.Phases[len(pr.Phases)-1]
		t := pr.targetsNoBlend(last.Phase, 1)
		t.Phase = Complete
		return t
	}
	prev := phase
	for _, ps := range pr.Phases {
		if ps.Phase < phase {
			prev = ps.Phase
		}
	}
	return pr.Targets(prev, phase, pr.PhaseStartAt(start, phase), now)
}

func (pr *Profile) targetsNoBlend(phase Phase, progress float64) Targets {
	ps, ok := pr.Spec(phase)
	if !ok {
		// Unknown phase only happens for Complete; reuse the final envelope.
		ps = pr.Phases[len(pr.Phases)-1]
	}
	frac := progress
	if stepDown(phase) {
		frac = 1 - progress
	}
	sp := ps.Setpoints
	return Targets{
		Phase:          phase,
		Progress:       progress,
		Setpoints:      sp,
		VPDTarget:      sp.VPDMin + frac*(sp.VPDMax-sp.VPDMin),
		HumidityTarget: sp.HumidityMin + frac*(sp.HumidityMax-sp.HumidityMin),
	}
}

func blendSetpoints(a, b Setpoints, w float64) Setpoints {
	return Setpoints{
		TempF:              lerp(a.TempF, b.TempF, w),
		TempToleranceF:     lerp(a.TempToleranceF, b.TempToleranceF, w),
		DewPointF:          lerp(a.DewPointF, b.DewPointF, w),
		DewPointToleranceF: lerp(a.DewPointToleranceF, b.DewPointToleranceF, w),
		HumidityMin:        lerp(a.HumidityMin, b.HumidityMin, w),
		HumidityMax:        lerp(a.HumidityMax, b.HumidityMax, w),
		VPDMin:             lerp(a.VPDMin, b.VPDMin, w),
		VPDMax:             lerp(a.VPDMax, b.VPDMax, w),
	}
}

func lerp(a, b, w float64) float64 { return a + (b-a)*w }
