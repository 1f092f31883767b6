package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
	"github.com/drydenhq/dryden/internal/psychro"
	"github.com/drydenhq/dryden/internal/store"
)

// Deps are the collaborators the controller drives. All are required.
type Deps struct {
	Reconciler *hardware.Reconciler
	Climate    hardware.Climate
	Sensors    hardware.SensorSource
	Store      *store.Store
}

// Controller owns the control loop and all mutable run state. One
// instance drives one chamber.
type Controller struct {
	cfg      config.Control
	bounds   SafetyBounds
	prof     *profile.Profile
	fp       string
	snapPath string
	log      *slog.Logger

	rec     *hardware.Reconciler
	climate hardware.Climate
	st      *store.Store

	clock  *Clock
	now    func() time.Time
	tokens func() string

	// estopped is the emergency latch, readable without the lock so a
	// cycle in flight can observe a stop that landed mid-apply.
	estopped atomic.Bool

	mu                sync.Mutex
	run               ProcessRun
	modes             [hardware.NumEquipment]ControlMode
	eng               *engine
	sensors           *sensorBank
	tracker           *disturbanceTracker
	lastSync          time.Time
	pendingForceApply bool
	degraded          bool
	sentClimateF      float64

	lastCond    Conditions
	lastTargets profile.Targets
	lastLevel   DisturbanceLevel
	lastCycleAt time.Time

	observer Observer
	notify   []store.Alert
}

// Observer receives cycle outcomes. Both methods are called outside the
// controller lock, from the goroutine that ran the cycle (or issued the
// emergency stop); implementations must not block the loop.
type Observer interface {
	CycleCompleted(Status)
	AlertRaised(store.Alert)
}

// Option adjusts a Controller at construction.
type Option func(*Controller)

// WithNow substitutes the wall clock source. Tests and the simulation
// harness pass a FakeClock's Now.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithClock seeds the cycle sequence clock, normally NewClockAt(MaxSeq)
// when resuming over an existing history database.
func WithClock(clk *Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithTokenSource substitutes the run token generator (UUIDv7 by
// default).
func WithTokenSource(gen func() string) Option {
	return func(c *Controller) { c.tokens = gen }
}

// WithObserver attaches a cycle observer, typically the telemetry
// publisher.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// New wires a controller. cfg carries the loop cadence, file locations
// and safety bounds; prof is the compiled recipe the next run follows.
func New(cfg config.Config, prof *profile.Profile, deps Deps, log *slog.Logger, opts ...Option) (*Controller, error) {
	if deps.Reconciler == nil || deps.Climate == nil || deps.Sensors == nil || deps.Store == nil {
		return nil, errors.New("control: reconciler, climate, sensors and store are all required")
	}
	if prof == nil {
		return nil, errors.New("control: profile is required")
	}
	fp, err := prof.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint profile: %w", err)
	}
	c := &Controller{
		cfg:      cfg.Control,
		bounds:   boundsFromConfig(cfg.Safety),
		prof:     prof,
		fp:       fp,
		snapPath: cfg.SnapshotPath,
		log:      log,
		rec:      deps.Reconciler,
		climate:  deps.Climate,
		st:       deps.Store,
		clock:    NewClock(),
		now:      time.Now,
		tokens:   newRunToken,
		eng:      newEngine(cfg.Control.VentEvery(), cfg.Control.VentPulse()),
		sensors:  newSensorBank(deps.Sensors, cfg.Control.SensorTimeout(), cfg.Control.StalenessLimit()),
		tracker:  newDisturbanceTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newRunToken returns a time-ordered UUIDv7 so run tokens sort by start
// time in the history database.
func newRunToken() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Run executes the control loop until ctx is cancelled: one Tick per
// cycle interval. Supervisor commands arrive concurrently and serialize
// against Tick on the controller lock.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("control loop starting",
		"cycle_interval", c.cfg.CycleInterval(),
		"sync_interval", c.cfg.SyncInterval())
	ticker := time.NewTicker(c.cfg.CycleInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("control loop stopped", "cause", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick executes one control cycle: read, derive, decide, apply, record.
// Run calls it on the configured cadence; the simulation harness calls
// it directly as the sole driver.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	c.step(ctx)
	var st Status
	var alerts []store.Alert
	if c.observer != nil {
		st = c.statusLocked()
		alerts = c.notify
		c.notify = nil
	}
	c.mu.Unlock()

	if c.observer == nil {
		return
	}
	for _, a := range alerts {
		c.observer.AlertRaised(a)
	}
	c.observer.CycleCompleted(st)
}

// cycleRows accumulates the history rows one cycle produces, written in
// a single transaction at the end of the cycle.
type cycleRows struct {
	readings    []store.Reading
	transitions []store.Transition
	events      []store.PhaseEvent
	alerts      []store.Alert
}

// step is one control cycle. Caller holds c.mu.
func (c *Controller) step(ctx context.Context) {
	now := c.now()
	seq := c.clock.Next()
	log := c.log.With("seq", seq)
	c.lastCycleAt = now

	if c.estopped.Load() {
		// Nothing moves under the latch. Drift sync still runs so the
		// mirror tracks any manual intervention at the relay board.
		c.maybeSync(ctx, now, log)
		return
	}

	if !c.run.Active {
		c.maybeSync(ctx, now, log)
		if c.enforceForced(ctx, nil, seq, now, log) {
			c.persistState(now, log)
		}
		return
	}

	if c.pendingForceApply {
		// Re-assert the restored mirror before anything reads or
		// decides: physical relays are not trusted to match software
		// state after a restart or resume.
		c.pendingForceApply = false
		c.lastSync = now
		if err := c.rec.ForceApplyAll(ctx); err != nil {
			log.Error("force apply failed", "error", err)
		} else {
			log.Info("hardware state re-asserted")
		}
	}

	c.maybeSync(ctx, now, log)

	rows := &cycleRows{}
	c.enforceForced(ctx, rows, seq, now, log)

	fresh, usable, failed := c.sensors.acquire(ctx, now)
	for probe, err := range failed {
		log.Warn("probe read failed", "probe", probe, "error", err)
	}
	for _, r := range fresh {
		c.tracker.Observe(r)
		rows.readings = append(rows.readings, store.Reading{
			RunToken:      c.run.Token,
			Seq:           seq,
			At:            r.At,
			Probe:         r.ProbeID,
			TempF:         r.TemperatureF,
			Humidity:      r.Humidity,
			VPDkPa:        psychro.VPDFromF(r.TemperatureF, r.Humidity),
			DewPointF:     psychro.DewPointF(r.TemperatureF, r.Humidity),
			WaterActivity: psychro.WaterActivityEstimate(r.Humidity, r.TemperatureF),
		})
	}

	if len(usable) == 0 {
		if !c.degraded {
			c.degraded = true
			log.Error("all probes stale, holding equipment",
				"staleness_limit", c.cfg.StalenessLimit())
			rows.alerts = append(rows.alerts, store.Alert{
				RunToken: c.run.Token,
				Seq:      seq,
				At:       now,
				Level:    store.AlertWarning,
				Code:     "sensors_degraded",
				Message:  "no usable probe data; equipment held",
			})
		}
		c.lastCond.Stale = true
		c.advancePhase(ctx, rows, seq, now, Conditions{}, false, log)
		c.persistCycle(ctx, now, rows, log)
		return
	}
	if c.degraded {
		c.degraded = false
		log.Info("probe data recovered")
	}

	cond := conditionsFrom(usable, len(fresh) > 0)
	level := c.tracker.Level()
	c.lastCond = cond
	c.lastLevel = level
	if level >= Moderate {
		log.Warn("disturbance", "level", level)
	}

	if err := c.bounds.Check(cond); err != nil {
		log.Error("safety limit exceeded", "error", err,
			"temp_f", cond.TempF, "humidity", cond.Humidity)
		c.estopped.Store(true)
		if stopErr := c.rec.EmergencyStop(ctx); stopErr != nil {
			log.Error("emergency stop writes failed", "error", stopErr)
		}
		c.run.Active = false
		rows.alerts = append(rows.alerts, store.Alert{
			RunToken: c.run.Token,
			Seq:      seq,
			At:       now,
			Level:    store.AlertCritical,
			Code:     "safety_limit",
			Message:  err.Error(),
		})
		c.persistCycle(ctx, now, rows, log)
		return
	}

	c.advancePhase(ctx, rows, seq, now, cond, true, log)
	if !c.run.Active {
		// The schedule completed this cycle.
		c.persistCycle(ctx, now, rows, log)
		return
	}

	tgt := c.prof.Targets(c.run.PrevPhase, c.run.Phase, c.run.PhaseStart, now)
	c.lastTargets = tgt

	if c.run.Held {
		c.persistCycle(ctx, now, rows, log)
		return
	}

	p := c.eng.evaluate(evalInput{
		Now:        now,
		PhaseStart: c.run.PhaseStart,
		Targets:    tgt,
		Cond:       cond,
		Level:      level,
		ClimateF:   c.sentClimateF,
	})
	c.apply(ctx, rows, seq, now, p, log)

	if c.estopped.Load() {
		// An emergency stop landed while we were applying; it wins.
		if err := c.rec.EmergencyStop(ctx); err != nil {
			log.Error("emergency stop reassert failed", "error", err)
		}
	}

	c.persistCycle(ctx, now, rows, log)
}

// maybeSync runs hardware drift correction on its slower cadence. The
// Reconciler logs individual corrections itself.
func (c *Controller) maybeSync(ctx context.Context, now time.Time, log *slog.Logger) {
	if c.cfg.SyncInterval() <= 0 || now.Sub(c.lastSync) < c.cfg.SyncInterval() {
		return
	}
	c.lastSync = now
	if _, err := c.rec.SyncFromHardware(ctx); err != nil {
		log.Warn("hardware drift sync failed", "error", err)
	}
}

// enforceForced re-asserts operator-forced states. Runs every cycle, run
// or no run: a forced actuator that drifted, or that sync corrected away
// from its forced value, snaps back here. Returns whether anything moved.
func (c *Controller) enforceForced(ctx context.Context, rows *cycleRows, seq int64, now time.Time, log *slog.Logger) bool {
	changed := false
	for _, id := range hardware.AllEquipment() {
		var want bool
		switch c.modes[id] {
		case ForcedOn:
			want = true
		case ForcedOff:
			want = false
		default:
			continue
		}
		if c.rec.State(id) == want {
			continue
		}
		if err := c.rec.Apply(ctx, id, want); err != nil {
			log.Warn("forced mode apply failed", "equipment", id, "error", err)
			continue
		}
		changed = true
		log.Info("forced mode re-asserted", "equipment", id, "state", stateWord(want))
		if rows != nil && c.run.Token != "" {
			rows.transitions = append(rows.transitions, store.Transition{
				RunToken:  c.run.Token,
				Seq:       seq,
				At:        now,
				Equipment: id,
				On:        want,
				Cause:     "forced mode",
			})
		}
	}
	return changed
}

// advancePhase walks the phase clock forward. Time-based advancement
// crosses as many boundaries as have elapsed, so a long outage is caught
// up in one cycle; the water-activity early exit short-circuits DryFinal
// and Cure into Storage. haveCond gates the early exit when the cycle
// has no usable sensor data.
func (c *Controller) advancePhase(ctx context.Context, rows *cycleRows, seq int64, now time.Time, cond Conditions, haveCond bool, log *slog.Logger) {
	for {
		spec, ok := c.prof.Spec(c.run.Phase)
		if !ok || spec.Duration <= 0 {
			break
		}
		boundary := c.run.PhaseStart.Add(spec.Duration)
		if now.Before(boundary) {
			break
		}
		next, ok := c.nextPhase(c.run.Phase)
		if !ok {
			c.enterPhase(rows, seq, profile.Complete, boundary, "schedule elapsed", log)
			c.completeRun(ctx, rows, seq, boundary, log)
			return
		}
		c.enterPhase(rows, seq, next, boundary, "schedule elapsed", log)
	}

	if haveCond && (c.run.Phase == profile.DryFinal || c.run.Phase == profile.Cure) &&
		cond.WaterActivity <= c.prof.WaterActivityTarget {
		if _, ok := c.prof.Spec(profile.Storage); ok {
			c.enterPhase(rows, seq, profile.Storage, now,
				fmt.Sprintf("water activity %.3f at target %.2f",
					cond.WaterActivity, c.prof.WaterActivityTarget), log)
		}
	}
}

// nextPhase returns the phase after p in the profile's order, false when
// p is the profile's last phase.
func (c *Controller) nextPhase(p profile.Phase) (profile.Phase, bool) {
	for i, ps := range c.prof.Phases {
		if ps.Phase == p && i+1 < len(c.prof.Phases) {
			return c.prof.Phases[i+1].Phase, true
		}
	}
	return profile.Complete, false
}

// enterPhase performs one forward transition: PrevPhase is kept for the
// cross-boundary setpoint blend, and the event row records why.
func (c *Controller) enterPhase(rows *cycleRows, seq int64, next profile.Phase, at time.Time, cause string, log *slog.Logger) {
	log.Info("phase transition", "from", c.run.Phase, "to", next, "cause", cause)
	c.run.PrevPhase = c.run.Phase
	c.run.Phase = next
	c.run.PhaseStart = at
	rows.events = append(rows.events, store.PhaseEvent{
		RunToken: c.run.Token,
		Seq:      seq,
		At:       at,
		Phase:    next,
		Cause:    cause,
	})
}

// completeRun ends a run whose schedule has fully elapsed: auto-mode
// equipment shuts down gracefully and the run row closes as completed.
func (c *Controller) completeRun(ctx context.Context, rows *cycleRows, seq int64, at time.Time, log *slog.Logger) {
	log.Info("run complete", "run", c.run.Token, "elapsed", at.Sub(c.run.ProcessStart))
	if err := c.st.CloseRun(ctx, c.run.Token, at, store.OutcomeCompleted); err != nil {
		log.Error("failed to close run", "run", c.run.Token, "error", err)
	}
	c.shutdownEquipment(ctx, rows, seq, at, "run complete", log)
	c.run = ProcessRun{}
	c.eng.reset()
	c.sentClimateF = 0
}

// shutdownEquipment drives every auto-mode actuator off, recording the
// transitions. Forced modes stay the operator's call.
func (c *Controller) shutdownEquipment(ctx context.Context, rows *cycleRows, seq int64, at time.Time, cause string, log *slog.Logger) {
	for _, id := range hardware.AllEquipment() {
		if c.modes[id] != Auto || !c.rec.State(id) {
			continue
		}
		if err := c.rec.Apply(ctx, id, false); err != nil {
			log.Warn("shutdown write failed", "equipment", id, "error", err)
			continue
		}
		if rows != nil && c.run.Token != "" {
			rows.transitions = append(rows.transitions, store.Transition{
				RunToken:  c.run.Token,
				Seq:       seq,
				At:        at,
				Equipment: id,
				On:        false,
				Cause:     cause,
			})
		}
	}
}

// apply drives the plan through the reconciler for every auto-mode
// actuator and records a transition row per confirmed change. A write
// that fails leaves the mirror untouched; the diff persists and the
// write retries next cycle.
func (c *Controller) apply(ctx context.Context, rows *cycleRows, seq int64, now time.Time, p plan, log *slog.Logger) {
	for _, id := range hardware.AllEquipment() {
		if c.modes[id] != Auto {
			continue
		}
		if c.estopped.Load() {
			return
		}
		want := p.desired[id]
		if c.rec.State(id) == want {
			continue
		}
		if err := c.rec.Apply(ctx, id, want); err != nil {
			log.Warn("actuator write failed, retrying next cycle",
				"equipment", id, "want", stateWord(want), "error", err)
			continue
		}
		cause := p.cause[id]
		if cause == "" {
			cause = "decision"
		}
		log.Info("equipment switched", "equipment", id, "state", stateWord(want), "cause", cause)
		rows.transitions = append(rows.transitions, store.Transition{
			RunToken:  c.run.Token,
			Seq:       seq,
			At:        now,
			Equipment: id,
			On:        want,
			Cause:     cause,
		})
	}

	if p.climateF != 0 && p.climateF != c.sentClimateF {
		if err := c.climate.SetTemperatureTarget(ctx, p.climateF); err != nil {
			log.Warn("climate setpoint write failed", "target_f", p.climateF, "error", err)
		} else {
			c.sentClimateF = p.climateF
			log.Info("climate setpoint", "target_f", p.climateF)
		}
	}
}

// persistCycle appends the cycle's history rows in one transaction and
// saves the snapshot. Failures are logged, never fatal: the next cycle
// retries with fresh data, and the snapshot file on disk stays whole
// either way.
func (c *Controller) persistCycle(ctx context.Context, now time.Time, rows *cycleRows, log *slog.Logger) {
	if len(rows.readings)+len(rows.transitions)+len(rows.events)+len(rows.alerts) > 0 {
		if err := c.st.WriteCycle(ctx, rows.readings, rows.transitions, rows.events, rows.alerts); err != nil {
			log.Error("history append failed", "error", err)
		}
	}
	c.notify = append(c.notify, rows.alerts...)
	c.persistState(now, log)
}

// persistState writes the crash-safe snapshot.
func (c *Controller) persistState(now time.Time, log *slog.Logger) {
	if err := store.SaveSnapshot(c.snapPath, c.snapshotLocked(now)); err != nil {
		log.Error("snapshot save failed", "path", c.snapPath, "error", err)
	}
}

// snapshotLocked renders the persisted view of current state. Caller
// holds c.mu.
func (c *Controller) snapshotLocked(now time.Time) store.Snapshot {
	return store.Snapshot{
		Active:             c.run.Active,
		EmergencyStopped:   c.estopped.Load(),
		Held:               c.run.Held,
		RunToken:           c.run.Token,
		ProfileName:        c.run.ProfileName,
		ProfileFingerprint: c.run.Fingerprint,
		Phase:              c.run.Phase,
		PrevPhase:          c.run.PrevPhase,
		ProcessStart:       c.run.ProcessStart,
		PhaseStart:         c.run.PhaseStart,
		ClimateSetpointF:   c.sentClimateF,
		Equipment:          c.rec.States().ToMap(),
		SavedAt:            now,
	}
}

func stateWord(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
