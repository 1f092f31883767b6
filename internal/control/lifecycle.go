package control

import (
	"context"
	"fmt"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/store"
)

// Start begins a run of the compiled profile from its first phase. With
// resumeFromEmergency set it instead lifts an emergency latch and
// resumes the frozen run where it stopped; equipment is re-driven from
// software state on the next cycle.
func (c *Controller) Start(ctx context.Context, resumeFromEmergency bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if resumeFromEmergency {
		if !c.estopped.Load() || c.run.ProcessStart.IsZero() {
			return fmt.Errorf("%w: no emergency-stopped run to resume", ErrInvalidCommand)
		}
		c.estopped.Store(false)
		c.run.Active = true
		c.pendingForceApply = true
		c.persistState(now, c.log)
		c.log.Info("resumed from emergency stop", "run", c.run.Token, "phase", c.run.Phase)
		return nil
	}

	if c.run.Active {
		return fmt.Errorf("%w: process already active", ErrInvalidCommand)
	}
	if c.estopped.Load() {
		return fmt.Errorf("%w: emergency stop latched; resume or stop first", ErrInvalidCommand)
	}

	token := c.tokens()
	first := c.prof.First()
	if err := c.st.OpenRun(ctx, store.Run{
		Token:              token,
		ProfileName:        c.prof.Name,
		ProfileFingerprint: c.fp,
		StartedAt:          now,
	}); err != nil {
		return fmt.Errorf("failed to open run: %w", err)
	}
	c.run = ProcessRun{
		Token:        token,
		ProfileName:  c.prof.Name,
		Fingerprint:  c.fp,
		Phase:        first,
		PrevPhase:    first,
		ProcessStart: now,
		PhaseStart:   now,
		Active:       true,
	}
	c.eng.reset()
	c.sentClimateF = 0
	c.degraded = false
	c.pendingForceApply = true
	if err := c.st.WritePhaseEvent(ctx, store.PhaseEvent{
		RunToken: token,
		Seq:      c.clock.Next(),
		At:       now,
		Phase:    first,
		Cause:    "start",
	}); err != nil {
		c.log.Error("failed to record start event", "error", err)
	}
	c.persistState(now, c.log)
	c.log.Info("process started", "run", token, "profile", c.prof.Name, "phase", first)
	return nil
}

// Stop ends the active run, or clears an emergency latch, returning the
// chamber to idle with auto-mode equipment off. Forced modes survive: a
// stop ends the process, not the operator's overrides.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if !c.run.Active && !c.estopped.Load() {
		return fmt.Errorf("%w: no process to stop", ErrInvalidCommand)
	}

	outcome := store.OutcomeStopped
	if c.estopped.Load() {
		outcome = store.OutcomeEmergencyStop
	}
	if c.run.Token != "" {
		if err := c.st.CloseRun(ctx, c.run.Token, now, outcome); err != nil {
			c.log.Error("failed to close run", "run", c.run.Token, "error", err)
		}
	}

	rows := &cycleRows{}
	if !c.estopped.Load() {
		c.shutdownEquipment(ctx, rows, c.clock.Next(), now, "process stopped", c.log)
	}
	c.estopped.Store(false)
	c.run = ProcessRun{}
	c.eng.reset()
	c.sentClimateF = 0
	c.degraded = false
	if len(rows.transitions) > 0 {
		if err := c.st.WriteCycle(ctx, nil, rows.transitions, nil, nil); err != nil {
			c.log.Error("failed to record stop transitions", "error", err)
		}
	}
	c.persistState(now, c.log)
	c.log.Info("process stopped", "outcome", outcome)
	return nil
}

// Hold suspends decision making and freezes equipment in place. The
// phase clock keeps running: the product keeps drying no matter what the
// software is doing.
func (c *Controller) Hold() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.run.Active {
		return fmt.Errorf("%w: no active process to hold", ErrInvalidCommand)
	}
	if c.run.Held {
		return fmt.Errorf("%w: process already held", ErrInvalidCommand)
	}
	c.run.Held = true
	c.persistState(c.now(), c.log)
	c.log.Info("process held", "run", c.run.Token)
	return nil
}

// Resume lifts a hold; decisions restart on the next cycle.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.run.Active || !c.run.Held {
		return fmt.Errorf("%w: no held process to resume", ErrInvalidCommand)
	}
	c.run.Held = false
	c.persistState(c.now(), c.log)
	c.log.Info("process resumed", "run", c.run.Token)
	return nil
}

// EmergencyStop latches the controller and drives every actuator off,
// callable from any goroutine. The latch is set before the hardware
// writes, so a cycle in flight cannot re-energize anything afterward.
// The run is frozen with its phase and timestamps retained, waiting on
// Start(resumeFromEmergency) or Stop. The returned error reports
// hardware writes that did not confirm; the latch holds regardless.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.estopped.Store(true)
	hwErr := c.rec.EmergencyStop(ctx)

	c.mu.Lock()
	now := c.now()
	c.run.Active = false
	if hwErr != nil {
		c.log.Error("emergency stop with failed writes", "run", c.run.Token, "error", hwErr)
	} else {
		c.log.Error("emergency stop", "run", c.run.Token)
	}
	alert := store.Alert{
		RunToken: c.run.Token,
		Seq:      c.clock.Next(),
		At:       now,
		Level:    store.AlertCritical,
		Code:     "emergency_stop",
		Message:  "operator emergency stop",
	}
	if err := c.st.WriteAlert(ctx, alert); err != nil {
		c.log.Error("failed to record emergency stop alert", "error", err)
	}
	c.persistState(now, c.log)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.AlertRaised(alert)
	}
	return hwErr
}

// SetControlMode sets the operator authority for one actuator. Forced
// states apply immediately and re-assert every cycle; Auto hands the
// actuator back to the decision engine on the next cycle. Under an
// emergency latch the mode is recorded but nothing moves until resume.
func (c *Controller) SetControlMode(ctx context.Context, id hardware.EquipmentID, mode ControlMode) error {
	if !id.Valid() {
		return fmt.Errorf("%w: unknown equipment id %d", ErrInvalidCommand, int(id))
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown control mode %d", ErrInvalidCommand, int(mode))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.modes[id] = mode
	c.log.Info("control mode set", "equipment", id, "mode", mode)

	var want bool
	switch mode {
	case ForcedOn:
		want = true
	case ForcedOff:
		want = false
	default:
		return nil
	}
	if c.estopped.Load() {
		c.log.Warn("forced state deferred by emergency latch", "equipment", id)
		return nil
	}
	if c.rec.State(id) == want {
		return nil
	}
	if err := c.rec.Apply(ctx, id, want); err != nil {
		return fmt.Errorf("failed to apply forced state: %w", err)
	}
	if c.run.Token != "" {
		if err := c.st.WriteTransition(ctx, store.Transition{
			RunToken:  c.run.Token,
			Seq:       c.clock.Next(),
			At:        now,
			Equipment: id,
			On:        want,
			Cause:     "forced mode",
		}); err != nil {
			c.log.Error("failed to record forced transition", "error", err)
		}
	}
	c.persistState(now, c.log)
	return nil
}
