package control

import (
	"context"

	"github.com/drydenhq/dryden/internal/store"
)

// Recover loads the persisted snapshot and restores whatever state it
// describes: an active run resumes mid-phase, an emergency-stopped run
// comes back frozen, an idle snapshot just restores the equipment
// mirror. Call once before the loop starts. A corrupt snapshot fails
// safe: the controller stays idle and the error, wrapping
// ErrPersistenceCorrupt, is returned for the operator to act on.
func (c *Controller) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, found, err := store.LoadSnapshot(c.snapPath)
	if err != nil {
		c.log.Error("snapshot unreadable, staying idle", "path", c.snapPath, "error", err)
		return err
	}
	if !found {
		c.log.Info("no snapshot, starting idle", "path", c.snapPath)
		return nil
	}

	c.rec.SetMirror(snap.EquipmentStates())
	c.sentClimateF = snap.ClimateSetpointF
	c.estopped.Store(snap.EmergencyStopped)

	if !snap.Active && !snap.EmergencyStopped {
		c.log.Info("restored idle state", "saved_at", snap.SavedAt)
		return nil
	}

	c.run = ProcessRun{
		Token:        snap.RunToken,
		ProfileName:  snap.ProfileName,
		Fingerprint:  snap.ProfileFingerprint,
		Phase:        snap.Phase,
		PrevPhase:    snap.PrevPhase,
		ProcessStart: snap.ProcessStart,
		PhaseStart:   snap.PhaseStart,
		Active:       snap.Active,
		Held:         snap.Held,
	}
	if snap.ProfileFingerprint != "" && snap.ProfileFingerprint != c.fp {
		c.log.Warn("recipe changed since the run started; continuing with the current recipe",
			"run_fingerprint", snap.ProfileFingerprint, "current_fingerprint", c.fp)
	}
	if snap.Active {
		c.pendingForceApply = true
		c.log.Info("resuming run from snapshot",
			"run", c.run.Token, "phase", c.run.Phase,
			"phase_start", c.run.PhaseStart, "held", c.run.Held)
	} else {
		c.log.Warn("emergency-stopped run restored; resume or stop to proceed",
			"run", c.run.Token, "phase", c.run.Phase)
	}
	return nil
}
