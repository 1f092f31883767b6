package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
)

// ErrCorrupt reports that a snapshot file exists but cannot be trusted.
// The caller must fall back to idle with all equipment off and require an
// explicit operator start; guessing at control state is not an option.
var ErrCorrupt = errors.New("snapshot corrupt")

// Snapshot is the crash-safe control state persisted after every cycle and
// on every lifecycle change. It is the authoritative recovery record: after
// a restart the controller resumes the run from these fields with the
// original process timestamps, so phase scheduling is unaffected by downtime.
type Snapshot struct {
	Active           bool `json:"active"`
	EmergencyStopped bool `json:"emergency_stopped"`
	Held             bool `json:"held"`

	RunToken           string `json:"run_token,omitempty"`
	ProfileName        string `json:"profile_name,omitempty"`
	ProfileFingerprint string `json:"profile_fingerprint,omitempty"`

	Phase     profile.Phase `json:"phase"`
	PrevPhase profile.Phase `json:"prev_phase"`

	ProcessStart time.Time `json:"process_start"`
	PhaseStart   time.Time `json:"phase_start"`

	ClimateSetpointF float64           `json:"climate_setpoint_f"`
	Equipment        map[string]string `json:"equipment"`

	SavedAt time.Time `json:"saved_at"`
}

// validate rejects snapshots that parsed as JSON but cannot describe a real
// control state.
func (snap Snapshot) validate() error {
	if _, err := hardware.StatesFromMap(snap.Equipment); err != nil {
		return err
	}
	if snap.Active {
		if snap.RunToken == "" {
			return errors.New("active snapshot missing run token")
		}
		if snap.ProcessStart.IsZero() {
			return errors.New("active snapshot missing process start")
		}
	}
	return nil
}

// SaveSnapshot atomically writes the snapshot to path. The bytes go to a
// temp file in the same directory which is fsynced, closed and renamed over
// the target, so a crash at any point leaves either the previous snapshot or
// the new one on disk, never a torn file.
func SaveSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("save snapshot: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("save snapshot: rename: %w", err)
	}

	return nil
}

// LoadSnapshot reads the snapshot at path. found is false with a nil error
// when no snapshot exists, which is a normal first boot. A file that exists
// but does not parse or validate returns an error matching ErrCorrupt.
func LoadSnapshot(path string) (Snapshot, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot %s: %w: %v", path, ErrCorrupt, err)
	}
	if err := snap.validate(); err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot %s: %w: %v", path, ErrCorrupt, err)
	}

	return snap, true, nil
}

// EquipmentStates decodes the snapshot's equipment map. Only valid on a
// snapshot that passed LoadSnapshot, where the map is already validated.
func (snap Snapshot) EquipmentStates() hardware.States {
	states, err := hardware.StatesFromMap(snap.Equipment)
	if err != nil {
		return hardware.States{}
	}
	return states
}
