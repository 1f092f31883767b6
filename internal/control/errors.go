package control

import (
	"errors"

	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/store"
)

// The control error taxonomy. Callers classify with errors.Is; only
// ErrPersistenceCorrupt and ErrSafetyLimit ever force equipment off.
// Everything else degrades and keeps the process running, because halting
// unattended drying mid-run has real product cost.
var (
	// ErrInvalidCommand rejects an operator command that does not apply
	// to the current run state. Nothing is mutated.
	ErrInvalidCommand = errors.New("invalid operator command")

	// ErrSafetyLimit is a temperature or humidity excursion beyond the
	// configured emergency bounds. It takes the same path as an operator
	// emergency stop.
	ErrSafetyLimit = errors.New("safety limit exceeded")

	// Boundary errors re-exported so callers can classify a cycle
	// failure without importing the producing package.
	ErrSensorUnavailable  = hardware.ErrSensor
	ErrActuatorWrite      = hardware.ErrWrite
	ErrPersistenceCorrupt = store.ErrCorrupt
)
