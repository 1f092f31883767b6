package hardware

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the hardware boundary. Callers classify with errors.Is;
// the wrapped text carries the device-level cause.
var (
	// ErrWrite is an actuator write that did not confirm. The mirror is
	// left untouched and the write is retried on the next cycle.
	ErrWrite = errors.New("actuator write failed")

	// ErrRead is a failed read-back of an output line during drift sync.
	ErrRead = errors.New("output read failed")

	// ErrSensor is a probe that could not produce a reading this cycle.
	// The control layer falls back to last-known-good within its
	// staleness budget.
	ErrSensor = errors.New("sensor unavailable")
)

// Reading is one parsed probe sample. Temperatures are Fahrenheit end to
// end in the control layer; drivers convert at this boundary.
type Reading struct {
	ProbeID      string
	TemperatureF float64
	Humidity     float64
	At           time.Time
}

// Port is the relay-output boundary. Implementations must be safe for use
// from the control loop plus emergency-stop calls from other goroutines,
// must honor context cancellation, and must never block indefinitely.
type Port interface {
	// SetOutput drives the logical state; the implementation owns polarity
	// (the chamber's relay board is active-low: logical ON is electrically
	// low).
	SetOutput(ctx context.Context, id EquipmentID, on bool) error

	// ReadOutput returns the live logical state of the output line, used
	// by drift sync to correct the mirror.
	ReadOutput(ctx context.Context, id EquipmentID) (bool, error)
}

// Climate is the temperature-setpoint boundary of the heat-pump unit. The
// core rate-limits the target; the transport (IR bridge, LAN protocol) is
// somebody else's problem behind this interface.
type Climate interface {
	SetTemperatureTarget(ctx context.Context, fahrenheit float64) error
}

// SensorSource produces probe readings. A failed read returns an error
// wrapping ErrSensor and must not block past the context deadline.
type SensorSource interface {
	Read(ctx context.Context, probeID string) (Reading, error)
	Probes() []string
}
