package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Reconciler owns the in-memory mirror of actuator state and keeps it honest
// against the physical outputs.
//
// Invariants:
//   - The mirror changes on a normal Apply only after the port confirms the
//     write. A failed write leaves the mirror stale and surfaces the error;
//     the next cycle retries.
//   - EmergencyStop is the one exception: it forces the mirror to all-off
//     unconditionally, because the safest belief after a failed panic write
//     is still "everything should be off" and the periodic sync will report
//     any line that disagrees.
//   - All methods are safe for concurrent use. Normal operation funnels
//     every call through the control loop; EmergencyStop may additionally
//     arrive from any goroutine at any time, which is why the internal lock
//     honors context cancellation instead of blocking forever behind a
//     wedged I/O call.
type Reconciler struct {
	port Port
	log  *slog.Logger

	// stagger spaces energizations during a bulk re-apply so six relay
	// coils plus their loads never slam on in the same instant.
	stagger time.Duration
	sleep   func(time.Duration)

	mu     chan struct{} // semaphore; see lock()
	mirror States
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithStagger overrides the delay between energizations in ForceApplyAll.
// Tests use zero.
func WithStagger(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.stagger = d }
}

// withSleep replaces the stagger sleeper, for tests that assert on it.
func withSleep(f func(time.Duration)) ReconcilerOption {
	return func(r *Reconciler) { r.sleep = f }
}

// NewReconciler starts with an all-off mirror; callers restoring from a
// snapshot seed it with SetMirror before ForceApplyAll.
func NewReconciler(port Port, log *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		port:    port,
		log:     log,
		stagger: 500 * time.Millisecond,
		sleep:   time.Sleep,
		mu:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lock acquires the reconciler, honoring context cancellation so a hardware
// call stuck under the lock cannot also wedge an emergency stop forever.
func (r *Reconciler) lock(ctx context.Context) error {
	select {
	case r.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) unlock() { <-r.mu }

// Apply drives one actuator to the desired logical state. Writing the state
// the mirror already holds is a no-op, so steady-state cycles do not chatter
// the relays.
func (r *Reconciler) Apply(ctx context.Context, id EquipmentID, on bool) error {
	if !id.Valid() {
		return fmt.Errorf("apply: invalid equipment id %d", int(id))
	}
	if err := r.lock(ctx); err != nil {
		return fmt.Errorf("apply %s: %w", id, err)
	}
	defer r.unlock()

	if r.mirror[id] == on {
		return nil
	}
	if err := r.port.SetOutput(ctx, id, on); err != nil {
		r.log.Error("actuator write failed; mirror left stale",
			"equipment", id.String(), "desired", on, "err", err)
		return err
	}
	r.mirror[id] = on
	r.log.Info("actuator switched", "equipment", id.String(), "on", on)
	return nil
}

// SyncFromHardware reads every output line and overwrites the mirror where
// it disagrees, logging each correction. Run periodically to bound drift
// between commanded and physical reality. Returns the corrected equipment;
// read errors are joined but do not stop the pass.
func (r *Reconciler) SyncFromHardware(ctx context.Context) ([]EquipmentID, error) {
	if err := r.lock(ctx); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	defer r.unlock()

	var corrected []EquipmentID
	var errs []error
	for _, id := range AllEquipment() {
		actual, err := r.port.ReadOutput(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if actual != r.mirror[id] {
			r.log.Warn("mirror drift corrected from hardware",
				"equipment", id.String(), "mirror", r.mirror[id], "actual", actual)
			r.mirror[id] = actual
			corrected = append(corrected, id)
		}
	}
	return corrected, errors.Join(errs...)
}

// ForceApplyAll re-asserts the entire mirror onto the hardware, bypassing
// the no-op shortcut. Used once on every inactive-to-active transition
// (startup resume, emergency-stop recovery), where the relays' physical
// state cannot be trusted to match software expectation. Energizations are
// staggered; de-energizations are immediate.
//
// Idempotent: a second call commands the same states again.
func (r *Reconciler) ForceApplyAll(ctx context.Context) error {
	if err := r.lock(ctx); err != nil {
		return fmt.Errorf("force apply: %w", err)
	}
	defer r.unlock()

	var errs []error
	first := true
	for _, id := range AllEquipment() {
		on := r.mirror[id]
		if on && !first && r.stagger > 0 {
			r.sleep(r.stagger)
		}
		if err := r.port.SetOutput(ctx, id, on); err != nil {
			errs = append(errs, err)
			continue
		}
		if on {
			first = false
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("force apply: %w", err)
	}
	r.log.Info("mirror force-applied to hardware", "states", r.mirror.ToMap())
	return nil
}

// EmergencyStop synchronously drives every actuator off and forces the
// mirror to all-off regardless of write outcomes. It bypasses the no-op
// shortcut, dwell timers and control modes; it is the only operation allowed
// to do so. Write failures are reported after every line has been attempted.
func (r *Reconciler) EmergencyStop(ctx context.Context) error {
	if err := r.lock(ctx); err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	defer r.unlock()

	var errs []error
	for _, id := range AllEquipment() {
		if err := r.port.SetOutput(ctx, id, false); err != nil {
			errs = append(errs, err)
		}
		r.mirror[id] = false
	}
	if err := errors.Join(errs...); err != nil {
		r.log.Error("emergency stop completed with write failures", "err", err)
		return fmt.Errorf("emergency stop: %w", err)
	}
	r.log.Warn("emergency stop: all actuators driven off")
	return nil
}

// States returns a copy of the mirror.
func (r *Reconciler) States() States {
	r.mu <- struct{}{}
	defer r.unlock()
	return r.mirror
}

// State returns the mirrored state of one actuator.
func (r *Reconciler) State(id EquipmentID) bool {
	r.mu <- struct{}{}
	defer r.unlock()
	if !id.Valid() {
		return false
	}
	return r.mirror[id]
}

// SetMirror seeds the mirror, used when restoring a snapshot before the
// first ForceApplyAll. Not for normal operation.
func (r *Reconciler) SetMirror(s States) {
	r.mu <- struct{}{}
	defer r.unlock()
	r.mirror = s
}
