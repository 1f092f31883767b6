// Package control is the heart of the chamber: a fixed-cadence cycle that
// reads the probes, derives the psychrometric picture, advances the phase
// schedule, decides per-actuator states and records what happened.
//
// One Controller owns all mutable run state. Cycles and operator commands
// serialize on the controller lock; readers get copies through Status,
// never live references. The emergency stop is the one cross-cutting
// path: it latches an atomic flag any goroutine may set and drives the
// hardware off through the Reconciler's own lock without waiting for the
// cycle in flight.
package control
