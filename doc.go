// Package krate is a type-directed dependency-injection container for Go.
//
// Unlike the explicit-wiring helpers this project started from, krate owns the
// whole object graph: named component definitions with parent/child merging,
// a cycle-safe singleton cache, type-directed autowiring with deterministic
// tie-breaking, and an all-or-nothing bootstrap/shutdown state machine.
//
// See subpackages:
//   - container: the container core (definitions, resolution, lifecycle)
//   - event: buffering, priority-ordered event bus with parent propagation
//   - props: property sources used for required-configuration validation
//   - examples/basic: a runnable composition-root walkthrough
package krate
