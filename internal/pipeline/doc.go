// Package pipeline implements the per-project stage state machine. Advance
// enforces stage ordering, runs the registered StageHandler and records the
// outcome on the project; callers drive stages one at a time.
package pipeline
