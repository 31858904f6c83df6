// Package migration defines the run and project model shared by the pipeline:
// run modes and statuses, the fixed stage order, per-project stage status with
// its monotonic transition rules, and the typed run configuration snapshot.
package migration
