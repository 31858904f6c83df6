// Package engine assembles the migration pipeline from a run configuration: the
// command executor, platform clients, stage handlers, run store, progress hub and
// orchestrators.
package engine
