// Package store persists migration runs, their projects and progress snapshots.
// MemoryRepository serves tests and one-shot CLI runs; GormRepository keeps runs
// in SQLite so an interrupted run can be resumed by a later process.
package store
