// Package runs exposes read-only inspection of stored migration runs and the
// maintenance of per-project export checkpoints.
package runs
