// Package ui renders human-readable console feedback for migration runs.
//
// Command lifecycle events and run progress updates are translated into concise
// lines for CLI users while detailed telemetry continues to flow through
// structured loggers.
package ui
