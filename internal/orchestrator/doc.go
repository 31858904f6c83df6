// Package orchestrator drives migration runs.
//
// RunOrchestrator moves one run's projects through the stage range of its mode,
// persisting and publishing progress after every stage transition. BatchOrchestrator
// starts one run per project under a bounded worker pool; all runs of a batch share
// one SharedResources API-call budget.
package orchestrator
