// Package progress publishes run progress updates and serves them over HTTP.
//
// The orchestrator reports every stage transition to a Publisher. Hub fans updates
// out to subscribers without blocking the publisher, and NewServer exposes the latest
// persisted snapshot as JSON plus a websocket stream of live updates.
package progress
