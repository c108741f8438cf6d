// SPDX-License-Identifier: MIT

// Package systemd adapts the OS process supervisor: one restart-always
// FFmpeg unit per session, named stream-<handle>.service.
package systemd

import "context"

// Supervisor is the process-supervisor contract the core depends on.
// The systemd manager implements it; tests use the Fake.
type Supervisor interface {
	// CreateAndStart synthesizes the unit for a looped playback of
	// videoPath pushed to rtmpBase/streamKey, registers it and starts
	// it. The unit is verified alive after a short settle delay.
	CreateAndStart(ctx context.Context, handle, videoPath, rtmpBase, streamKey string) error

	// Stop best-effort stops, disables and removes the unit. It never
	// reports failure: the goal state (not running) may already hold,
	// so problems are logged and swallowed.
	Stop(ctx context.Context, handle string)

	// IsRunning is a point-in-time liveness query for one unit.
	IsRunning(ctx context.Context, handle string) bool

	// RunningUnits enumerates the handles of all live stream units in a
	// single query, so reconciliation sees one consistent snapshot
	// instead of skewed per-session reads.
	RunningUnits(ctx context.Context) (map[string]bool, error)

	// Units enumerates the handles of all stream units known to the
	// supervisor, running or not. Used by orphan-unit cleanup.
	Units(ctx context.Context) ([]string, error)
}
