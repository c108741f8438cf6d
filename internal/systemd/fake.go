// SPDX-License-Identifier: MIT

package systemd

import (
	"context"
	"sync"
)

// Fake is an in-memory Supervisor for tests: units exist or run exactly
// as told, and every call is observable.
type Fake struct {
	mu      sync.Mutex
	running map[string]bool
	known   map[string]bool

	// FailStart makes CreateAndStart fail for the listed handles.
	FailStart map[string]error

	Started []string
	Stopped []string
}

// NewFake returns an empty fake supervisor.
func NewFake() *Fake {
	return &Fake{
		running: make(map[string]bool),
		known:   make(map[string]bool),
	}
}

// SetRunning seeds a unit as existing and running (or not).
func (f *Fake) SetRunning(handle string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[handle] = true
	f.running[handle] = running
}

// CreateAndStart implements Supervisor.
func (f *Fake) CreateAndStart(_ context.Context, handle, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailStart[handle]; ok {
		return err
	}
	f.known[handle] = true
	f.running[handle] = true
	f.Started = append(f.Started, handle)
	return nil
}

// Stop implements Supervisor.
func (f *Fake) Stop(_ context.Context, handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, handle)
	delete(f.known, handle)
	f.Stopped = append(f.Stopped, handle)
}

// IsRunning implements Supervisor.
func (f *Fake) IsRunning(_ context.Context, handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[handle]
}

// RunningUnits implements Supervisor.
func (f *Fake) RunningUnits(context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.running))
	for h, r := range f.running {
		if r {
			out[h] = true
		}
	}
	return out, nil
}

// Units implements Supervisor.
func (f *Fake) Units(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.known))
	for h := range f.known {
		out = append(out, h)
	}
	return out, nil
}
