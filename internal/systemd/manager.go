// SPDX-License-Identifier: MIT

package systemd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
)

const unitPrefix = "stream-"

// Runner executes an external command and captures its output. It is an
// interface so unit tests can observe the exact systemctl invocations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.String(), errb.String(), err
}

// Options configure the systemd manager.
type Options struct {
	// UnitDir is where unit files are written (default /etc/systemd/system).
	UnitDir string
	// StartSettle is the delay before start verification re-checks
	// liveness, catching immediate process crashes.
	StartSettle time.Duration
	// StopTimeout bounds the blocking systemctl stop call.
	StopTimeout time.Duration
	// Runner overrides command execution (tests).
	Runner Runner
	// Sleep overrides the settle wait (tests).
	Sleep func(time.Duration)
}

// Manager is the systemd-backed Supervisor.
type Manager struct {
	unitDir     string
	startSettle time.Duration
	stopTimeout time.Duration
	runner      Runner
	sleep       func(time.Duration)
	log         zerolog.Logger
}

// NewManager builds a Manager, filling unset options with defaults.
func NewManager(opts Options) *Manager {
	if opts.UnitDir == "" {
		opts.UnitDir = "/etc/systemd/system"
	}
	if opts.StartSettle == 0 {
		opts.StartSettle = 2 * time.Second
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 15 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = execRunner{}
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Manager{
		unitDir:     opts.UnitDir,
		startSettle: opts.StartSettle,
		stopTimeout: opts.StopTimeout,
		runner:      opts.Runner,
		sleep:       opts.Sleep,
		log:         log.WithComponent("systemd"),
	}
}

// UnitName returns the full unit name for a service handle.
func UnitName(handle string) string {
	return unitPrefix + handle + ".service"
}

// HandleFromUnit extracts the service handle from a stream unit name.
// The second result is false for units outside our namespace.
func HandleFromUnit(unit string) (string, bool) {
	if !strings.HasPrefix(unit, unitPrefix) || !strings.HasSuffix(unit, ".service") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(unit, unitPrefix), ".service"), true
}

// unitContent renders the restart-always looped FFmpeg playback unit.
func unitContent(handle, videoPath, rtmpBase, streamKey string) string {
	target := strings.TrimRight(rtmpBase, "/") + "/" + streamKey
	return fmt.Sprintf(`[Unit]
Description=Restream session %s
After=network.target

[Service]
Type=simple
ExecStart=/usr/bin/ffmpeg -re -stream_loop -1 -i "%s" -c:v libx264 -preset veryfast -maxrate 3000k -bufsize 6000k -pix_fmt yuv420p -g 50 -c:a aac -b:a 160k -ac 2 -ar 44100 -f flv "%s"
Restart=always
RestartSec=5
StandardOutput=journal
StandardError=journal
TimeoutStopSec=30

[Install]
WantedBy=multi-user.target
`, handle, videoPath, target)
}

// CreateAndStart implements Supervisor.
func (m *Manager) CreateAndStart(ctx context.Context, handle, videoPath, rtmpBase, streamKey string) error {
	unit := UnitName(handle)
	path := filepath.Join(m.unitDir, unit)

	content := unitContent(handle, videoPath, rtmpBase, streamKey)
	if err := renameio.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write unit %s: %w", unit, err)
	}
	if _, stderr, err := m.runner.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload for %s: %w (stderr: %s)", unit, err, strings.TrimSpace(stderr))
	}
	if stdout, stderr, err := m.runner.Run(ctx, "systemctl", "start", unit); err != nil {
		m.log.Error().
			Str("event", "systemd.start_failed").
			Str("unit", unit).
			Str("stdout", strings.TrimSpace(stdout)).
			Str("stderr", strings.TrimSpace(stderr)).
			Err(err).
			Msg("unit failed to start")
		return fmt.Errorf("start unit %s: %w (stderr: %s)", unit, err, strings.TrimSpace(stderr))
	}

	// Re-check after a short settle delay to catch units that crash
	// immediately (bad stream key, unreadable video).
	m.sleep(m.startSettle)
	if !m.IsRunning(ctx, handle) {
		status, _, _ := m.runner.Run(ctx, "systemctl", "status", unit)
		m.log.Error().
			Str("event", "systemd.start_not_active").
			Str("unit", unit).
			Str("status", strings.TrimSpace(status)).
			Msg("unit not active after start")
		return fmt.Errorf("unit %s did not stay active after start", unit)
	}

	m.log.Info().
		Str("event", "systemd.unit_started").
		Str("unit", unit).
		Msg("unit created and running")
	return nil
}

// Stop implements Supervisor. Failures are logged, never returned.
func (m *Manager) Stop(ctx context.Context, handle string) {
	unit := UnitName(handle)

	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()
	if _, stderr, err := m.runner.Run(stopCtx, "systemctl", "stop", unit); err != nil {
		m.log.Warn().
			Str("event", "systemd.stop_failed").
			Str("unit", unit).
			Str("stderr", strings.TrimSpace(stderr)).
			Err(err).
			Msg("stopping unit failed, continuing")
	}
	if _, _, err := m.runner.Run(ctx, "systemctl", "disable", unit); err != nil {
		m.log.Debug().Str("unit", unit).Err(err).Msg("disable failed, continuing")
	}

	path := filepath.Join(m.unitDir, unit)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn().
			Str("event", "systemd.unit_remove_failed").
			Str("unit", unit).
			Err(err).
			Msg("removing unit file failed, continuing")
		return
	}
	if _, _, err := m.runner.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		m.log.Warn().Str("unit", unit).Err(err).Msg("daemon-reload after removal failed")
	}
	m.log.Info().
		Str("event", "systemd.unit_stopped").
		Str("unit", unit).
		Msg("unit stopped and removed")
}

// IsRunning implements Supervisor.
func (m *Manager) IsRunning(ctx context.Context, handle string) bool {
	stdout, _, _ := m.runner.Run(ctx, "systemctl", "is-active", UnitName(handle))
	return strings.TrimSpace(stdout) == "active"
}

// RunningUnits implements Supervisor.
func (m *Manager) RunningUnits(ctx context.Context) (map[string]bool, error) {
	return m.listUnits(ctx, true)
}

// Units implements Supervisor.
func (m *Manager) Units(ctx context.Context) ([]string, error) {
	set, err := m.listUnits(ctx, false)
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	return handles, nil
}

func (m *Manager) listUnits(ctx context.Context, runningOnly bool) (map[string]bool, error) {
	args := []string{"list-units", "--type=service", "--no-legend", "--no-pager", "--plain"}
	if runningOnly {
		args = append(args, "--state=running")
	} else {
		args = append(args, "--all")
	}
	stdout, stderr, err := m.runner.Run(ctx, "systemctl", args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}

	handles := make(map[string]bool)
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if handle, ok := HandleFromUnit(fields[0]); ok {
			handles[handle] = true
		}
	}
	return handles, nil
}
