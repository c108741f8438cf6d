// SPDX-License-Identifier: MIT

package systemd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptRunner records systemctl invocations and plays back canned
// responses keyed by the joined argument list.
type scriptRunner struct {
	mu        sync.Mutex
	calls     [][]string
	responses map[string]response
}

type response struct {
	stdout string
	err    error
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{responses: make(map[string]response)}
}

func (r *scriptRunner) on(args string, stdout string, err error) {
	r.responses[args] = response{stdout: stdout, err: err}
}

func (r *scriptRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	if resp, ok := r.responses[strings.Join(call, " ")]; ok {
		return resp.stdout, "", resp.err
	}
	return "", "", nil
}

func (r *scriptRunner) called(args string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.Join(c, " ") == args {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, runner Runner) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(Options{
		UnitDir:     dir,
		StartSettle: time.Millisecond,
		StopTimeout: time.Second,
		Runner:      runner,
		Sleep:       func(time.Duration) {},
	})
	return m, dir
}

func TestUnitNameRoundTrip(t *testing.T) {
	assert.Equal(t, "stream-promo.service", UnitName("promo"))

	handle, ok := HandleFromUnit("stream-promo.service")
	require.True(t, ok)
	assert.Equal(t, "promo", handle)

	_, ok = HandleFromUnit("nginx.service")
	assert.False(t, ok)
	_, ok = HandleFromUnit("stream-promo.timer")
	assert.False(t, ok)
}

func TestCreateAndStartWritesUnitAndStarts(t *testing.T) {
	runner := newScriptRunner()
	runner.on("systemctl is-active stream-promo.service", "active\n", nil)
	m, dir := newTestManager(t, runner)

	err := m.CreateAndStart(context.Background(), "promo", "/videos/promo.mp4", "rtmp://a.rtmp.youtube.com/live2", "key-123")
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "stream-promo.service"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "Restart=always")
	assert.Contains(t, content, "-stream_loop -1")
	assert.Contains(t, content, `"/videos/promo.mp4"`)
	assert.Contains(t, content, `"rtmp://a.rtmp.youtube.com/live2/key-123"`)

	assert.True(t, runner.called("systemctl daemon-reload"))
	assert.True(t, runner.called("systemctl start stream-promo.service"))
}

func TestCreateAndStartReportsStartFailure(t *testing.T) {
	runner := newScriptRunner()
	runner.on("systemctl start stream-promo.service", "", errors.New("exit status 1"))
	m, _ := newTestManager(t, runner)

	err := m.CreateAndStart(context.Background(), "promo", "/v.mp4", "rtmp://base", "key")
	assert.Error(t, err)
}

func TestCreateAndStartDetectsImmediateCrash(t *testing.T) {
	runner := newScriptRunner()
	runner.on("systemctl is-active stream-promo.service", "failed\n", nil)
	m, _ := newTestManager(t, runner)

	err := m.CreateAndStart(context.Background(), "promo", "/v.mp4", "rtmp://base", "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not stay active")
}

func TestStopNeverFailsAndRemovesUnit(t *testing.T) {
	runner := newScriptRunner()
	runner.on("systemctl stop stream-promo.service", "", errors.New("exit status 5"))
	m, dir := newTestManager(t, runner)

	// Pre-existing unit file gets removed even when stop complains.
	path := filepath.Join(dir, "stream-promo.service")
	require.NoError(t, os.WriteFile(path, []byte("[Unit]"), 0o644))

	m.Stop(context.Background(), "promo")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, runner.called("systemctl disable stream-promo.service"))
}

func TestIsRunning(t *testing.T) {
	runner := newScriptRunner()
	runner.on("systemctl is-active stream-a.service", "active\n", nil)
	runner.on("systemctl is-active stream-b.service", "inactive\n", errors.New("exit status 3"))
	m, _ := newTestManager(t, runner)

	assert.True(t, m.IsRunning(context.Background(), "a"))
	assert.False(t, m.IsRunning(context.Background(), "b"))
}

func TestRunningUnitsParsesListOutput(t *testing.T) {
	runner := newScriptRunner()
	out := "stream-promo.service loaded active running Restream session promo\n" +
		"stream-night-loop.service loaded active running Restream session night-loop\n" +
		"nginx.service loaded active running nginx\n" +
		"\n"
	runner.on("systemctl list-units --type=service --no-legend --no-pager --plain --state=running", out, nil)
	m, _ := newTestManager(t, runner)

	running, err := m.RunningUnits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"promo": true, "night-loop": true}, running)
}

func TestUnitsEnumeratesAllStates(t *testing.T) {
	runner := newScriptRunner()
	out := "stream-promo.service loaded inactive dead Restream session promo\n"
	runner.on("systemctl list-units --type=service --no-legend --no-pager --plain --all", out, nil)
	m, _ := newTestManager(t, runner)

	units, err := m.Units(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"promo"}, units)
}

func TestRunningUnitsPropagatesListFailure(t *testing.T) {
	runner := newScriptRunner()
	runner.on("systemctl list-units --type=service --no-legend --no-pager --plain --state=running", "", fmt.Errorf("dbus gone"))
	m, _ := newTestManager(t, runner)

	_, err := m.RunningUnits(context.Background())
	assert.Error(t, err)
}

func TestFakeSupervisorBehaviour(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.CreateAndStart(ctx, "a", "/v.mp4", "rtmp://base", "key"))
	assert.True(t, f.IsRunning(ctx, "a"))

	f.FailStart = map[string]error{"b": errors.New("boom")}
	assert.Error(t, f.CreateAndStart(ctx, "b", "/v.mp4", "rtmp://base", "key"))

	running, err := f.RunningUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, running)

	f.Stop(ctx, "a")
	assert.False(t, f.IsRunning(ctx, "a"))
	assert.Equal(t, []string{"a"}, f.Stopped)
}
