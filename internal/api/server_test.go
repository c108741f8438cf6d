// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhib/restreamd/internal/hub"
	"github.com/streamhib/restreamd/internal/ledger"
	"github.com/streamhib/restreamd/internal/proxyconf"
	"github.com/streamhib/restreamd/internal/reconcile"
	"github.com/streamhib/restreamd/internal/scheduler"
	"github.com/streamhib/restreamd/internal/session"
	"github.com/streamhib/restreamd/internal/stream"
	"github.com/streamhib/restreamd/internal/systemd"
	"github.com/streamhib/restreamd/internal/users"
	"github.com/streamhib/restreamd/internal/videos"
)

type fixture struct {
	handler http.Handler
	cookie  *http.Cookie
	sup     *systemd.Fake
	ledger  *ledger.Store
	sched   *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()

	videoDir := filepath.Join(dataDir, "videos")
	require.NoError(t, os.MkdirAll(videoDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(videoDir, "promo.mp4"), []byte("x"), 0o600))
	videoStore, err := videos.NewStore(videoDir)
	require.NoError(t, err)
	t.Cleanup(videoStore.Close)

	userStore, err := users.Open(filepath.Join(dataDir, "users.json"))
	require.NoError(t, err)

	f := &fixture{
		sup:    systemd.NewFake(),
		ledger: ledger.Open(filepath.Join(dataDir, "sessions.json")),
		sched:  scheduler.New(time.UTC),
	}
	observers := hub.New()
	t.Cleanup(observers.Close)

	mgr := stream.NewManager(stream.Options{
		Ledger:     f.ledger,
		Supervisor: f.sup,
		Scheduler:  f.sched,
		Videos:     videoStore,
		Hub:        observers,
		Location:   time.UTC,
	})
	engine := reconcile.New(reconcile.Options{
		Ledger:     f.ledger,
		Supervisor: f.sup,
		Manager:    mgr,
		Scheduler:  f.sched,
		Videos:     videoStore,
	})

	server := New(Options{
		Manager: mgr,
		Engine:  engine,
		Videos:  videoStore,
		Users:   userStore,
		Domain:  proxyconf.Open(filepath.Join(dataDir, "domain_config.json"), nil),
		Hub:     observers,
		Version: "test",
	})
	f.handler = server.Routes()
	return f
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	creds := map[string]string{"username": "admin", "password": "secret123"}
	rec := f.request(t, http.MethodPost, "/api/register", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodPost, "/api/login", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			f.cookie = c
			return
		}
	}
	t.Fatal("login response carried no session cookie")
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/sessions", "/api/schedule-list", "/api/videos", "/api/recovery/status"} {
		rec := f.request(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := f.request(t, http.MethodPost, "/api/start", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterClosesAfterFirstAccount(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/register", map[string]string{
		"username": "intruder", "password": "secret123",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.cookie = nil
	rec := f.request(t, http.MethodPost, "/api/login", map[string]string{
		"username": "admin", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartStopLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/start", startRequest{
		SessionName: "My Promo",
		Platform:    "YouTube",
		StreamKey:   "key-123",
		VideoFile:   "promo.mp4",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var started session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "My-Promo", started.ServiceHandle)

	rec = f.request(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active []session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active, 1)

	rec = f.request(t, http.MethodPost, "/api/stop", sessionIDRequest{SessionID: "My Promo"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/inactive-sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inactive []session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inactive))
	require.Len(t, inactive, 1)
	assert.NotNil(t, inactive[0].StopTime)
}

func TestStartValidationMapsToHTTPCodes(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/start", startRequest{
		SessionName: "x", Platform: "Twitch", StreamKey: "k", VideoFile: "promo.mp4",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/start", startRequest{
		SessionName: "x", Platform: "YouTube", StreamKey: "k", VideoFile: "missing.mp4",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleAndCancelOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/schedule", scheduleRequest{
		SessionName:    "Night Loop",
		Platform:       "YouTube",
		StreamKey:      "key",
		VideoFile:      "promo.mp4",
		RecurrenceType: "daily",
		StartTimeOfDay: "09:00",
		StopTimeOfDay:  "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var def session.ScheduleDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Equal(t, "daily-Night-Loop", def.ID)
	assert.Equal(t, 2, f.sched.Len())

	rec = f.request(t, http.MethodPost, "/api/cancel-schedule", cancelScheduleRequest{DefinitionID: def.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.sched.Len())

	rec = f.request(t, http.MethodPost, "/api/cancel-schedule", cancelScheduleRequest{DefinitionID: "daily-ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSessionStrictness(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/delete-session", sessionIDRequest{SessionID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoEndpoints(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"promo.mp4"}, names)

	rec = f.request(t, http.MethodPost, "/api/videos/rename", videoRenameRequest{
		OldName: "promo.mp4", NewName: "Main Loop",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Main-Loop.mp4")

	rec = f.request(t, http.MethodPost, "/api/videos/delete", videoNameRequest{Name: "Main-Loop.mp4"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/videos/delete", videoNameRequest{Name: "Main-Loop.mp4"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoDeleteAll(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/videos/delete-all", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"deleted":1`)

	rec = f.request(t, http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Empty(t, names)
}

func TestVideoDownloadRejectsBadID(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/videos/download", videoDownloadRequest{FileID: "not a drive id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoveryEndpoints(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodGet, "/api/recovery/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status reconcile.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Zero(t, status.ActiveSessions)

	rec = f.request(t, http.MethodPost, "/api/recovery/manual", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDomainEndpoints(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/domain/setup", domainSetupRequest{
		DomainName: "panel.example.com", SSLEnabled: true, Port: 443,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodGet, "/api/domain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "panel.example.com")

	rec = f.request(t, http.MethodPost, "/api/domain/remove", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/domain/setup", domainSetupRequest{DomainName: "not a domain"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.request(t, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
