// SPDX-License-Identifier: MIT

// Package api is the panel's HTTP surface: JSON endpoints for every
// lifecycle and reconciliation operation plus the websocket upgrade.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/proxyconf"
	"github.com/streamhib/restreamd/internal/reconcile"
	"github.com/streamhib/restreamd/internal/stream"
	"github.com/streamhib/restreamd/internal/users"
	"github.com/streamhib/restreamd/internal/videos"
)

// Options wire the server's collaborators.
type Options struct {
	Manager *stream.Manager
	Engine  *reconcile.Engine
	Videos  *videos.Store
	Users   *users.Store
	Domain  *proxyconf.Store
	Hub     http.Handler
	Version string

	// AuthRateLimit caps login/register attempts per client IP per
	// minute. Zero selects the default of 10.
	AuthRateLimit int
}

// Server carries the handler dependencies.
type Server struct {
	manager   *stream.Manager
	engine    *reconcile.Engine
	videos    *videos.Store
	users     *users.Store
	domain    *proxyconf.Store
	hub       http.Handler
	version   string
	authLimit int
	tokens    *tokenRegistry
	log       zerolog.Logger
}

// New builds the Server.
func New(opts Options) *Server {
	limit := opts.AuthRateLimit
	if limit <= 0 {
		limit = 10
	}
	return &Server{
		manager:   opts.Manager,
		engine:    opts.Engine,
		videos:    opts.Videos,
		users:     opts.Users,
		domain:    opts.Domain,
		hub:       opts.Hub,
		version:   opts.Version,
		authLimit: limit,
		tokens:    newTokenRegistry(),
		log:       log.WithComponent("api"),
	}
}

// Routes assembles the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		// Credential endpoints carry their own brute-force limit.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.authLimit, time.Minute))
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/sessions", s.handleSessions)
			r.Get("/inactive-sessions", s.handleInactiveSessions)
			r.Post("/inactive-sessions/delete-all", s.handleDeleteAllInactive)

			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/reactivate", s.handleReactivate)
			r.Post("/delete-session", s.handleDeleteSession)
			r.Post("/edit-session", s.handleEditSession)

			r.Post("/schedule", s.handleSchedule)
			r.Get("/schedule-list", s.handleScheduleList)
			r.Post("/cancel-schedule", s.handleCancelSchedule)

			r.Get("/recovery/status", s.handleRecoveryStatus)
			r.Post("/recovery/manual", s.handleRecoveryManual)

			r.Get("/videos", s.handleVideoList)
			r.Get("/videos/usage", s.handleVideoUsage)
			r.Post("/videos/download", s.handleVideoDownload)
			r.Post("/videos/delete", s.handleVideoDelete)
			r.Post("/videos/delete-all", s.handleVideoDeleteAll)
			r.Post("/videos/rename", s.handleVideoRename)

			r.Get("/domain", s.handleDomainGet)
			r.Post("/domain/setup", s.handleDomainSetup)
			r.Post("/domain/remove", s.handleDomainRemove)
		})
	})

	r.Get("/ws", s.hub.ServeHTTP)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// requestLogger tags every request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		ctx := log.ContextWithRequestID(r.Context(), requestID)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.log.Info().
			Str("event", "api.request").
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
