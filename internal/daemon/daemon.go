// SPDX-License-Identifier: MIT

// Package daemon runs the long-lived parts of the process: the API and
// metrics HTTP servers, the job scheduler and the reconciliation loop,
// with ordered teardown on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/streamhib/restreamd/internal/config"
	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/reconcile"
	"github.com/streamhib/restreamd/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// App supervises the daemon's long-running components.
type App struct {
	cfg    *config.Config
	api    http.Handler
	sched  *scheduler.Scheduler
	engine *reconcile.Engine
	log    zerolog.Logger

	mu    sync.Mutex
	hooks []namedHook
}

// New builds the App.
func New(cfg *config.Config, api http.Handler, sched *scheduler.Scheduler, engine *reconcile.Engine) *App {
	return &App{
		cfg:    cfg,
		api:    api,
		sched:  sched,
		engine: engine,
		log:    log.WithComponent("daemon"),
	}
}

// RegisterShutdownHook adds a cleanup step to run during teardown.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails, then tears everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	apiServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Info().Str("event", "daemon.api_listening").Str("addr", apiServer.Addr).Msg("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if a.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info().Str("event", "daemon.metrics_listening").Str("addr", metricsServer.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	a.sched.Start()
	g.Go(func() error {
		return a.engine.Run(gctx)
	})

	// Server goroutines do not watch gctx themselves; close them when it
	// ends so the group can drain.
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		a.sched.Stop(shutdownCtx)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("api server shutdown incomplete")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				a.log.Warn().Err(err).Msg("metrics server shutdown incomplete")
			}
		}
		a.runHooks(shutdownCtx)
		return nil
	})

	err := g.Wait()
	a.log.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	return err
}

func (a *App) runHooks(ctx context.Context) {
	a.mu.Lock()
	hooks := make([]namedHook, len(a.hooks))
	copy(hooks, a.hooks)
	a.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.hook(ctx); err != nil {
			a.log.Warn().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
		} else {
			a.log.Debug().Str("hook", h.name).Msg("shutdown hook completed")
		}
	}
}
