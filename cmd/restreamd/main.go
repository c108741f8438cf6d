// SPDX-License-Identifier: MIT

// Command restreamd is the live-restreaming control daemon: it schedules,
// starts, stops and reconciles looped FFmpeg sessions supervised by
// systemd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/streamhib/restreamd/internal/api"
	"github.com/streamhib/restreamd/internal/config"
	"github.com/streamhib/restreamd/internal/daemon"
	"github.com/streamhib/restreamd/internal/hub"
	"github.com/streamhib/restreamd/internal/ledger"
	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/proxyconf"
	"github.com/streamhib/restreamd/internal/reconcile"
	"github.com/streamhib/restreamd/internal/scheduler"
	"github.com/streamhib/restreamd/internal/stream"
	"github.com/streamhib/restreamd/internal/systemd"
	"github.com/streamhib/restreamd/internal/users"
	"github.com/streamhib/restreamd/internal/videos"
)

// set via -ldflags at build time
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("restreamd", version)
		return
	}

	if err := run(*configPath); err != nil {
		logger := log.Base()
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "restreamd",
		Version: version,
	})
	logger := log.WithComponent("main")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerStore := ledger.Open(cfg.SessionsPath())
	userStore, err := users.Open(cfg.UsersPath())
	if err != nil {
		return err
	}
	videoStore, err := videos.NewStore(cfg.VideosDir)
	if err != nil {
		return err
	}
	defer videoStore.Close()
	domainStore := proxyconf.Open(cfg.DomainPath(), nil)

	observers := hub.New()
	sched := scheduler.New(loc)
	supervisor := systemd.NewManager(systemd.Options{
		UnitDir:     cfg.UnitDir,
		StartSettle: cfg.StartSettleDelay,
		StopTimeout: cfg.StopTimeout,
	})

	manager := stream.NewManager(stream.Options{
		Ledger:     ledgerStore,
		Supervisor: supervisor,
		Scheduler:  sched,
		Videos:     videoStore,
		Hub:        observers,
		Location:   loc,
	})
	engine := reconcile.New(reconcile.Options{
		Ledger:          ledgerStore,
		Supervisor:      supervisor,
		Manager:         manager,
		Scheduler:       sched,
		Videos:          videoStore,
		OverdueInterval: cfg.OverdueInterval,
		CleanupInterval: cfg.CleanupInterval,
		GraceWindow:     cfg.StopGraceWindow,
	})

	server := api.New(api.Options{
		Manager:       manager,
		Engine:        engine,
		Videos:        videoStore,
		Users:         userStore,
		Domain:        domainStore,
		Hub:           observers,
		Version:       version,
		AuthRateLimit: cfg.AuthRateLimit,
	})

	// Repair ledger/scheduler/supervisor divergence before taking traffic.
	if err := engine.Startup(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	app := daemon.New(&cfg, server.Routes(), sched, engine)
	app.RegisterShutdownHook("websocket-hub", func(context.Context) error {
		observers.Close()
		return nil
	})
	app.RegisterShutdownHook("video-store", func(context.Context) error {
		videoStore.Close()
		return nil
	})

	logger.Info().
		Str("event", "main.started").
		Str("listen", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Str("timezone", loc.String()).
		Msg("restreamd running")
	return app.Run(ctx)
}
