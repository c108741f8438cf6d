// SPDX-License-Identifier: MIT

// Package reconcile resolves divergence between the session ledger, the
// job scheduler and the live supervisor state. It runs once at startup
// and continuously on two timers: a 1-minute overdue/liveness check and
// a 5-minute orphan cleanup.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/ledger"
	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/metrics"
	"github.com/streamhib/restreamd/internal/scheduler"
	"github.com/streamhib/restreamd/internal/session"
	"github.com/streamhib/restreamd/internal/stream"
	"github.com/streamhib/restreamd/internal/systemd"
)

// Options wire the engine's collaborators and intervals.
type Options struct {
	Ledger     *ledger.Store
	Supervisor systemd.Supervisor
	Manager    *stream.Manager
	Scheduler  *scheduler.Scheduler
	Videos     stream.VideoLibrary

	// OverdueInterval drives the overdue-stop/liveness check (default 1m).
	OverdueInterval time.Duration
	// CleanupInterval drives orphan recovery and unit cleanup (default 5m).
	CleanupInterval time.Duration
	// GraceWindow suppresses re-orphaning a session whose matching
	// inactive record stopped this recently (default 2m).
	GraceWindow time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Engine is the reconciliation state machine.
type Engine struct {
	ledger *ledger.Store
	sup    systemd.Supervisor
	mgr    *stream.Manager
	sched  *scheduler.Scheduler
	videos stream.VideoLibrary

	overdueEvery time.Duration
	cleanupEvery time.Duration
	grace        time.Duration
	now          func() time.Time
	log          zerolog.Logger

	mu        sync.Mutex
	lastCheck time.Time
}

// New builds an Engine, filling unset intervals with defaults.
func New(opts Options) *Engine {
	if opts.OverdueInterval == 0 {
		opts.OverdueInterval = time.Minute
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if opts.GraceWindow == 0 {
		opts.GraceWindow = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		ledger:       opts.Ledger,
		sup:          opts.Supervisor,
		mgr:          opts.Manager,
		sched:        opts.Scheduler,
		videos:       opts.Videos,
		overdueEvery: opts.OverdueInterval,
		cleanupEvery: opts.CleanupInterval,
		grace:        opts.GraceWindow,
		now:          opts.Now,
		log:          log.WithComponent("reconcile"),
	}
}

// Startup runs the boot-time phases in their required order: schedule
// recovery first, then orphan session recovery.
func (e *Engine) Startup(ctx context.Context) error {
	e.log.Info().Str("event", "reconcile.startup").Msg("startup reconciliation begins")
	if err := e.RecoverSchedules(ctx); err != nil {
		return err
	}
	if err := e.RecoverOrphans(ctx); err != nil {
		return err
	}
	metrics.ReconcilePassesTotal.WithLabelValues("startup").Inc()
	e.markChecked()
	return nil
}

// RecoverSchedules re-registers scheduler jobs for every persisted
// definition, dropping the ones that can no longer run: invalid fields,
// a missing video file, or a one-time start already in the past. The
// filtered collection is persisted back in one write.
func (e *Engine) RecoverSchedules(ctx context.Context) error {
	st, err := e.ledger.Load()
	if err != nil {
		return err
	}
	now := e.now()

	kept := st.Scheduled[:0:0]
	for _, def := range st.Scheduled {
		if def.Recurrence == session.RecurOneTime && (def.StartAt == nil || !def.StartAt.After(now)) {
			// Missed while the process was down; one-time starts have no
			// catch-up semantics.
			e.dropSchedule(def, "expired")
			continue
		}
		if err := def.Validate(now); err != nil {
			e.log.Warn().Err(err).Str("definition_id", def.ID).Msg("dropping invalid schedule definition")
			e.dropSchedule(def, "invalid")
			continue
		}
		if !e.videos.Exists(def.VideoFile) {
			e.log.Warn().
				Str("definition_id", def.ID).
				Str("video", def.VideoFile).
				Msg("dropping schedule definition, video file missing")
			e.dropSchedule(def, "video_missing")
			continue
		}
		if err := e.mgr.RegisterScheduleJobs(def); err != nil {
			e.log.Error().Err(err).Str("definition_id", def.ID).Msg("dropping schedule definition, job registration failed")
			e.dropSchedule(def, "registration_failed")
			continue
		}
		kept = append(kept, def)
	}

	if len(kept) == len(st.Scheduled) {
		e.log.Info().
			Str("event", "reconcile.schedules_recovered").
			Int("definitions", len(kept)).
			Msg("all schedule definitions recovered")
		return nil
	}

	if _, err := e.ledger.Update(func(s *ledger.State) error {
		s.Scheduled = kept
		return nil
	}); err != nil {
		return err
	}
	e.log.Info().
		Str("event", "reconcile.schedules_recovered").
		Int("definitions", len(kept)).
		Int("dropped", len(st.Scheduled)-len(kept)).
		Msg("schedule definitions recovered, stale ones dropped")
	return nil
}

func (e *Engine) dropSchedule(def session.ScheduleDefinition, reason string) {
	metrics.SchedulesDroppedTotal.WithLabelValues(reason).Inc()
	e.mgr.RemoveScheduleJobs(def)
}

// orphanVerdict is the decided fate of one not-running active session.
type orphanVerdict struct {
	id        string
	recovered bool
	reason    string
}

// RecoverOrphans checks supervisor liveness for every active session and
// repairs divergence: restart when the video is still present, move to
// inactive with a recorded reason otherwise.
func (e *Engine) RecoverOrphans(ctx context.Context) error {
	st, err := e.ledger.Load()
	if err != nil {
		return err
	}
	running, err := e.sup.RunningUnits(ctx)
	if err != nil {
		return err
	}

	// Supervisor calls happen outside the ledger lock; verdicts apply in
	// one write afterwards.
	var verdicts []orphanVerdict
	for _, sess := range st.Active {
		handle := sess.Handle()
		if running[handle] {
			continue
		}
		videoPath, err := e.videos.Path(sess.VideoName)
		if err != nil {
			verdicts = append(verdicts, orphanVerdict{id: sess.ID, reason: "video file missing"})
			metrics.RecoveryFailedTotal.WithLabelValues("video_missing").Inc()
			continue
		}
		if err := e.sup.CreateAndStart(ctx, handle, videoPath, sess.Platform.IngestBase(), sess.StreamKey); err != nil {
			e.log.Error().Err(err).Str("session_id", sess.ID).Msg("orphan recovery start failed")
			verdicts = append(verdicts, orphanVerdict{id: sess.ID, reason: "recovery failed"})
			metrics.RecoveryFailedTotal.WithLabelValues("start_failed").Inc()
			continue
		}
		verdicts = append(verdicts, orphanVerdict{id: sess.ID, recovered: true})
		metrics.SessionsRecoveredTotal.Inc()
	}
	if len(verdicts) == 0 {
		return nil
	}

	now := e.now()
	if _, err := e.ledger.Update(func(s *ledger.State) error {
		for _, v := range verdicts {
			cur := session.FindByID(s.Active, v.id)
			if cur == nil {
				continue
			}
			if v.recovered {
				t := now
				cur.RecoveredAt = &t
				cur.RecoveryCount++
				continue
			}
			stopped := *cur
			stopped.Status = session.StatusInactive
			t := now
			stopped.StopTime = &t
			stopped.StopReason = v.reason
			s.Active = session.RemoveByID(s.Active, v.id)
			s.Inactive = session.Upsert(s.Inactive, stopped)
		}
		return nil
	}); err != nil {
		return err
	}

	for _, v := range verdicts {
		if v.recovered {
			e.log.Info().Str("event", "reconcile.session_recovered").Str("session_id", v.id).Msg("orphaned session restarted")
		} else {
			e.log.Warn().
				Str("event", "reconcile.session_deactivated").
				Str("session_id", v.id).
				Str("reason", v.reason).
				Msg("orphaned session moved to inactive")
		}
	}
	return nil
}

// CheckOverdue is the 1-minute pass: stop sessions past their intended
// stop time while still running, then move actives without a live unit
// to inactive. Overdue stops act first so a session being terminated is
// not treated as an orphan in the same pass.
func (e *Engine) CheckOverdue(ctx context.Context) error {
	defer e.markChecked()
	metrics.ReconcilePassesTotal.WithLabelValues("overdue").Inc()

	st, err := e.ledger.Load()
	if err != nil {
		return err
	}
	running, err := e.sup.RunningUnits(ctx)
	if err != nil {
		return err
	}
	now := e.now()

	handled := make(map[string]bool)

	// A lingering one-time definition with an elapsed stop time means the
	// scheduler's own stop trigger was missed.
	for _, def := range st.Scheduled {
		stopAt, ok := def.StopAt()
		if !ok || now.Before(stopAt) || !running[def.ServiceHandle] {
			continue
		}
		e.log.Warn().
			Str("event", "reconcile.overdue_stop").
			Str("session_id", def.Name).
			Time("intended_stop", stopAt).
			Msg("stopping session past its scheduled stop time")
		if err := e.mgr.StopWithReason(ctx, def.Name, "overdue stop", "reconcile"); err != nil {
			e.log.Error().Err(err).Str("session_id", def.Name).Msg("overdue stop failed")
			continue
		}
		handled[def.Name] = true
	}

	for _, sess := range st.Active {
		if handled[sess.ID] {
			continue
		}
		if sess.PlannedStop == nil || now.Before(*sess.PlannedStop) || !running[sess.Handle()] {
			continue
		}
		e.log.Warn().
			Str("event", "reconcile.overdue_stop").
			Str("session_id", sess.ID).
			Time("intended_stop", *sess.PlannedStop).
			Msg("stopping session past its planned stop time")
		if err := e.mgr.StopWithReason(ctx, sess.ID, "overdue stop", "reconcile"); err != nil {
			e.log.Error().Err(err).Str("session_id", sess.ID).Msg("overdue stop failed")
			continue
		}
		handled[sess.ID] = true
	}

	// Liveness: the supervisor is ground truth, with a grace window for
	// sessions the scheduler itself just stopped.
	for _, sess := range st.Active {
		if handled[sess.ID] || running[sess.Handle()] {
			continue
		}
		if recent := session.FindByID(st.Inactive, sess.ID); recent != nil &&
			recent.StopTime != nil && now.Sub(*recent.StopTime) < e.grace {
			continue
		}
		e.log.Warn().
			Str("event", "reconcile.session_not_running").
			Str("session_id", sess.ID).
			Msg("active session has no running unit, moving to inactive")
		if err := e.mgr.StopWithReason(ctx, sess.ID, "process not running", "reconcile"); err != nil {
			e.log.Error().Err(err).Str("session_id", sess.ID).Msg("deactivation failed")
		}
	}
	return nil
}

// Cleanup is the 5-minute pass: orphan recovery plus reclamation of
// supervisor units no active session owns.
func (e *Engine) Cleanup(ctx context.Context) error {
	defer e.markChecked()
	metrics.ReconcilePassesTotal.WithLabelValues("cleanup").Inc()

	if err := e.RecoverOrphans(ctx); err != nil {
		return err
	}

	st, err := e.ledger.Load()
	if err != nil {
		return err
	}
	units, err := e.sup.Units(ctx)
	if err != nil {
		return err
	}

	owned := make(map[string]bool, len(st.Active))
	for _, sess := range st.Active {
		owned[sess.Handle()] = true
	}
	for _, handle := range units {
		if owned[handle] {
			continue
		}
		e.log.Warn().
			Str("event", "reconcile.orphan_unit_removed").
			Str("handle", handle).
			Msg("removing supervisor unit with no owning session")
		e.sup.Stop(ctx, handle)
		metrics.OrphanUnitsCleanedTotal.Inc()
	}
	return nil
}

// TriggerManual runs a full cleanup pass on demand.
func (e *Engine) TriggerManual(ctx context.Context) error {
	metrics.ReconcilePassesTotal.WithLabelValues("manual").Inc()
	return e.Cleanup(ctx)
}

// Run drives the periodic checks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	overdue := time.NewTicker(e.overdueEvery)
	defer overdue.Stop()
	cleanup := time.NewTicker(e.cleanupEvery)
	defer cleanup.Stop()

	e.log.Info().
		Str("event", "reconcile.loop_started").
		Dur("overdue_interval", e.overdueEvery).
		Dur("cleanup_interval", e.cleanupEvery).
		Msg("reconciliation loop running")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Str("event", "reconcile.loop_stopped").Msg("reconciliation loop stopped")
			return nil
		case <-overdue.C:
			if err := e.CheckOverdue(ctx); err != nil {
				e.log.Error().Err(err).Msg("overdue check failed")
			}
		case <-cleanup.C:
			if err := e.Cleanup(ctx); err != nil {
				e.log.Error().Err(err).Msg("cleanup pass failed")
			}
		}
	}
}

// Status is a point-in-time summary for the recovery status endpoint.
type Status struct {
	ActiveSessions       int       `json:"active_sessions"`
	InactiveSessions     int       `json:"inactive_sessions"`
	ScheduledDefinitions int       `json:"scheduled_definitions"`
	RunningUnits         int       `json:"running_units"`
	SchedulerJobs        int       `json:"scheduler_jobs"`
	JobIDs               []string  `json:"job_ids"`
	LastCheck            time.Time `json:"last_check"`
}

// Status reports the current reconciliation view.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st, err := e.ledger.Load()
	if err != nil {
		return Status{}, err
	}
	running, err := e.sup.RunningUnits(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	last := e.lastCheck
	e.mu.Unlock()

	return Status{
		ActiveSessions:       len(st.Active),
		InactiveSessions:     len(st.Inactive),
		ScheduledDefinitions: len(st.Scheduled),
		RunningUnits:         len(running),
		SchedulerJobs:        e.sched.Len(),
		JobIDs:               e.sched.JobIDs(),
		LastCheck:            last,
	}, nil
}

func (e *Engine) markChecked() {
	e.mu.Lock()
	e.lastCheck = e.now()
	e.mu.Unlock()
}
