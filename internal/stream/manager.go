// SPDX-License-Identifier: MIT

// Package stream implements the session lifecycle: start, stop,
// reactivate, delete, edit, schedule and cancel, plus the callbacks the
// job scheduler fires. All mutations go through the ledger and end with
// an observer broadcast.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/ledger"
	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/metrics"
	"github.com/streamhib/restreamd/internal/scheduler"
	"github.com/streamhib/restreamd/internal/session"
	"github.com/streamhib/restreamd/internal/systemd"
)

// Broadcaster pushes state-change events to connected observers. The
// websocket hub implements it; tests use a recorder.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// VideoLibrary resolves video names to playable paths.
type VideoLibrary interface {
	Path(name string) (string, error)
	Exists(name string) bool
}

// Options wire the manager's collaborators.
type Options struct {
	Ledger     *ledger.Store
	Supervisor systemd.Supervisor
	Scheduler  *scheduler.Scheduler
	Videos     VideoLibrary
	Hub        Broadcaster
	Location   *time.Location
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager drives every session lifecycle transition.
type Manager struct {
	ledger *ledger.Store
	sup    systemd.Supervisor
	sched  *scheduler.Scheduler
	videos VideoLibrary
	hub    Broadcaster
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger
}

// NewManager builds a Manager from its collaborators.
func NewManager(opts Options) *Manager {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		ledger: opts.Ledger,
		sup:    opts.Supervisor,
		sched:  opts.Scheduler,
		videos: opts.Videos,
		hub:    opts.Hub,
		loc:    opts.Location,
		now:    opts.Now,
		log:    log.WithComponent("stream"),
	}
}

// StartInput are the caller-supplied parameters of a manual start.
type StartInput struct {
	SessionName     string
	Platform        string
	StreamKey       string
	VideoFile       string
	DurationMinutes int
}

// Start validates the input, launches the supervised process and records
// the session as active. A same-id record is overwritten, last write
// wins.
func (m *Manager) Start(ctx context.Context, in StartInput) (session.Session, error) {
	platform, err := session.ParsePlatform(in.Platform)
	if err != nil {
		return session.Session{}, err
	}
	if in.DurationMinutes < 0 {
		return session.Session{}, fmt.Errorf("%w: duration must not be negative", session.ErrInvalidInput)
	}
	var plannedStop *time.Time
	if in.DurationMinutes > 0 {
		t := m.now().Add(time.Duration(in.DurationMinutes) * time.Minute)
		plannedStop = &t
	}
	return m.launch(ctx, launchParams{
		id:              in.SessionName,
		videoName:       in.VideoFile,
		streamKey:       in.StreamKey,
		platform:        platform,
		scheduleType:    "manual",
		durationMinutes: in.DurationMinutes,
		plannedStop:     plannedStop,
		origin:          "manual",
	})
}

type launchParams struct {
	id              string
	videoName       string
	streamKey       string
	platform        session.Platform
	scheduleType    string
	durationMinutes int
	plannedStop     *time.Time
	origin          string
}

// launch is the shared start path behind Start, Reactivate and the
// scheduler callbacks.
func (m *Manager) launch(ctx context.Context, p launchParams) (session.Session, error) {
	if p.id == "" {
		return session.Session{}, fmt.Errorf("%w: session name is required", session.ErrInvalidInput)
	}
	if p.streamKey == "" {
		return session.Session{}, fmt.Errorf("%w: stream key is required", session.ErrInvalidInput)
	}
	handle := session.ServiceHandle(p.id)
	if handle == "" {
		return session.Session{}, fmt.Errorf("%w: session name %q sanitizes to an empty service handle", session.ErrInvalidInput, p.id)
	}
	videoPath, err := m.videos.Path(p.videoName)
	if err != nil {
		return session.Session{}, err
	}

	if err := m.sup.CreateAndStart(ctx, handle, videoPath, p.platform.IngestBase(), p.streamKey); err != nil {
		return session.Session{}, fmt.Errorf("start session %q: %w", p.id, err)
	}

	sess := session.Session{
		ID:              p.id,
		ServiceHandle:   handle,
		VideoName:       p.videoName,
		StreamKey:       p.streamKey,
		Platform:        p.platform,
		Status:          session.StatusActive,
		StartTime:       m.now(),
		PlannedStop:     p.plannedStop,
		DurationMinutes: p.durationMinutes,
		ScheduleType:    p.scheduleType,
	}

	st, err := m.ledger.Update(func(s *ledger.State) error {
		s.Active = session.Upsert(s.Active, sess)
		s.Inactive = session.RemoveByID(s.Inactive, sess.ID)
		return nil
	})
	if err != nil {
		// The process is running but the record is not durable; the
		// caller sees the failure, reconciliation adopts the unit.
		return session.Session{}, fmt.Errorf("persist session %q: %w", p.id, err)
	}

	metrics.SessionsStartedTotal.WithLabelValues(p.origin).Inc()
	m.log.Info().
		Str("event", "stream.started").
		Str("session_id", sess.ID).
		Str("handle", handle).
		Str("origin", p.origin).
		Str("platform", string(p.platform)).
		Msg("session started")
	m.broadcast(st)
	return sess, nil
}

// Stop moves a session to inactive and tears its process down. It is
// lenient: stopping an inactive or unknown session still succeeds, and
// an unknown id leaves a synthetic force-stop record so the intent is
// not lost.
func (m *Manager) Stop(ctx context.Context, id string) error {
	return m.StopWithReason(ctx, id, "manual stop", "manual")
}

// StopWithReason is Stop with an explicit reason and origin tag. The
// reconciler and scheduler callbacks use it.
func (m *Manager) StopWithReason(ctx context.Context, id, reason, origin string) error {
	st, err := m.ledger.Load()
	if err != nil {
		return err
	}

	handle := session.ServiceHandle(id)
	active := session.FindByID(st.Active, id)
	if active != nil {
		handle = active.Handle()
	}
	// Best effort: the goal state (not running) may already hold.
	m.sup.Stop(ctx, handle)

	now := m.now()
	st, err = m.ledger.Update(func(s *ledger.State) error {
		cur := session.FindByID(s.Active, id)
		if cur == nil {
			if session.FindByID(s.Inactive, id) != nil {
				return nil
			}
			// Unknown id: record the stop intent anyway.
			s.Inactive = session.Upsert(s.Inactive, session.Session{
				ID:            id,
				ServiceHandle: handle,
				Status:        session.StatusInactive,
				StartTime:     now,
				StopTime:      &now,
				ScheduleType:  "manual_force_stop",
				StopReason:    reason,
			})
			return nil
		}
		stopped := *cur
		stopped.Status = session.StatusInactive
		stopped.StopTime = &now
		stopped.StopReason = reason
		s.Active = session.RemoveByID(s.Active, id)
		s.Inactive = session.Upsert(s.Inactive, stopped)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist stop of %q: %w", id, err)
	}

	metrics.SessionsStoppedTotal.WithLabelValues(origin).Inc()
	m.log.Info().
		Str("event", "stream.stopped").
		Str("session_id", id).
		Str("handle", handle).
		Str("reason", reason).
		Msg("session stopped")
	m.broadcast(st)
	return nil
}

// Reactivate restarts an inactive session under a freshly derived
// handle, clearing the previous stop metadata. An unknown platform
// override falls back to YouTube.
func (m *Manager) Reactivate(ctx context.Context, id, platformOverride string) (session.Session, error) {
	st, err := m.ledger.Load()
	if err != nil {
		return session.Session{}, err
	}
	prev := session.FindByID(st.Inactive, id)
	if prev == nil {
		return session.Session{}, fmt.Errorf("%w: no inactive session %q", session.ErrNotFound, id)
	}

	platform := session.NormalizePlatform(string(prev.Platform))
	if platformOverride != "" {
		platform = session.NormalizePlatform(platformOverride)
	}
	return m.launch(ctx, launchParams{
		id:           id,
		videoName:    prev.VideoName,
		streamKey:    prev.StreamKey,
		platform:     platform,
		scheduleType: "manual_reactivated",
		origin:       "reactivate",
	})
}

// Delete permanently removes an inactive session. Active sessions must
// be stopped first; deleting an unknown id is an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	st, err := m.ledger.Update(func(s *ledger.State) error {
		if session.FindByID(s.Inactive, id) == nil {
			return fmt.Errorf("%w: no inactive session %q", session.ErrNotFound, id)
		}
		s.Inactive = session.RemoveByID(s.Inactive, id)
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("event", "stream.deleted").Str("session_id", id).Msg("inactive session deleted")
	m.broadcast(st)
	return nil
}

// DeleteAllInactive clears the inactive collection and reports how many
// records were removed.
func (m *Manager) DeleteAllInactive(ctx context.Context) (int, error) {
	var removed int
	st, err := m.ledger.Update(func(s *ledger.State) error {
		removed = len(s.Inactive)
		s.Inactive = []session.Session{}
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.log.Info().Str("event", "stream.deleted_all_inactive").Int("count", removed).Msg("inactive sessions cleared")
	m.broadcast(st)
	return removed, nil
}

// EditInput carries the mutable fields of an inactive session. Empty
// fields keep their current value.
type EditInput struct {
	StreamKey string
	VideoFile string
	Platform  string
}

// Edit mutates an inactive session's streaming parameters. Active
// sessions cannot be edited, the running process would not pick the
// change up.
func (m *Manager) Edit(ctx context.Context, id string, in EditInput) (session.Session, error) {
	if in.VideoFile != "" && !m.videos.Exists(in.VideoFile) {
		return session.Session{}, fmt.Errorf("%w: video file %q", session.ErrNotFound, in.VideoFile)
	}

	var edited session.Session
	st, err := m.ledger.Update(func(s *ledger.State) error {
		if session.FindByID(s.Active, id) != nil {
			return fmt.Errorf("%w: session %q is active, stop it before editing", session.ErrInvalidInput, id)
		}
		cur := session.FindByID(s.Inactive, id)
		if cur == nil {
			return fmt.Errorf("%w: no inactive session %q", session.ErrNotFound, id)
		}
		if in.StreamKey != "" {
			cur.StreamKey = in.StreamKey
		}
		if in.VideoFile != "" {
			cur.VideoName = in.VideoFile
		}
		if in.Platform != "" {
			cur.Platform = session.NormalizePlatform(in.Platform)
		}
		edited = *cur
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}
	m.log.Info().Str("event", "stream.edited").Str("session_id", id).Msg("inactive session edited")
	m.broadcast(st)
	return edited, nil
}

// ScheduleInput are the caller-supplied parameters of a schedule
// request.
type ScheduleInput struct {
	SessionName     string
	Platform        string
	StreamKey       string
	VideoFile       string
	Recurrence      string
	StartAt         *time.Time // one-time
	DurationMinutes int        // one-time; 0 means manual stop
	StartOfDay      string     // daily HH:MM
	StopOfDay       string     // daily HH:MM
}

// Schedule validates and persists a schedule definition, replacing any
// prior definition with the same session name, and registers its
// scheduler jobs.
func (m *Manager) Schedule(ctx context.Context, in ScheduleInput) (session.ScheduleDefinition, error) {
	recurrence, err := session.ParseRecurrence(in.Recurrence)
	if err != nil {
		return session.ScheduleDefinition{}, err
	}
	handle := session.ServiceHandle(in.SessionName)
	def := session.ScheduleDefinition{
		ID:              session.DefinitionID(recurrence, handle),
		Name:            in.SessionName,
		ServiceHandle:   handle,
		Platform:        session.Platform(in.Platform),
		StreamKey:       in.StreamKey,
		VideoFile:       in.VideoFile,
		Recurrence:      recurrence,
		StartAt:         in.StartAt,
		DurationMinutes: in.DurationMinutes,
		ManualStop:      recurrence == session.RecurOneTime && in.DurationMinutes == 0,
		StartOfDay:      in.StartOfDay,
		StopOfDay:       in.StopOfDay,
	}
	if err := def.Validate(m.now()); err != nil {
		return session.ScheduleDefinition{}, err
	}
	if !m.videos.Exists(def.VideoFile) {
		return session.ScheduleDefinition{}, fmt.Errorf("%w: video file %q", session.ErrNotFound, def.VideoFile)
	}

	st, err := m.ledger.Update(func(s *ledger.State) error {
		// A prior definition under the same name may live under a
		// different id (other recurrence); its jobs go first.
		if prior := session.FindDefinitionByName(s.Scheduled, def.Name); prior != nil {
			m.RemoveScheduleJobs(*prior)
			s.Scheduled = session.RemoveDefinition(s.Scheduled, prior.ID)
		}
		s.Scheduled = session.RemoveDefinition(s.Scheduled, def.ID)
		s.Scheduled = append(s.Scheduled, def)
		return nil
	})
	if err != nil {
		return session.ScheduleDefinition{}, err
	}

	if err := m.RegisterScheduleJobs(def); err != nil {
		return session.ScheduleDefinition{}, err
	}
	m.log.Info().
		Str("event", "stream.scheduled").
		Str("definition_id", def.ID).
		Str("recurrence", string(recurrence)).
		Msg("schedule registered")
	m.broadcast(st)
	return def, nil
}

// CancelSchedule removes a definition and its scheduler jobs. Unlike
// stop, cancelling an unknown definition id is an error.
func (m *Manager) CancelSchedule(ctx context.Context, defID string) error {
	var def session.ScheduleDefinition
	st, err := m.ledger.Update(func(s *ledger.State) error {
		found := session.FindDefinition(s.Scheduled, defID)
		if found == nil {
			return fmt.Errorf("%w: no schedule definition %q", session.ErrNotFound, defID)
		}
		def = *found
		s.Scheduled = session.RemoveDefinition(s.Scheduled, defID)
		return nil
	})
	if err != nil {
		return err
	}

	m.RemoveScheduleJobs(def)
	m.log.Info().Str("event", "stream.schedule_cancelled").Str("definition_id", defID).Msg("schedule cancelled")
	m.broadcast(st)
	return nil
}

// RegisterScheduleJobs wires a definition's scheduler entries. For daily
// definitions both cron jobs are added unconditionally; for one-time
// definitions the start job is added only when the start is still ahead,
// and the derived stop job only when its time is still ahead.
func (m *Manager) RegisterScheduleJobs(def session.ScheduleDefinition) error {
	ids := def.JobIDsFor()
	switch def.Recurrence {
	case session.RecurDaily:
		sh, sm, err := session.ParseClock(def.StartOfDay)
		if err != nil {
			return err
		}
		eh, em, err := session.ParseClock(def.StopOfDay)
		if err != nil {
			return err
		}
		if err := m.sched.AddDaily(ids.Start, sh, sm, func() { m.runDailyStart(def.ID) }); err != nil {
			return err
		}
		if err := m.sched.AddDaily(ids.Stop, eh, em, func() { m.runScheduledStop(def.Name) }); err != nil {
			m.sched.Remove(ids.Start)
			return err
		}
	case session.RecurOneTime:
		m.sched.AddOneTime(ids.Start, *def.StartAt, func() { m.runOneTimeStart(def.ID) })
		if stopAt, ok := def.StopAt(); ok {
			m.sched.AddOneTime(ids.Stop, stopAt, func() { m.runScheduledStop(def.Name) })
		}
	}
	metrics.SchedulerJobs.Set(float64(m.sched.Len()))
	return nil
}

// RemoveScheduleJobs drops every scheduler entry of a definition.
func (m *Manager) RemoveScheduleJobs(def session.ScheduleDefinition) {
	ids := def.JobIDsFor()
	m.sched.Remove(ids.Start)
	m.sched.Remove(ids.Stop)
	metrics.SchedulerJobs.Set(float64(m.sched.Len()))
}

// runOneTimeStart is the scheduler callback for a one-time start job.
// The definition self-deletes from the ledger once the start succeeds.
func (m *Manager) runOneTimeStart(defID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := m.ledger.Load()
	if err != nil {
		m.log.Error().Err(err).Str("definition_id", defID).Msg("one-time start: ledger unavailable")
		return
	}
	def := session.FindDefinition(st.Scheduled, defID)
	if def == nil {
		m.log.Warn().Str("definition_id", defID).Msg("one-time start fired for a cancelled definition")
		return
	}

	var plannedStop *time.Time
	duration := def.DurationMinutes
	if stopAt, ok := def.StopAt(); ok {
		plannedStop = &stopAt
	}
	if _, err := m.launch(ctx, launchParams{
		id:              def.Name,
		videoName:       def.VideoFile,
		streamKey:       def.StreamKey,
		platform:        def.Platform,
		scheduleType:    "scheduled",
		durationMinutes: duration,
		plannedStop:     plannedStop,
		origin:          "scheduled",
	}); err != nil {
		m.log.Error().Err(err).Str("definition_id", defID).Msg("one-time scheduled start failed")
		return
	}

	st, err = m.ledger.Update(func(s *ledger.State) error {
		s.Scheduled = session.RemoveDefinition(s.Scheduled, defID)
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Str("definition_id", defID).Msg("one-time definition cleanup failed")
		return
	}
	m.broadcast(st)
}

// runDailyStart is the scheduler callback for a daily start job. Each
// fire spawns a fresh session instance; the planned stop derives from
// the definition's wall-clock window, wrapping past midnight.
func (m *Manager) runDailyStart(defID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := m.ledger.Load()
	if err != nil {
		m.log.Error().Err(err).Str("definition_id", defID).Msg("daily start: ledger unavailable")
		return
	}
	def := session.FindDefinition(st.Scheduled, defID)
	if def == nil {
		m.log.Warn().Str("definition_id", defID).Msg("daily start fired for a cancelled definition")
		return
	}

	window, err := session.DailyDuration(def.StartOfDay, def.StopOfDay)
	if err != nil {
		m.log.Error().Err(err).Str("definition_id", defID).Msg("daily definition has an invalid time window")
		return
	}
	plannedStop := m.now().Add(window)
	if _, err := m.launch(ctx, launchParams{
		id:              def.Name,
		videoName:       def.VideoFile,
		streamKey:       def.StreamKey,
		platform:        def.Platform,
		scheduleType:    "daily_recurring_instance",
		durationMinutes: int(window / time.Minute),
		plannedStop:     &plannedStop,
		origin:          "scheduled",
	}); err != nil {
		m.log.Error().Err(err).Str("definition_id", defID).Msg("daily scheduled start failed")
	}
}

// runScheduledStop is the scheduler callback for stop jobs of both
// recurrences.
func (m *Manager) runScheduledStop(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := m.StopWithReason(ctx, sessionID, "scheduled stop", "scheduled"); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("scheduled stop failed")
	}
}

// ActiveSessions lists the active collection after folding in supervisor
// ground truth: running units with no ledger record are adopted when a
// schedule definition can supply their parameters.
func (m *Manager) ActiveSessions(ctx context.Context) ([]session.Session, error) {
	st, err := m.ledger.Load()
	if err != nil {
		return nil, err
	}
	running, err := m.sup.RunningUnits(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("supervisor enumeration failed, serving ledger view")
		return st.Active, nil
	}

	owned := make(map[string]bool, len(st.Active))
	for _, s := range st.Active {
		owned[s.Handle()] = true
	}

	var adopted []session.Session
	now := m.now()
	for handle := range running {
		if owned[handle] {
			continue
		}
		def := session.FindDefinitionByHandle(st.Scheduled, handle)
		if def == nil {
			continue
		}
		adopted = append(adopted, session.Session{
			ID:            def.Name,
			ServiceHandle: handle,
			VideoName:     def.VideoFile,
			StreamKey:     def.StreamKey,
			Platform:      def.Platform,
			Status:        session.StatusActive,
			StartTime:     now,
			ScheduleType:  string(def.Recurrence) + "_recovered",
		})
	}
	if len(adopted) == 0 {
		return st.Active, nil
	}

	st, err = m.ledger.Update(func(s *ledger.State) error {
		for _, a := range adopted {
			s.Active = session.Upsert(s.Active, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, a := range adopted {
		m.log.Info().
			Str("event", "stream.adopted").
			Str("session_id", a.ID).
			Str("handle", a.ServiceHandle).
			Msg("running unit adopted from schedule definition")
	}
	metrics.SessionsRecoveredTotal.Add(float64(len(adopted)))
	m.broadcast(st)
	return st.Active, nil
}

// InactiveSessions lists the inactive collection.
func (m *Manager) InactiveSessions() ([]session.Session, error) {
	st, err := m.ledger.Load()
	if err != nil {
		return nil, err
	}
	return st.Inactive, nil
}

// Schedules lists the persisted schedule definitions.
func (m *Manager) Schedules() ([]session.ScheduleDefinition, error) {
	st, err := m.ledger.Load()
	if err != nil {
		return nil, err
	}
	return st.Scheduled, nil
}

// BroadcastVideos pushes a refreshed video list to observers.
func (m *Manager) BroadcastVideos(names []string) {
	if m.hub != nil {
		m.hub.Broadcast("videos_update", names)
	}
}

func (m *Manager) broadcast(st ledger.State) {
	metrics.ActiveSessions.Set(float64(len(st.Active)))
	metrics.ScheduledDefinitions.Set(float64(len(st.Scheduled)))
	if m.hub == nil {
		return
	}
	m.hub.Broadcast("sessions_update", st.Active)
	m.hub.Broadcast("inactive_sessions_update", st.Inactive)
	m.hub.Broadcast("schedules_update", st.Scheduled)
}
