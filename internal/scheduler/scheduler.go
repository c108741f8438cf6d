// SPDX-License-Identifier: MIT

// Package scheduler triggers start/stop actions at wall-clock times. It
// holds no persistent state: schedule recovery re-registers every job
// from the ledger after a restart.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
)

// Scheduler runs two job kinds under deterministic ids: cron-backed
// daily jobs that recur indefinitely, and timer-backed one-time jobs
// that fire once and remove themselves.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
	log  zerolog.Logger

	mu     sync.Mutex
	daily  map[string]cron.EntryID
	timers map[string]*time.Timer

	now func() time.Time
}

// New builds a scheduler whose daily triggers fire in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		loc:    loc,
		log:    log.WithComponent("scheduler"),
		daily:  make(map[string]cron.EntryID),
		timers: make(map[string]*time.Timer),
		now:    time.Now,
	}
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts dispatch and waits for in-flight jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Str("event", "scheduler.stop_timeout").Msg("gave up waiting for in-flight jobs")
	}
}

// AddDaily registers (or replaces) a job firing every day at hour:minute
// in the scheduler's timezone. Cron semantics tolerate late delivery: a
// tick that arrives behind schedule still runs rather than skipping the
// whole day.
func (s *Scheduler) AddDaily(id string, hour, minute int, fn func()) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("daily job %s: time %02d:%02d out of range", id, hour, minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	entry, err := s.cron.AddFunc(spec, s.guard(id, fn))
	if err != nil {
		return fmt.Errorf("daily job %s: %w", id, err)
	}
	s.daily[id] = entry
	s.log.Info().
		Str("event", "scheduler.job_added").
		Str("job_id", id).
		Str("kind", "daily").
		Str("at", fmt.Sprintf("%02d:%02d", hour, minute)).
		Msg("daily job registered")
	return nil
}

// AddOneTime registers (or replaces) a job firing once at the absolute
// time at. It returns false without scheduling when at is not in the
// future; whether a missed one-time job should run late is a recovery
// decision, not the scheduler's.
func (s *Scheduler) AddOneTime(id string, at time.Time, fn func()) bool {
	delay := at.Sub(s.now())
	if delay <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)

	run := s.guard(id, fn)
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		run()
	})
	s.log.Info().
		Str("event", "scheduler.job_added").
		Str("job_id", id).
		Str("kind", "one_time").
		Time("at", at).
		Msg("one-time job registered")
	return true
}

// Remove cancels the job with the given id. Removing an unknown id is
// not an error.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) {
	if entry, ok := s.daily[id]; ok {
		s.cron.Remove(entry)
		delete(s.daily, id)
		s.log.Debug().Str("event", "scheduler.job_removed").Str("job_id", id).Msg("daily job removed")
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
		s.log.Debug().Str("event", "scheduler.job_removed").Str("job_id", id).Msg("one-time job removed")
	}
}

// JobIDs returns the ids of all registered jobs, sorted.
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.daily)+len(s.timers))
	for id := range s.daily {
		ids = append(ids, id)
	}
	for id := range s.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.daily) + len(s.timers)
}

// guard wraps a job so a panicking action cannot take down the dispatch
// loop.
func (s *Scheduler) guard(id string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().
					Str("event", "scheduler.job_panic").
					Str("job_id", id).
					Interface("panic", r).
					Msg("scheduled job panicked")
			}
		}()
		s.log.Info().Str("event", "scheduler.job_fired").Str("job_id", id).Msg("running scheduled job")
		fn()
	}
}
