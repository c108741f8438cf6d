// SPDX-License-Identifier: MIT

// Package ledger is the durable session store: three collections
// (active, inactive, scheduled) in one JSON document guarded by a
// store-wide lock and an optimistic-concurrency version field.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/metrics"
	"github.com/streamhib/restreamd/internal/session"
	"github.com/streamhib/restreamd/internal/store"
)

// ErrVersionConflict reports a save against a stale snapshot: another
// writer persisted a newer document after this snapshot was loaded.
var ErrVersionConflict = errors.New("ledger version conflict")

// State is the persisted ledger document.
type State struct {
	// Version detects lost updates: Save refuses to overwrite a
	// document newer than the snapshot it was derived from.
	Version   int64                        `json:"version"`
	Active    []session.Session            `json:"active_sessions"`
	Inactive  []session.Session            `json:"inactive_sessions"`
	Scheduled []session.ScheduleDefinition `json:"scheduled_sessions"`
}

// DefaultState returns the empty-collections document.
func DefaultState() State {
	return State{
		Active:    []session.Session{},
		Inactive:  []session.Session{},
		Scheduled: []session.ScheduleDefinition{},
	}
}

// Store serializes all loads and saves of one ledger document. The lock
// is held for the duration of a single Load or Save; Update holds it
// across the full load-mutate-save cycle so in-process read-modify-write
// sequences cannot race each other.
type Store struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// Open returns a store for the document at path. The file need not
// exist yet.
func Open(path string) *Store {
	return &Store{
		path: path,
		log:  log.WithComponent("ledger"),
	}
}

// Load reads the current document. A missing, empty or corrupt file
// yields the default empty-collections state, never an error.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (State, error) {
	st := DefaultState()
	if err := store.ReadJSON(s.path, &st); err != nil {
		return st, fmt.Errorf("load ledger: %w", err)
	}
	if st.Active == nil {
		st.Active = []session.Session{}
	}
	if st.Inactive == nil {
		st.Inactive = []session.Session{}
	}
	if st.Scheduled == nil {
		st.Scheduled = []session.ScheduleDefinition{}
	}
	return st, nil
}

// Save persists a snapshot previously obtained from Load. It fails with
// ErrVersionConflict when the on-disk document has moved on, so a racing
// writer's update is detected instead of silently dropped.
func (s *Store) Save(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *Store) saveLocked(st *State) error {
	cur, err := s.loadLocked()
	if err != nil {
		return err
	}
	if cur.Version != st.Version {
		metrics.LedgerVersionConflictsTotal.Inc()
		s.log.Warn().
			Str("event", "ledger.version_conflict").
			Int64("snapshot", st.Version).
			Int64("current", cur.Version).
			Msg("refusing to overwrite newer ledger document")
		return fmt.Errorf("%w: snapshot %d, current %d", ErrVersionConflict, st.Version, cur.Version)
	}
	st.Version++
	if err := store.WriteJSON(s.path, st); err != nil {
		st.Version--
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Update runs fn against the freshly loaded document and persists the
// result, all under the store lock. fn returning an error aborts the
// update with nothing written.
func (s *Store) Update(fn func(*State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return st, err
	}
	if err := fn(&st); err != nil {
		return st, err
	}
	if err := s.saveLocked(&st); err != nil {
		return st, err
	}
	return st, nil
}
