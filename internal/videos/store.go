// SPDX-License-Identifier: MIT

// Package videos manages the local video library the streams play from.
package videos

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/session"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mkv":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
}

// Store lists and manipulates video files in one directory. Listings are
// cached and invalidated by an fsnotify watcher; when the watcher cannot
// be established the store falls back to rescanning on every call.
type Store struct {
	dir     string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	run     Runner

	mu     sync.Mutex
	cache  []string
	cached bool
	dirty  atomic.Bool
}

// NewStore opens (creating if needed) the video directory and starts the
// change watcher.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve video directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}

	s := &Store{
		dir: abs,
		log: log.WithComponent("videos"),
		run: execRunner{},
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(abs)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("dir", abs).Msg("video watcher unavailable, listings rescan every call")
	} else {
		s.watcher = watcher
		go s.watch()
	}
	return s, nil
}

func (s *Store) watch() {
	for {
		select {
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.dirty.Store(true)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("video watcher error")
			s.dirty.Store(true)
		}
	}
}

// Close stops the watcher.
func (s *Store) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// List returns the video filenames, extension-filtered and sorted.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil && s.cached && !s.dirty.Swap(false) {
		return append([]string(nil), s.cache...), nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	s.cache = names
	s.cached = true
	return append([]string(nil), names...), nil
}

// Path resolves a video filename to its absolute path. Names containing
// path separators or resolving outside the video directory are rejected;
// a missing file reports session.ErrNotFound.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid video name %q", session.ErrInvalidInput, name)
	}
	p := filepath.Join(s.dir, name)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: video file %q", session.ErrNotFound, name)
		}
		return "", fmt.Errorf("stat video %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: video %q is not a regular file", session.ErrInvalidInput, name)
	}
	return p, nil
}

// Exists reports whether a video file is present and regular.
func (s *Store) Exists(name string) bool {
	_, err := s.Path(name)
	return err == nil
}

// Delete removes a video file.
func (s *Store) Delete(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete video %q: %w", name, err)
	}
	s.dirty.Store(true)
	return nil
}

// DeleteAll removes every video in the library and returns the number
// removed. Per-file failures are logged and skipped.
func (s *Store) DeleteAll() (int, error) {
	names, err := s.List()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range names {
		if err := os.Remove(filepath.Join(s.dir, n)); err != nil {
			s.log.Error().Err(err).Str("video", n).Msg("delete video failed")
			continue
		}
		count++
	}
	s.dirty.Store(true)
	return count, nil
}

// Rename renames a video file, keeping its extension. The new base name
// is sanitized the same way service handles are.
func (s *Store) Rename(oldName, newBase string) (string, error) {
	oldPath, err := s.Path(oldName)
	if err != nil {
		return "", err
	}
	base := session.ServiceHandle(newBase)
	if base == "" {
		return "", fmt.Errorf("%w: new name %q sanitizes to nothing", session.ErrInvalidInput, newBase)
	}
	newName := base + strings.ToLower(filepath.Ext(oldName))
	newPath := filepath.Join(s.dir, newName)
	if _, err := os.Stat(newPath); err == nil {
		return "", fmt.Errorf("%w: video %q already exists", session.ErrInvalidInput, newName)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("rename video %q: %w", oldName, err)
	}
	s.dirty.Store(true)
	return newName, nil
}

// Usage reports the total size in bytes and the file count of the library.
func (s *Store) Usage() (int64, int, error) {
	names, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, n := range names {
		if info, err := os.Stat(filepath.Join(s.dir, n)); err == nil {
			total += info.Size()
		}
	}
	return total, len(names), nil
}

// Dir returns the absolute video directory.
func (s *Store) Dir() string { return s.dir }
