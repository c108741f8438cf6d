// SPDX-License-Identifier: MIT

// Package session defines the domain model: stream sessions, schedule
// definitions and the deterministic identifiers derived from them.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Platform is a supported RTMP ingest target.
type Platform string

const (
	PlatformYouTube  Platform = "YouTube"
	PlatformFacebook Platform = "Facebook"
)

// IngestBase returns the RTMP base URL for the platform. The stream key
// is appended by the supervisor when it builds the unit.
func (p Platform) IngestBase() string {
	switch p {
	case PlatformFacebook:
		return "rtmps://live-api-s.facebook.com:443/rtmp"
	default:
		return "rtmp://a.rtmp.youtube.com/live2"
	}
}

// ParsePlatform validates a platform string strictly.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformYouTube, PlatformFacebook:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("%w: unknown platform %q", ErrInvalidInput, s)
	}
}

// NormalizePlatform coerces unknown platforms to YouTube. Only the
// lenient paths (edit, reactivate) use this; start and schedule reject
// unknown platforms outright.
func NormalizePlatform(s string) Platform {
	if p, err := ParsePlatform(s); err == nil {
		return p
	}
	return PlatformYouTube
}

// Status is the lifecycle state of a session record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Session is a single stream run bound to one supervised process.
type Session struct {
	ID            string   `json:"id"`
	ServiceHandle string   `json:"service_handle"`
	VideoName     string   `json:"video_name"`
	StreamKey     string   `json:"stream_key"`
	Platform      Platform `json:"platform"`
	Status        Status   `json:"status"`

	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`
	// PlannedStop is the intended stop time for timed runs; nil means
	// the session runs until stopped manually.
	PlannedStop     *time.Time `json:"planned_stop,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`

	// ScheduleType records provenance (manual, scheduled,
	// daily_recurring_instance, *_recovered, *_force_stop). It drives
	// display only, never control flow.
	ScheduleType string `json:"schedule_type"`

	StopReason    string     `json:"stop_reason,omitempty"`
	RecoveredAt   *time.Time `json:"recovered_at,omitempty"`
	RecoveryCount int        `json:"recovery_count,omitempty"`
}

// Handle returns the stored service handle, re-deriving it from the
// session id when the record predates handle storage.
func (s Session) Handle() string {
	if s.ServiceHandle != "" {
		return s.ServiceHandle
	}
	return ServiceHandle(s.ID)
}

// Upsert replaces any entry with the same id and appends the new one
// (last write wins, append-and-dedupe semantics).
func Upsert(list []Session, s Session) []Session {
	out := RemoveByID(list, s.ID)
	return append(out, s)
}

// RemoveByID drops every entry with the given id.
func RemoveByID(list []Session, id string) []Session {
	out := list[:0:0]
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// FindByID returns a pointer into list for the matching entry, or nil.
func FindByID(list []Session, id string) *Session {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q is not in HH:MM form", ErrInvalidInput, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err == nil {
		minute, err = strconv.Atoi(parts[1])
	}
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q is not in HH:MM form", ErrInvalidInput, s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %q is out of range", ErrInvalidInput, s)
	}
	return hour, minute, nil
}

// DailyDuration computes the run length between two wall-clock times,
// wrapping past midnight when the stop precedes the start.
func DailyDuration(startOfDay, stopOfDay string) (time.Duration, error) {
	sh, sm, err := ParseClock(startOfDay)
	if err != nil {
		return 0, err
	}
	eh, em, err := ParseClock(stopOfDay)
	if err != nil {
		return 0, err
	}
	minutes := (eh*60 + em) - (sh*60 + sm)
	if minutes <= 0 {
		minutes += 24 * 60
	}
	return time.Duration(minutes) * time.Minute, nil
}
