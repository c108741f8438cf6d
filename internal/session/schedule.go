// SPDX-License-Identifier: MIT

package session

import (
	"fmt"
	"time"
)

// Recurrence tags a schedule definition variant.
type Recurrence string

const (
	RecurOneTime Recurrence = "one_time"
	RecurDaily   Recurrence = "daily"
)

// ScheduleDefinition is a persisted future intent to start (and
// optionally stop) a session. One-time definitions self-delete from the
// ledger once their start job fires; daily definitions persist until
// cancelled.
type ScheduleDefinition struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ServiceHandle string     `json:"service_handle"`
	Platform      Platform   `json:"platform"`
	StreamKey     string     `json:"stream_key"`
	VideoFile     string     `json:"video_file"`
	Recurrence    Recurrence `json:"recurrence_type"`

	// One-time fields.
	StartAt         *time.Time `json:"start_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	ManualStop      bool       `json:"manual_stop,omitempty"`

	// Daily fields (HH:MM wall-clock, scheduler timezone).
	StartOfDay string `json:"start_of_day,omitempty"`
	StopOfDay  string `json:"stop_of_day,omitempty"`
}

// JobIDs are the deterministic scheduler entry identifiers derived from
// a definition. Determinism is what makes replace and cancel correct
// without a separate job-id index.
type JobIDs struct {
	Start string
	Stop  string
}

// recurrenceSpec is the single dispatch point for per-recurrence
// behavior: definition ids, job ids and validation.
type recurrenceSpec struct {
	definitionID func(handle string) string
	jobIDs       func(handle string) JobIDs
	validate     func(d *ScheduleDefinition, now time.Time) error
}

var recurrences = map[Recurrence]recurrenceSpec{
	RecurDaily: {
		definitionID: func(h string) string { return "daily-" + h },
		jobIDs: func(h string) JobIDs {
			return JobIDs{Start: "daily-start-" + h, Stop: "daily-stop-" + h}
		},
		validate: func(d *ScheduleDefinition, _ time.Time) error {
			if _, _, err := ParseClock(d.StartOfDay); err != nil {
				return fmt.Errorf("daily start: %w", err)
			}
			if _, _, err := ParseClock(d.StopOfDay); err != nil {
				return fmt.Errorf("daily stop: %w", err)
			}
			return nil
		},
	},
	RecurOneTime: {
		definitionID: func(h string) string { return "onetime-" + h },
		jobIDs: func(h string) JobIDs {
			return JobIDs{Start: "onetime-" + h, Stop: "onetime-stop-" + h}
		},
		validate: func(d *ScheduleDefinition, now time.Time) error {
			if d.StartAt == nil {
				return fmt.Errorf("%w: one-time schedule requires a start time", ErrInvalidInput)
			}
			if !d.StartAt.After(now) {
				return fmt.Errorf("%w: one-time start must be in the future", ErrInvalidInput)
			}
			if d.DurationMinutes < 0 {
				return fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
			}
			return nil
		},
	},
}

// ParseRecurrence validates a recurrence tag.
func ParseRecurrence(s string) (Recurrence, error) {
	r := Recurrence(s)
	if _, ok := recurrences[r]; !ok {
		return "", fmt.Errorf("%w: unknown recurrence type %q", ErrInvalidInput, s)
	}
	return r, nil
}

// DefinitionID derives the ledger id for a recurrence/handle pair.
func DefinitionID(r Recurrence, handle string) string {
	return recurrences[r].definitionID(handle)
}

// JobIDsFor derives the scheduler job ids for a definition.
func (d ScheduleDefinition) JobIDsFor() JobIDs {
	return recurrences[d.Recurrence].jobIDs(d.ServiceHandle)
}

// Validate checks the definition is complete and internally consistent.
// now is needed because one-time starts must still be in the future.
func (d *ScheduleDefinition) Validate(now time.Time) error {
	if d.Name == "" || d.StreamKey == "" || d.VideoFile == "" {
		return fmt.Errorf("%w: session name, stream key and video file are required", ErrInvalidInput)
	}
	if _, err := ParsePlatform(string(d.Platform)); err != nil {
		return err
	}
	if d.ServiceHandle == "" {
		return fmt.Errorf("%w: session name %q sanitizes to an empty service handle", ErrInvalidInput, d.Name)
	}
	spec, ok := recurrences[d.Recurrence]
	if !ok {
		return fmt.Errorf("%w: unknown recurrence type %q", ErrInvalidInput, d.Recurrence)
	}
	return spec.validate(d, now)
}

// StopAt returns the derived stop time of a one-time definition. The
// second result is false for manual-stop and daily definitions.
func (d ScheduleDefinition) StopAt() (time.Time, bool) {
	if d.Recurrence != RecurOneTime || d.ManualStop || d.DurationMinutes <= 0 || d.StartAt == nil {
		return time.Time{}, false
	}
	return d.StartAt.Add(time.Duration(d.DurationMinutes) * time.Minute), true
}

// RemoveDefinition drops every definition with the given id.
func RemoveDefinition(list []ScheduleDefinition, id string) []ScheduleDefinition {
	out := list[:0:0]
	for _, d := range list {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}

// FindDefinition returns a pointer into list for the matching id, or nil.
func FindDefinition(list []ScheduleDefinition, id string) *ScheduleDefinition {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// FindDefinitionByName returns the definition carrying the given original
// session name, or nil.
func FindDefinitionByName(list []ScheduleDefinition, name string) *ScheduleDefinition {
	for i := range list {
		if list[i].Name == name {
			return &list[i]
		}
	}
	return nil
}

// FindDefinitionByHandle returns the definition for a service handle, or
// nil. Used when adopting a running unit with no ledger record.
func FindDefinitionByHandle(list []ScheduleDefinition, handle string) *ScheduleDefinition {
	for i := range list {
		if list[i].ServiceHandle == handle {
			return &list[i]
		}
	}
	return nil
}
