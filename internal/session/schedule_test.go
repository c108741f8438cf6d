// SPDX-License-Identifier: MIT

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobIDDerivationIsDeterministic(t *testing.T) {
	daily := ScheduleDefinition{ServiceHandle: "my-show", Recurrence: RecurDaily}
	ids := daily.JobIDsFor()
	assert.Equal(t, "daily-start-my-show", ids.Start)
	assert.Equal(t, "daily-stop-my-show", ids.Stop)

	oneTime := ScheduleDefinition{ServiceHandle: "my-show", Recurrence: RecurOneTime}
	ids = oneTime.JobIDsFor()
	assert.Equal(t, "onetime-my-show", ids.Start)
	assert.Equal(t, "onetime-stop-my-show", ids.Stop)
}

func TestDefinitionID(t *testing.T) {
	assert.Equal(t, "daily-promo", DefinitionID(RecurDaily, "promo"))
	assert.Equal(t, "onetime-promo", DefinitionID(RecurOneTime, "promo"))
}

func TestParseRecurrence(t *testing.T) {
	r, err := ParseRecurrence("daily")
	require.NoError(t, err)
	assert.Equal(t, RecurDaily, r)

	r, err = ParseRecurrence("one_time")
	require.NoError(t, err)
	assert.Equal(t, RecurOneTime, r)

	_, err = ParseRecurrence("weekly")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	base := ScheduleDefinition{
		Name:          "Promo",
		ServiceHandle: "Promo",
		Platform:      PlatformYouTube,
		StreamKey:     "key",
		VideoFile:     "promo.mp4",
	}

	tests := []struct {
		name    string
		mutate  func(*ScheduleDefinition)
		wantErr bool
	}{
		{
			"valid daily",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurDaily
				d.StartOfDay = "09:00"
				d.StopOfDay = "10:00"
			},
			false,
		},
		{
			"valid one-time",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurOneTime
				d.StartAt = &future
				d.DurationMinutes = 30
			},
			false,
		},
		{
			"one-time in the past",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurOneTime
				d.StartAt = &past
			},
			true,
		},
		{
			"one-time without start",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurOneTime
			},
			true,
		},
		{
			"one-time negative duration",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurOneTime
				d.StartAt = &future
				d.DurationMinutes = -5
			},
			true,
		},
		{
			"daily with bad stop time",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurDaily
				d.StartOfDay = "09:00"
				d.StopOfDay = "25:61"
			},
			true,
		},
		{
			"missing stream key",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurDaily
				d.StartOfDay = "09:00"
				d.StopOfDay = "10:00"
				d.StreamKey = ""
			},
			true,
		},
		{
			"unknown platform",
			func(d *ScheduleDefinition) {
				d.Recurrence = RecurDaily
				d.StartOfDay = "09:00"
				d.StopOfDay = "10:00"
				d.Platform = "Twitch"
			},
			true,
		},
		{
			"unknown recurrence",
			func(d *ScheduleDefinition) {
				d.Recurrence = "weekly"
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			err := d.Validate(now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStopAt(t *testing.T) {
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	timed := ScheduleDefinition{Recurrence: RecurOneTime, StartAt: &start, DurationMinutes: 30}
	stopAt, ok := timed.StopAt()
	require.True(t, ok)
	assert.Equal(t, start.Add(30*time.Minute), stopAt)

	manual := ScheduleDefinition{Recurrence: RecurOneTime, StartAt: &start, ManualStop: true}
	_, ok = manual.StopAt()
	assert.False(t, ok)

	daily := ScheduleDefinition{Recurrence: RecurDaily}
	_, ok = daily.StopAt()
	assert.False(t, ok)
}

func TestDefinitionLookups(t *testing.T) {
	list := []ScheduleDefinition{
		{ID: "daily-a", Name: "A", ServiceHandle: "a"},
		{ID: "onetime-b", Name: "B", ServiceHandle: "b"},
	}

	assert.NotNil(t, FindDefinition(list, "daily-a"))
	assert.Nil(t, FindDefinition(list, "daily-x"))
	assert.NotNil(t, FindDefinitionByName(list, "B"))
	assert.Nil(t, FindDefinitionByName(list, "X"))
	assert.NotNil(t, FindDefinitionByHandle(list, "b"))

	list = RemoveDefinition(list, "daily-a")
	require.Len(t, list, 1)
	assert.Equal(t, "onetime-b", list[0].ID)
}
