// SPDX-License-Identifier: MIT

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceHandle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "My Stream", "My-Stream"},
		{"specials collapse", "a!!b##c", "a-b-c"},
		{"leading and trailing junk", "  hello  ", "hello"},
		{"underscores kept", "my_stream_1", "my_stream_1"},
		{"already clean", "promo-loop", "promo-loop"},
		{"only junk", "!!!", ""},
		{"length capped at 50", strings.Repeat("a", 60), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ServiceHandle(tt.in))
		})
	}
}

func TestServiceHandleCapDoesNotEndWithDash(t *testing.T) {
	// 49 chars then a separator that becomes a dash at the cut point.
	in := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbbb"
	got := ServiceHandle(in)
	require.LessOrEqual(t, len(got), 50)
	assert.NotEqual(t, byte('-'), got[len(got)-1])
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("YouTube")
	require.NoError(t, err)
	assert.Equal(t, PlatformYouTube, p)

	p, err = ParsePlatform("Facebook")
	require.NoError(t, err)
	assert.Equal(t, PlatformFacebook, p)

	_, err = ParsePlatform("Twitch")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizePlatformCoercesToYouTube(t *testing.T) {
	assert.Equal(t, PlatformFacebook, NormalizePlatform("Facebook"))
	assert.Equal(t, PlatformYouTube, NormalizePlatform("Twitch"))
	assert.Equal(t, PlatformYouTube, NormalizePlatform(""))
}

func TestIngestBase(t *testing.T) {
	assert.Equal(t, "rtmp://a.rtmp.youtube.com/live2", PlatformYouTube.IngestBase())
	assert.Equal(t, "rtmps://live-api-s.facebook.com:443/rtmp", PlatformFacebook.IngestBase())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"09:30", 9, 30, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12", 0, 0, true},
		{"ab:cd", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestDailyDuration(t *testing.T) {
	tests := []struct {
		name  string
		start string
		stop  string
		want  time.Duration
	}{
		{"same day", "09:00", "10:30", 90 * time.Minute},
		{"wraps past midnight", "23:00", "01:00", 2 * time.Hour},
		{"equal times mean a full day", "08:00", "08:00", 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DailyDuration(tt.start, tt.stop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DailyDuration("25:00", "10:00")
	assert.Error(t, err)
}

func TestUpsertDedupesByID(t *testing.T) {
	list := []Session{{ID: "a", VideoName: "old.mp4"}, {ID: "b"}}
	list = Upsert(list, Session{ID: "a", VideoName: "new.mp4"})

	require.Len(t, list, 2)
	found := FindByID(list, "a")
	require.NotNil(t, found)
	assert.Equal(t, "new.mp4", found.VideoName)
}

func TestRemoveByID(t *testing.T) {
	list := []Session{{ID: "a"}, {ID: "b"}, {ID: "a"}}
	list = RemoveByID(list, "a")
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	// Removing an unknown id is a no-op.
	assert.Len(t, RemoveByID(list, "zzz"), 1)
}

func TestHandleFallsBackToDerivation(t *testing.T) {
	withStored := Session{ID: "My Show", ServiceHandle: "custom"}
	assert.Equal(t, "custom", withStored.Handle())

	withoutStored := Session{ID: "My Show"}
	assert.Equal(t, "My-Show", withoutStored.Handle())
}
