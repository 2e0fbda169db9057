package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler("Asia/Seoul")
	require.NoError(t, err)
	defer s.Stop()

	assert.Equal(t, "Asia/Seoul", s.location.String())
}

func TestNewSchedulerInvalidTimezone(t *testing.T) {
	_, err := NewScheduler("Invalid/Zone")
	assert.Error(t, err)
}

func TestScheduleAndStart(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule([]string{"09:00", "18:30"}, func() {}))
	s.Start()

	assert.Len(t, s.cron.Entries(), 2)

	next := s.Next()
	require.False(t, next.IsZero())
	assert.True(t, next.After(time.Now()))
	assert.True(t, next.Before(time.Now().Add(24*time.Hour)))
	assert.Contains(t, []int{9, 18}, next.Hour())
}

func TestScheduleInvalidTime(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)
	defer s.Stop()

	tests := []string{
		"invalid",
		"25:00",
		"12:60",
		"9:00",
		"12:0",
	}

	for _, tt := range tests {
		assert.Error(t, s.Schedule([]string{tt}, func() {}), "time %q", tt)
	}
	assert.Error(t, s.Schedule(nil, func() {}))
}

func TestScheduleInvalidKeepsPrevious(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)

	require.NoError(t, s.Schedule([]string{"09:00", "12:00"}, func() {}))
	assert.Error(t, s.Schedule([]string{"10:00", "bad"}, func() {}))
	assert.Len(t, s.cron.Entries(), 2)
}

func TestReschedule(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)
	defer s.Stop()

	fn := func() {}

	require.NoError(t, s.Schedule([]string{"09:00", "12:00", "18:00"}, fn))
	assert.Len(t, s.cron.Entries(), 3)

	require.NoError(t, s.Schedule([]string{"14:00"}, fn))
	assert.Len(t, s.cron.Entries(), 1, "old entries are removed")

	s.Start()
}

func TestNextNotStarted(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())
}

func TestMultipleStartStop(t *testing.T) {
	s, err := NewScheduler("UTC")
	require.NoError(t, err)

	require.NoError(t, s.Schedule([]string{"12:00"}, func() {}))

	s.Start()
	s.Start()

	s.Stop()
	s.Stop()
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"12:30", 12, 30, false},
		{"25:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"invalid", 0, 0, true},
	}

	for _, tt := range tests {
		hour, minute, err := parseTime(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.hour, hour, tt.input)
		assert.Equal(t, tt.minute, minute, tt.input)
	}
}

func TestBuildCronSpec(t *testing.T) {
	tests := []struct {
		hour     int
		minute   int
		expected string
	}{
		{9, 0, "0 9 * * *"},
		{0, 0, "0 0 * * *"},
		{23, 59, "59 23 * * *"},
		{12, 30, "30 12 * * *"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, buildCronSpec(tt.hour, tt.minute))
	}
}
