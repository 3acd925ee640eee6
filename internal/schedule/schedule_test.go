package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Invalid(t *testing.T) {
	tests := []string{"", "   ", "* * *", "61 * * * *", "@every banana", "@sometimes",
		"@every 500ms", "@every 1500ms", "@every 0s"}
	for _, spec := range tests {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec)
			assert.Error(t, err)
			assert.Error(t, Validate(spec))
		})
	}
}

func TestInterval_WholeSeconds(t *testing.T) {
	s, err := Parse("@every 1s")
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(time.Second), s.Next(start))

	s, err = Parse("@every 1m30s")
	require.NoError(t, err)
	assert.Equal(t, start.Add(90*time.Second), s.Next(start))
}

func TestInterval_FixedRate(t *testing.T) {
	s, err := Parse("@every 30s")
	require.NoError(t, err)

	start := time.UnixMilli(0).UTC()
	first := s.First(start)
	assert.Equal(t, start, first)

	next := s.Next(first)
	assert.Equal(t, int64(30000), next.UnixMilli())
	assert.Equal(t, int64(60000), s.Next(next).UnixMilli())
}

func TestInterval_NextAfter(t *testing.T) {
	s, err := Parse("@every 10s")
	require.NoError(t, err)

	prev := time.UnixMilli(100_000)
	tests := []struct {
		name string
		now  int64
		want int64
	}{
		{"now before prev", 95_000, 110_000},
		{"now equals prev", 100_000, 110_000},
		{"within first period", 104_000, 110_000},
		{"on a slot", 130_000, 140_000},
		{"several periods late", 157_500, 160_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.NextAfter(prev, time.UnixMilli(tt.now))
			assert.Equal(t, tt.want, got.UnixMilli())
		})
	}
}

func TestCron_FiveField(t *testing.T) {
	s, err := Parse("*/15 * * * *")
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)
	first := s.First(start)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), first.UTC())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), s.Next(first).UTC())
}

func TestCron_FirstIncludesStartOnSlot(t *testing.T) {
	s, err := Parse("0 * * * *")
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, start, s.First(start).UTC())
}

func TestCron_SecondsField(t *testing.T) {
	s, err := Parse("*/20 * * * * *")
	require.NoError(t, err)

	prev := time.Date(2026, 3, 1, 10, 0, 20, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 40, 0, time.UTC), s.Next(prev).UTC())
}

func TestCron_NextAfter(t *testing.T) {
	s, err := Parse("@hourly")
	require.NoError(t, err)

	prev := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 1, 13, 20, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), s.NextAfter(prev, now).UTC())
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), s.NextAfter(prev, prev.Add(-time.Minute)).UTC())
}

func TestCron_TimeZone(t *testing.T) {
	s, err := Parse("CRON_TZ=Asia/Tehran 0 9 * * *")
	require.NoError(t, err)

	loc, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, loc).Unix(), s.First(start).Unix())
}

func TestOnce(t *testing.T) {
	s, err := Parse("@once")
	require.NoError(t, err)

	start := time.UnixMilli(5000)
	assert.Equal(t, start, s.First(start))
	assert.True(t, s.Next(start).IsZero())
	assert.True(t, s.NextAfter(start, start.Add(time.Hour)).IsZero())
}
