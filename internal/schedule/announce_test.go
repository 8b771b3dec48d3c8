package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestAnnounceScheduleNextOccurrence(t *testing.T) {
	berlin := mustLocation(t, "Europe/Berlin")
	ann, err := newAnnounceSchedule([]int{1, 15}, 10, 0, berlin)
	require.NoError(t, err)

	// 2025-06-03 10:30 Berlin: day 1 already passed, day 15 is next.
	now := time.Date(2025, 6, 3, 10, 30, 0, 0, berlin)
	next := ann.Next(now)
	want := time.Date(2025, 6, 15, 10, 0, 0, 0, berlin).UTC()
	assert.True(t, next.Equal(want), "got %s want %s", next, want)

	// Exactly at an occurrence: the next one is strictly later.
	at := time.Date(2025, 6, 15, 10, 0, 0, 0, berlin)
	next = ann.Next(at)
	want = time.Date(2025, 7, 1, 10, 0, 0, 0, berlin).UTC()
	assert.True(t, next.Equal(want), "got %s want %s", next, want)

	// End of month rolls over.
	now = time.Date(2025, 6, 20, 9, 0, 0, 0, berlin)
	next = ann.Next(now)
	want = time.Date(2025, 7, 1, 10, 0, 0, 0, berlin).UTC()
	assert.True(t, next.Equal(want), "got %s want %s", next, want)
}

func TestAnnounceScheduleDST(t *testing.T) {
	berlin := mustLocation(t, "Europe/Berlin")
	ann, err := newAnnounceSchedule([]int{1}, 10, 0, berlin)
	require.NoError(t, err)

	// Before the late-March DST switch Berlin is UTC+1, after it UTC+2.
	// The occurrence stays at 10:00 local either way.
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, berlin)
	next := ann.Next(now)
	assert.Equal(t, time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC), next)

	now = time.Date(2025, 1, 20, 12, 0, 0, 0, berlin)
	next = ann.Next(now)
	assert.Equal(t, time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestAnnounceScheduleValidation(t *testing.T) {
	_, err := newAnnounceSchedule(nil, 10, 0, time.UTC)
	assert.Error(t, err)
	_, err = newAnnounceSchedule([]int{0}, 10, 0, time.UTC)
	assert.Error(t, err)
	_, err = newAnnounceSchedule([]int{32}, 10, 0, time.UTC)
	assert.Error(t, err)
	_, err = newAnnounceSchedule([]int{1}, 24, 0, time.UTC)
	assert.Error(t, err)
	_, err = newAnnounceSchedule([]int{1}, 10, 60, time.UTC)
	assert.Error(t, err)

	// Duplicates collapse.
	ann, err := newAnnounceSchedule([]int{15, 1, 15}, 10, 0, time.UTC)
	require.NoError(t, err)
	now := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC), ann.Next(now))
}
