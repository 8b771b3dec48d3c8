package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtbot/internal/meeting"
	"gtbot/internal/schedule"
)

func sampleMeeting() meeting.Meeting {
	return meeting.Meeting{
		ID:              3,
		Topic:           "Board games",
		Description:     "Bring your favourites",
		StartAt:         time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC),
		MaxParticipants: 12,
		Location:        "Cafe Mitte",
		HostID:          1,
	}
}

func TestRendererUsesLocalTime(t *testing.T) {
	r := NewRenderer(berlin(t))
	m := sampleMeeting()

	// 17:00 UTC is 19:00 in Berlin during CEST.
	text := r.Reminder(m, schedule.KindReminder1d)
	assert.Contains(t, text, "19:00")
	assert.Contains(t, text, "tomorrow")
	assert.Contains(t, text, "Cafe Mitte")

	text = r.Reminder(m, schedule.KindReminder3d)
	assert.Contains(t, text, "in 3 days")
}

func TestRendererDigest(t *testing.T) {
	r := NewRenderer(time.UTC)

	assert.Contains(t, r.Digest(nil), "No upcoming meetings")

	text := r.Digest([]meeting.Meeting{sampleMeeting()})
	assert.Contains(t, text, "Upcoming meetings:")
	assert.Contains(t, text, "#3")
	assert.Contains(t, text, "Board games")
}

func TestRendererDetails(t *testing.T) {
	r := NewRenderer(time.UTC)
	m := sampleMeeting()
	host := meeting.User{ID: 1, Name: "Anna"}

	text := r.Details(m, host, 5, 2)
	assert.Contains(t, text, "Board games")
	assert.Contains(t, text, "Host: Anna")
	assert.Contains(t, text, "5/12 taken")
	assert.Contains(t, text, "2 on the waitlist")

	canceledAt := time.Now()
	m.CanceledAt = &canceledAt
	text = r.Details(m, host, 5, 0)
	assert.Contains(t, text, "canceled")
}

func TestRendererRegistered(t *testing.T) {
	r := NewRenderer(time.UTC)
	m := sampleMeeting()

	text := r.Registered(m, meeting.RegResult{Status: meeting.StatusConfirmed})
	assert.Contains(t, text, "confirmed")

	text = r.Registered(m, meeting.RegResult{Status: meeting.StatusWaitlisted, Position: 4})
	assert.Contains(t, text, "#4")
	assert.Contains(t, text, "waitlist")
}

func TestRendererCanceledReason(t *testing.T) {
	r := NewRenderer(time.UTC)
	m := sampleMeeting()

	text := r.Canceled(m, "venue closed")
	require.Contains(t, text, "canceled")
	assert.Contains(t, text, "Reason: venue closed")

	text = r.Canceled(m, "")
	assert.NotContains(t, text, "Reason:")
}
