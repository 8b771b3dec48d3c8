package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		cmd  string
		args string
	}{
		{"/help", "help", ""},
		{"/Register 12", "register", "12"},
		{"/create_meeting@GTBerlinBot a | b", "create_meeting", "a | b"},
		{"hello there", "", "hello there"},
		{"/upcoming_meetings\nextra", "upcoming_meetings", "extra"},
	}
	for _, c := range cases {
		cmd, args := splitCommand(c.in)
		assert.Equal(t, c.cmd, cmd, c.in)
		assert.Equal(t, c.args, args, c.in)
	}
}

func TestParseCreateArgs(t *testing.T) {
	loc := berlin(t)
	p, err := parseCreateArgs("Girls Night | chat and games | 2025-07-01 19:00 | 15 | Cafe Mitte", loc)
	require.NoError(t, err)
	assert.Equal(t, "Girls Night", p.Topic)
	assert.Equal(t, "chat and games", p.Description)
	assert.Equal(t, 15, p.MaxParticipants)
	assert.Equal(t, "Cafe Mitte", p.Location)

	// 19:00 Berlin summer time is 17:00 UTC.
	assert.Equal(t, time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC), p.StartAt)
}

func TestParseCreateArgsRejectsBadInput(t *testing.T) {
	loc := berlin(t)
	_, err := parseCreateArgs("only | three | fields", loc)
	assert.Error(t, err)
	_, err = parseCreateArgs("t | d | not-a-date | 5 | loc", loc)
	assert.Error(t, err)
	_, err = parseCreateArgs("t | d | 2025-07-01 19:00 | many | loc", loc)
	assert.Error(t, err)
}

func TestParseEditArgsKeepsDashFields(t *testing.T) {
	loc := berlin(t)
	id, patch, err := parseEditArgs("12 | New topic | - | 2025-08-01 18:30 | - | -", loc)
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	require.NotNil(t, patch.Topic)
	assert.Equal(t, "New topic", *patch.Topic)
	assert.Nil(t, patch.Description)
	require.NotNil(t, patch.StartAt)
	assert.Equal(t, time.Date(2025, 8, 1, 16, 30, 0, 0, time.UTC), *patch.StartAt)
	assert.Nil(t, patch.MaxParticipants)
	assert.Nil(t, patch.Location)
}

func TestParseMeetingID(t *testing.T) {
	id, err := parseMeetingID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = parseMeetingID("")
	assert.Error(t, err)
	_, err = parseMeetingID("abc")
	assert.Error(t, err)
}

func TestParseCancelArgs(t *testing.T) {
	id, reason, err := parseCancelArgs("7 venue closed")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "venue closed", reason)

	id, reason, err = parseCancelArgs("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Empty(t, reason)
}

func TestParseCallback(t *testing.T) {
	action, id, err := parseCallback("register:12")
	require.NoError(t, err)
	assert.Equal(t, "register", action)
	assert.Equal(t, int64(12), id)

	// telebot prefixes raw callback data with \f.
	action, id, err = parseCallback("\fdetails:3")
	require.NoError(t, err)
	assert.Equal(t, "details", action)
	assert.Equal(t, int64(3), id)

	_, _, err = parseCallback("register")
	assert.Error(t, err)
	_, _, err = parseCallback("register:x")
	assert.Error(t, err)
}
