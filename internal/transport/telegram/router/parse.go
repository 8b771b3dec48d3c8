package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gtbot/internal/meeting"
)

const timeLayout = "2006-01-02 15:04"

// splitCommand separates "/cmd@BotName rest" into the bare command name
// and the argument tail.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head := text[1:]
	if i := strings.IndexAny(head, " \n"); i >= 0 {
		args = strings.TrimSpace(head[i+1:])
		head = head[:i]
	}
	if i := strings.Index(head, "@"); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), args
}

// pipeFields splits "a | b | c" on pipes and trims each segment.
func pipeFields(s string) []string {
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseLocalTime reads "YYYY-MM-DD HH:MM" as wall time in loc and
// returns the UTC instant.
func parseLocalTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must look like 2025-07-01 19:00")
	}
	return t.UTC(), nil
}

const createUsage = "usage: /create_meeting topic | description | YYYY-MM-DD HH:MM | max participants | location"

// parseCreateArgs parses the pipe-separated /create_meeting arguments.
func parseCreateArgs(s string, loc *time.Location) (meeting.CreateParams, error) {
	fields := pipeFields(s)
	if len(fields) != 5 {
		return meeting.CreateParams{}, fmt.Errorf("%s", createUsage)
	}
	startAt, err := parseLocalTime(fields[2], loc)
	if err != nil {
		return meeting.CreateParams{}, err
	}
	max, err := strconv.Atoi(fields[3])
	if err != nil {
		return meeting.CreateParams{}, fmt.Errorf("max participants must be a number")
	}
	return meeting.CreateParams{
		Topic:           fields[0],
		Description:     fields[1],
		StartAt:         startAt,
		MaxParticipants: max,
		Location:        fields[4],
	}, nil
}

const editUsage = "usage: /edit_meeting id | topic | description | YYYY-MM-DD HH:MM | max participants | location (use - to keep a field)"

// parseEditArgs parses /edit_meeting arguments. A "-" or empty segment
// leaves that field unchanged.
func parseEditArgs(s string, loc *time.Location) (int64, meeting.Patch, error) {
	fields := pipeFields(s)
	if len(fields) != 6 {
		return 0, meeting.Patch{}, fmt.Errorf("%s", editUsage)
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, meeting.Patch{}, fmt.Errorf("meeting id must be a number")
	}

	var patch meeting.Patch
	if v := fields[1]; !keepField(v) {
		patch.Topic = &v
	}
	if v := fields[2]; !keepField(v) {
		patch.Description = &v
	}
	if v := fields[3]; !keepField(v) {
		startAt, err := parseLocalTime(v, loc)
		if err != nil {
			return 0, meeting.Patch{}, err
		}
		patch.StartAt = &startAt
	}
	if v := fields[4]; !keepField(v) {
		max, err := strconv.Atoi(v)
		if err != nil {
			return 0, meeting.Patch{}, fmt.Errorf("max participants must be a number")
		}
		patch.MaxParticipants = &max
	}
	if v := fields[5]; !keepField(v) {
		patch.Location = &v
	}
	return id, patch, nil
}

func keepField(v string) bool { return v == "" || v == "-" }

// parseMeetingID reads the single numeric argument of /register and
// friends.
func parseMeetingID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("meeting id is required, e.g. /register 12")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meeting id must be a number")
	}
	return id, nil
}

// parseCancelArgs reads "/cancel_meeting id optional reason".
func parseCancelArgs(s string) (int64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("meeting id is required, e.g. /cancel_meeting 12 venue closed")
	}
	parts := strings.SplitN(s, " ", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("meeting id must be a number")
	}
	reason := ""
	if len(parts) == 2 {
		reason = strings.TrimSpace(parts[1])
	}
	return id, reason, nil
}

// parseCallback splits "action:id" callback payloads. telebot prefixes
// raw callback data with \f, which is stripped here.
func parseCallback(data string) (action string, id int64, err error) {
	data = strings.TrimPrefix(strings.TrimSpace(data), "\f")
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed callback %q", data)
	}
	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed callback %q", data)
	}
	return parts[0], id, nil
}
