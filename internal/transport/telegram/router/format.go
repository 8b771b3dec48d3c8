package router

import (
	"fmt"
	"strings"
	"time"

	"gtbot/internal/meeting"
	"gtbot/internal/schedule"
)

// Renderer produces every user-facing text of the bot. Stored instants
// are UTC; all rendering happens in the community timezone.
type Renderer struct {
	loc *time.Location
}

func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

func (r *Renderer) fmtTime(t time.Time) string {
	return t.In(r.loc).Format("Mon, 02 Jan 2006 15:04 MST")
}

func (r *Renderer) Promoted(m meeting.Meeting) string {
	return fmt.Sprintf("Good news! A spot opened up and you are now confirmed for %q on %s.",
		m.Topic, r.fmtTime(m.StartAt))
}

func (r *Renderer) Canceled(m meeting.Meeting, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The meeting %q on %s has been canceled.", m.Topic, r.fmtTime(m.StartAt))
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	return b.String()
}

func (r *Renderer) Reminder(m meeting.Meeting, kind schedule.JobKind) string {
	var lead string
	switch kind {
	case schedule.KindReminder3d:
		lead = "in 3 days"
	case schedule.KindReminder1d:
		lead = "tomorrow"
	default:
		lead = "soon"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder: %q is %s, on %s.", m.Topic, lead, r.fmtTime(m.StartAt))
	if m.Location != "" {
		fmt.Fprintf(&b, "\nWhere: %s", m.Location)
	}
	return b.String()
}

func (r *Renderer) Digest(ms []meeting.Meeting) string {
	if len(ms) == 0 {
		return "No upcoming meetings scheduled yet. Stay tuned!"
	}
	var b strings.Builder
	b.WriteString("Upcoming meetings:\n")
	for _, m := range ms {
		b.WriteString("\n" + r.meetingLine(m))
	}
	return b.String()
}

func (r *Renderer) meetingLine(m meeting.Meeting) string {
	line := fmt.Sprintf("#%d %s — %s", m.ID, r.fmtTime(m.StartAt), m.Topic)
	if m.Location != "" {
		line += " @ " + m.Location
	}
	return line
}

// Details renders the full card of one meeting.
func (r *Renderer) Details(m meeting.Meeting, host meeting.User, confirmed, waitlisted int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", m.Topic)
	if m.Description != "" {
		fmt.Fprintf(&b, "%s\n", m.Description)
	}
	fmt.Fprintf(&b, "\nWhen: %s", r.fmtTime(m.StartAt))
	if m.Location != "" {
		fmt.Fprintf(&b, "\nWhere: %s", m.Location)
	}
	hostName := host.Name
	if hostName == "" {
		hostName = fmt.Sprintf("user %d", m.HostID)
	}
	fmt.Fprintf(&b, "\nHost: %s", hostName)
	fmt.Fprintf(&b, "\nSpots: %d/%d taken", confirmed, m.MaxParticipants)
	if waitlisted > 0 {
		fmt.Fprintf(&b, ", %d on the waitlist", waitlisted)
	}
	if !m.Active() {
		b.WriteString("\n\nThis meeting has been canceled.")
	}
	return b.String()
}

func (r *Renderer) Created(m meeting.Meeting) string {
	return fmt.Sprintf("Meeting #%d created: %q on %s. You are registered as the host.",
		m.ID, m.Topic, r.fmtTime(m.StartAt))
}

func (r *Renderer) Registered(m meeting.Meeting, res meeting.RegResult) string {
	if res.Status == meeting.StatusConfirmed {
		return fmt.Sprintf("You are confirmed for %q on %s. See you there!",
			m.Topic, r.fmtTime(m.StartAt))
	}
	return fmt.Sprintf("%q is full, you are #%d on the waitlist. We will message you if a spot opens up.",
		m.Topic, res.Position)
}

func (r *Renderer) MeetingList(header string, ms []meeting.Meeting) string {
	if len(ms) == 0 {
		return "Nothing here yet."
	}
	var b strings.Builder
	b.WriteString(header + "\n")
	for _, m := range ms {
		b.WriteString("\n" + r.meetingLine(m))
	}
	return b.String()
}

func (r *Renderer) Help() string {
	return strings.Join([]string{
		"I keep track of community meetings.",
		"",
		"/upcoming_meetings — list upcoming meetings",
		"/my_meetings — meetings you host or attend",
		"/register <id> — grab a spot (or join the waitlist)",
		"/unregister <id> — give your spot back",
		"/create_meeting topic | description | YYYY-MM-DD HH:MM | max participants | location",
		"/edit_meeting id | topic | description | date | max | location (use - to keep a field)",
		"/cancel_meeting <id> [reason] — hosts only",
	}, "\n")
}
