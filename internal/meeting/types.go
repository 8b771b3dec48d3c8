// Package meeting owns the meeting lifecycle: creation, edits,
// cancellation, registration with capacity limits, and FIFO waitlist
// promotion. It is the only package that mutates Meeting and
// Registration state.
package meeting

import "time"

// RegStatus is the state of a participant's registration.
type RegStatus string

const (
	StatusConfirmed  RegStatus = "confirmed"
	StatusWaitlisted RegStatus = "waitlisted"
	StatusCanceled   RegStatus = "canceled"
)

// User is a chat participant known to the bot.
type User struct {
	ID        int64
	Name      string
	Username  string
	CreatedAt time.Time
}

// Meeting is a scheduled community meeting. StartAt is always stored
// normalized to UTC; rendering in a local timezone is the transport's job.
type Meeting struct {
	ID              int64
	Topic           string
	Description     string
	StartAt         time.Time
	MaxParticipants int
	Location        string
	HostID          int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CanceledAt      *time.Time
}

// Active reports whether the meeting has not been canceled.
func (m Meeting) Active() bool { return m.CanceledAt == nil }

// Registration links a user to a meeting. Position orders the waitlist
// (1-based, contiguous among waitlisted entries); it is 0 for confirmed
// and canceled registrations.
type Registration struct {
	ID        int64
	MeetingID int64
	UserID    int64
	Status    RegStatus
	Position  int
	CreatedAt time.Time
}

// RegResult tells a caller how a registration attempt landed.
type RegResult struct {
	Status   RegStatus
	Position int // waitlist position when Status == StatusWaitlisted
}

// Patch carries optional field updates for EditMeeting. Nil means
// "leave unchanged".
type Patch struct {
	Topic           *string
	Description     *string
	StartAt         *time.Time
	MaxParticipants *int
	Location        *string
}
