package meeting

import (
	"context"
	"time"
)

// Store is the persistence contract the lifecycle service depends on.
// Implementations must provide read-your-writes consistency within a
// single call sequence and return ErrNotFound for missing rows.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (User, error)

	CreateMeeting(ctx context.Context, m *Meeting) error
	GetMeeting(ctx context.Context, id int64) (Meeting, error)
	UpdateMeeting(ctx context.Context, m Meeting) error
	// ListUpcomingMeetings returns active meetings with StartAt >= now,
	// ordered by StartAt ascending.
	ListUpcomingMeetings(ctx context.Context, now time.Time) ([]Meeting, error)
	// ListMeetingsForUser returns meetings the user hosts or holds a
	// non-canceled registration for, ordered by StartAt ascending.
	ListMeetingsForUser(ctx context.Context, userID int64) ([]Meeting, error)

	CreateRegistration(ctx context.Context, r *Registration) error
	// ActiveRegistration returns the confirmed or waitlisted registration
	// for (meeting, user), or ErrNotFound.
	ActiveRegistration(ctx context.Context, meetingID, userID int64) (Registration, error)
	// ListRegistrations returns registrations with the given status;
	// waitlisted entries are ordered by Position ascending.
	ListRegistrations(ctx context.Context, meetingID int64, status RegStatus) ([]Registration, error)
	UpdateRegistration(ctx context.Context, r Registration) error
	CountConfirmed(ctx context.Context, meetingID int64) (int, error)
}
