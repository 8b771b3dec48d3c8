// Package schedule is the durable notification engine: it persists
// notification jobs, arms timers for them, fires them exactly once via
// a compare-and-swap status transition, and survives restarts by
// rehydrating pending jobs from the store.
package schedule

import "time"

// JobKind identifies what a job notifies about.
type JobKind string

const (
	// KindReminder3d fires three days before a meeting starts.
	KindReminder3d JobKind = "reminder_3d"
	// KindReminder1d fires one day before a meeting starts.
	KindReminder1d JobKind = "reminder_1d"
	// KindAnnouncement fires the periodic upcoming-meetings digest.
	KindAnnouncement JobKind = "announcement"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusFired    JobStatus = "fired"
	StatusCanceled JobStatus = "canceled"
	StatusFailed   JobStatus = "failed"
)

// Job is one durable notification to deliver at FireAt (UTC).
// MeetingID is 0 for announcement jobs, which are not tied to a meeting.
type Job struct {
	ID            string
	Kind          JobKind
	MeetingID     int64
	FireAt        time.Time
	Status        JobStatus
	Attempts      int
	LastAttemptAt *time.Time
	CreatedAt     time.Time
}
