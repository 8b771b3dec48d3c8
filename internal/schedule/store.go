package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when no job exists with the given id.
var ErrJobNotFound = errors.New("schedule: job not found")

// Store is the persistence contract of the scheduling engine. Status
// transitions go through SwapJobStatus so that two wakeups for the same
// job resolve to exactly one firing.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	// ListPendingJobs returns all pending jobs ordered by FireAt ascending.
	ListPendingJobs(ctx context.Context) ([]Job, error)
	// SwapJobStatus atomically moves the job from one status to another
	// and reports whether the swap won. A transition into StatusFired
	// increments Attempts and stamps LastAttemptAt with at.
	SwapJobStatus(ctx context.Context, id string, from, to JobStatus, at time.Time) (bool, error)
	// CancelJobsForMeeting marks every pending job of the meeting
	// canceled and returns how many were affected.
	CancelJobsForMeeting(ctx context.Context, meetingID int64) (int, error)
}
