package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"gtbot/internal/meeting"
	"gtbot/internal/schedule"
)

// memoryStore keeps everything in process memory. It backs tests and
// throwaway runs; nothing survives a restart.
type memoryStore struct {
	mu sync.Mutex

	users    map[int64]meeting.User
	meetings map[int64]meeting.Meeting
	regs     map[int64]meeting.Registration
	jobs     map[string]schedule.Job

	nextMeetingID int64
	nextRegID     int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		users:    make(map[int64]meeting.User),
		meetings: make(map[int64]meeting.Meeting),
		regs:     make(map[int64]meeting.Registration),
		jobs:     make(map[string]schedule.Job),
	}
}

func (s *memoryStore) Close() error { return nil }

// --- users ---

func (s *memoryStore) UpsertUser(_ context.Context, u meeting.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return nil
}

func (s *memoryStore) GetUser(_ context.Context, id int64) (meeting.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return meeting.User{}, meeting.ErrNotFound
	}
	return u, nil
}

// --- meetings ---

func (s *memoryStore) CreateMeeting(_ context.Context, m *meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMeetingID++
	m.ID = s.nextMeetingID
	s.meetings[m.ID] = *m
	return nil
}

func (s *memoryStore) GetMeeting(_ context.Context, id int64) (meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return meeting.Meeting{}, meeting.ErrNotFound
	}
	return m, nil
}

func (s *memoryStore) UpdateMeeting(_ context.Context, m meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[m.ID]; !ok {
		return meeting.ErrNotFound
	}
	s.meetings[m.ID] = m
	return nil
}

func (s *memoryStore) ListUpcomingMeetings(_ context.Context, now time.Time) ([]meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []meeting.Meeting
	for _, m := range s.meetings {
		if m.Active() && !m.StartAt.Before(now) {
			out = append(out, m)
		}
	}
	sortMeetings(out)
	return out, nil
}

func (s *memoryStore) ListMeetingsForUser(_ context.Context, userID int64) ([]meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[int64]bool)
	for _, m := range s.meetings {
		if m.HostID == userID {
			ids[m.ID] = true
		}
	}
	for _, r := range s.regs {
		if r.UserID == userID && r.Status != meeting.StatusCanceled {
			ids[r.MeetingID] = true
		}
	}
	var out []meeting.Meeting
	for id := range ids {
		out = append(out, s.meetings[id])
	}
	sortMeetings(out)
	return out, nil
}

// --- registrations ---

func (s *memoryStore) CreateRegistration(_ context.Context, r *meeting.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRegID++
	r.ID = s.nextRegID
	s.regs[r.ID] = *r
	return nil
}

func (s *memoryStore) ActiveRegistration(_ context.Context, meetingID, userID int64) (meeting.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.MeetingID == meetingID && r.UserID == userID && r.Status != meeting.StatusCanceled {
			return r, nil
		}
	}
	return meeting.Registration{}, meeting.ErrNotFound
}

func (s *memoryStore) ListRegistrations(_ context.Context, meetingID int64, status meeting.RegStatus) ([]meeting.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []meeting.Registration
	for _, r := range s.regs {
		if r.MeetingID == meetingID && r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateRegistration(_ context.Context, r meeting.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[r.ID]; !ok {
		return meeting.ErrNotFound
	}
	s.regs[r.ID] = r
	return nil
}

func (s *memoryStore) CountConfirmed(_ context.Context, meetingID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.regs {
		if r.MeetingID == meetingID && r.Status == meeting.StatusConfirmed {
			n++
		}
	}
	return n, nil
}

// --- jobs ---

func (s *memoryStore) CreateJob(_ context.Context, j *schedule.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = *j
	return nil
}

func (s *memoryStore) GetJob(_ context.Context, id string) (schedule.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return schedule.Job{}, schedule.ErrJobNotFound
	}
	return j, nil
}

func (s *memoryStore) ListPendingJobs(_ context.Context) ([]schedule.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedule.Job
	for _, j := range s.jobs {
		if j.Status == schedule.StatusPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *memoryStore) SwapJobStatus(_ context.Context, id string, from, to schedule.JobStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, schedule.ErrJobNotFound
	}
	if j.Status != from {
		return false, nil
	}
	j.Status = to
	if to == schedule.StatusFired {
		j.Attempts++
		t := at
		j.LastAttemptAt = &t
	}
	s.jobs[id] = j
	return true, nil
}

func (s *memoryStore) CancelJobsForMeeting(_ context.Context, meetingID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.MeetingID == meetingID && j.Status == schedule.StatusPending {
			j.Status = schedule.StatusCanceled
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func sortMeetings(ms []meeting.Meeting) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].StartAt.Equal(ms[j].StartAt) {
			return ms[i].StartAt.Before(ms[j].StartAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
