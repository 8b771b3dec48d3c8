package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtbot/internal/clock"
	logx "gtbot/pkg/logx"
)

// Notifier delivers a rendered message to a chat. Delivery failures are
// recorded but never abort the operation that triggered them.
type Notifier interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Renderer turns lifecycle events into user-facing text. Implemented by
// the transport layer; the service never formats messages itself.
type Renderer interface {
	Promoted(m Meeting) string
	Canceled(m Meeting, reason string) string
}

// ReminderScheduler is the slice of the scheduling engine the lifecycle
// service drives: reminder jobs are created with the meeting and dropped
// with it.
type ReminderScheduler interface {
	ScheduleMeetingReminders(ctx context.Context, m Meeting) error
	CancelJobsForMeeting(ctx context.Context, meetingID int64) error
}

// CreateParams are the validated inputs for a new meeting.
type CreateParams struct {
	Topic           string
	Description     string
	StartAt         time.Time // any zone; stored as UTC
	MaxParticipants int
	Location        string
}

// Service implements the meeting lifecycle state machine.
//
// All mutations for a given meeting are serialized through a per-meeting
// lock; Notifier calls always happen outside the critical section.
type Service struct {
	store    Store
	clk      clock.Clock
	notifier Notifier
	render   Renderer
	log      logx.Logger

	sched ReminderScheduler

	admins map[int64]bool
	locks  *keyedMutex
}

func NewService(store Store, clk clock.Clock, notifier Notifier, render Renderer, admins []int64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	adminSet := make(map[int64]bool, len(admins))
	for _, id := range admins {
		adminSet[id] = true
	}
	return &Service{
		store:    store,
		clk:      clk,
		notifier: notifier,
		render:   render,
		log:      log,
		admins:   adminSet,
		locks:    newKeyedMutex(),
	}
}

// SetScheduler wires the scheduling engine in after construction.
// The two engines reference each other (reminders one way, audience
// resolution the other), so one side has to be attached late.
func (s *Service) SetScheduler(sched ReminderScheduler) { s.sched = sched }

// notice is a pending notification, delivered after the per-meeting lock
// is released.
type notice struct {
	chatID int64
	text   string
}

func (s *Service) deliverAll(ctx context.Context, notices []notice) {
	for _, n := range notices {
		if err := s.notifier.Deliver(ctx, n.chatID, n.text); err != nil {
			s.log.Warn("notification delivery failed",
				logx.Int64("chat_id", n.chatID), logx.Err(err))
		}
	}
}

// Create validates the params, persists the meeting, auto-registers the
// host as confirmed, and synchronously schedules the reminder jobs.
// Reminders whose fire instant is already in the past are skipped by the
// scheduling engine, never fired immediately.
func (s *Service) Create(ctx context.Context, host User, p CreateParams) (Meeting, error) {
	now := s.clk.Now()
	if strings.TrimSpace(p.Topic) == "" {
		return Meeting{}, invalidInput("topic must not be empty")
	}
	if p.MaxParticipants < 1 {
		return Meeting{}, invalidInput("max participants must be >= 1")
	}
	start := p.StartAt.UTC()
	if !start.After(now) {
		return Meeting{}, invalidInput("start time must be in the future")
	}

	if err := s.store.UpsertUser(ctx, host); err != nil {
		return Meeting{}, fmt.Errorf("upsert host: %w", err)
	}

	m := Meeting{
		Topic:           strings.TrimSpace(p.Topic),
		Description:     strings.TrimSpace(p.Description),
		StartAt:         start,
		MaxParticipants: p.MaxParticipants,
		Location:        strings.TrimSpace(p.Location),
		HostID:          host.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateMeeting(ctx, &m); err != nil {
		return Meeting{}, fmt.Errorf("create meeting: %w", err)
	}

	// The host attends their own meeting.
	reg := Registration{
		MeetingID: m.ID,
		UserID:    host.ID,
		Status:    StatusConfirmed,
		CreatedAt: now,
	}
	if err := s.store.CreateRegistration(ctx, &reg); err != nil {
		return Meeting{}, fmt.Errorf("register host: %w", err)
	}

	if s.sched != nil {
		if err := s.sched.ScheduleMeetingReminders(ctx, m); err != nil {
			// Reminder jobs are created with the meeting; if that fails,
			// undo the creation rather than leave a half-wired meeting.
			canceledAt := now
			m.CanceledAt = &canceledAt
			if uerr := s.store.UpdateMeeting(ctx, m); uerr != nil {
				s.log.Error("rollback after reminder scheduling failure",
					logx.Int64("meeting_id", m.ID), logx.Err(uerr))
			}
			return Meeting{}, fmt.Errorf("schedule reminders: %w", err)
		}
	}

	s.log.Info("meeting created",
		logx.Int64("meeting_id", m.ID),
		logx.Int64("host_id", host.ID),
		logx.Time("start_at", m.StartAt),
		logx.Int("max", m.MaxParticipants))
	return m, nil
}

// Edit applies a patch to an active meeting. Only the host or an admin
// may edit. A start-time change cancels and recomputes the pending
// reminder jobs; a capacity increase promotes from the waitlist; a
// capacity reduction below the current confirmed count is rejected.
func (s *Service) Edit(ctx context.Context, actorID, meetingID int64, patch Patch) (Meeting, error) {
	lock := s.locks.lock(meetingID)

	m, notices, err := s.editLocked(ctx, actorID, meetingID, patch)
	lock.Unlock()
	if err != nil {
		return Meeting{}, err
	}
	s.deliverAll(ctx, notices)
	return m, nil
}

func (s *Service) editLocked(ctx context.Context, actorID, meetingID int64, patch Patch) (Meeting, []notice, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return Meeting{}, nil, err
	}
	if !m.Active() {
		return Meeting{}, nil, ErrMeetingCanceled
	}
	if !s.isHostOrAdmin(actorID, m) {
		return Meeting{}, nil, ErrForbidden
	}

	now := s.clk.Now()
	startChanged := false
	capacityGrew := false

	if patch.Topic != nil {
		if strings.TrimSpace(*patch.Topic) == "" {
			return Meeting{}, nil, invalidInput("topic must not be empty")
		}
		m.Topic = strings.TrimSpace(*patch.Topic)
	}
	if patch.Description != nil {
		m.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Location != nil {
		m.Location = strings.TrimSpace(*patch.Location)
	}
	if patch.StartAt != nil {
		start := patch.StartAt.UTC()
		if !start.After(now) {
			return Meeting{}, nil, invalidInput("start time must be in the future")
		}
		if !start.Equal(m.StartAt) {
			m.StartAt = start
			startChanged = true
		}
	}
	if patch.MaxParticipants != nil {
		max := *patch.MaxParticipants
		if max < 1 {
			return Meeting{}, nil, invalidInput("max participants must be >= 1")
		}
		confirmed, err := s.store.CountConfirmed(ctx, meetingID)
		if err != nil {
			return Meeting{}, nil, err
		}
		if max < confirmed {
			return Meeting{}, nil, invalidInput("max participants cannot drop below the %d confirmed registrations", confirmed)
		}
		capacityGrew = max > m.MaxParticipants
		m.MaxParticipants = max
	}

	m.UpdatedAt = now
	if err := s.store.UpdateMeeting(ctx, m); err != nil {
		return Meeting{}, nil, fmt.Errorf("update meeting: %w", err)
	}

	if startChanged && s.sched != nil {
		if err := s.sched.CancelJobsForMeeting(ctx, m.ID); err != nil {
			return Meeting{}, nil, fmt.Errorf("cancel reminder jobs: %w", err)
		}
		if err := s.sched.ScheduleMeetingReminders(ctx, m); err != nil {
			return Meeting{}, nil, fmt.Errorf("reschedule reminders: %w", err)
		}
	}

	var notices []notice
	if capacityGrew {
		notices, err = s.promoteLocked(ctx, m)
		if err != nil {
			return Meeting{}, nil, err
		}
	}

	s.log.Info("meeting updated", logx.Int64("meeting_id", m.ID), logx.Int64("actor_id", actorID))
	return m, notices, nil
}

// Cancel soft-deletes a meeting: cancellation timestamp set, all active
// registrations cascaded to canceled, pending jobs dropped, and the prior
// audience notified immediately (a direct Notifier call, not a job).
func (s *Service) Cancel(ctx context.Context, actorID, meetingID int64, reason string) error {
	lock := s.locks.lock(meetingID)

	notices, err := s.cancelLocked(ctx, actorID, meetingID, reason)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.deliverAll(ctx, notices)
	return nil
}

func (s *Service) cancelLocked(ctx context.Context, actorID, meetingID int64, reason string) ([]notice, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !m.Active() {
		return nil, ErrMeetingCanceled
	}
	if !s.isHostOrAdmin(actorID, m) {
		return nil, ErrForbidden
	}

	// Resolve the audience before the cascade wipes it.
	audience, err := s.audienceLocked(ctx, m)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	m.CanceledAt = &now
	m.UpdatedAt = now
	if err := s.store.UpdateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("cancel meeting: %w", err)
	}

	for _, status := range []RegStatus{StatusConfirmed, StatusWaitlisted} {
		regs, err := s.store.ListRegistrations(ctx, meetingID, status)
		if err != nil {
			return nil, err
		}
		for _, r := range regs {
			r.Status = StatusCanceled
			r.Position = 0
			if err := s.store.UpdateRegistration(ctx, r); err != nil {
				return nil, fmt.Errorf("cascade registration %d: %w", r.ID, err)
			}
		}
	}

	if s.sched != nil {
		if err := s.sched.CancelJobsForMeeting(ctx, meetingID); err != nil {
			return nil, fmt.Errorf("cancel jobs: %w", err)
		}
	}

	text := s.render.Canceled(m, reason)
	notices := make([]notice, 0, len(audience))
	for _, uid := range audience {
		notices = append(notices, notice{chatID: uid, text: text})
	}

	s.log.Info("meeting canceled",
		logx.Int64("meeting_id", meetingID),
		logx.Int64("actor_id", actorID),
		logx.Int("notified", len(notices)))
	return notices, nil
}

// Register adds the user to the meeting: confirmed while capacity
// remains, waitlisted (FIFO) once full. At most one non-canceled
// registration may exist per (meeting, user).
func (s *Service) Register(ctx context.Context, user User, meetingID int64) (RegResult, error) {
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return RegResult{}, fmt.Errorf("upsert user: %w", err)
	}

	lock := s.locks.lock(meetingID)
	defer lock.Unlock()

	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return RegResult{}, err
	}
	if !m.Active() {
		return RegResult{}, ErrMeetingCanceled
	}
	if _, err := s.store.ActiveRegistration(ctx, meetingID, user.ID); err == nil {
		return RegResult{}, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return RegResult{}, err
	}

	confirmed, err := s.store.CountConfirmed(ctx, meetingID)
	if err != nil {
		return RegResult{}, err
	}

	reg := Registration{
		MeetingID: meetingID,
		UserID:    user.ID,
		CreatedAt: s.clk.Now(),
	}
	if confirmed < m.MaxParticipants {
		reg.Status = StatusConfirmed
	} else {
		waitlist, err := s.store.ListRegistrations(ctx, meetingID, StatusWaitlisted)
		if err != nil {
			return RegResult{}, err
		}
		reg.Status = StatusWaitlisted
		reg.Position = len(waitlist) + 1
	}
	if err := s.store.CreateRegistration(ctx, &reg); err != nil {
		return RegResult{}, fmt.Errorf("create registration: %w", err)
	}

	s.log.Info("registration created",
		logx.Int64("meeting_id", meetingID),
		logx.Int64("user_id", user.ID),
		logx.String("status", string(reg.Status)),
		logx.Int("position", reg.Position))
	return RegResult{Status: reg.Status, Position: reg.Position}, nil
}

// Unregister cancels the user's registration. Freeing a confirmed slot
// promotes the earliest waitlisted registration.
func (s *Service) Unregister(ctx context.Context, userID, meetingID int64) error {
	lock := s.locks.lock(meetingID)

	notices, err := s.unregisterLocked(ctx, userID, meetingID)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.deliverAll(ctx, notices)
	return nil
}

func (s *Service) unregisterLocked(ctx context.Context, userID, meetingID int64) ([]notice, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	reg, err := s.store.ActiveRegistration(ctx, meetingID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}

	wasConfirmed := reg.Status == StatusConfirmed
	reg.Status = StatusCanceled
	reg.Position = 0
	if err := s.store.UpdateRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("cancel registration: %w", err)
	}

	if !wasConfirmed {
		// A waitlist entry left a hole; close it.
		if err := s.resequenceWaitlistLocked(ctx, meetingID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if !m.Active() {
		return nil, nil
	}
	notices, err := s.promoteLocked(ctx, m)
	if err != nil {
		return nil, err
	}

	s.log.Info("registration canceled",
		logx.Int64("meeting_id", meetingID),
		logx.Int64("user_id", userID),
		logx.Int("promoted", len(notices)))
	return notices, nil
}

// promoteLocked moves waitlisted registrations into freed confirmed
// slots, earliest position first, repeating while slots remain. Exactly
// one notice is queued per promoted participant. Callers must hold the
// meeting lock.
func (s *Service) promoteLocked(ctx context.Context, m Meeting) ([]notice, error) {
	confirmed, err := s.store.CountConfirmed(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	free := m.MaxParticipants - confirmed
	if free <= 0 {
		return nil, nil
	}

	waitlist, err := s.store.ListRegistrations(ctx, m.ID, StatusWaitlisted)
	if err != nil {
		return nil, err
	}

	var notices []notice
	for _, r := range waitlist {
		if free <= 0 {
			break
		}
		r.Status = StatusConfirmed
		r.Position = 0
		if err := s.store.UpdateRegistration(ctx, r); err != nil {
			// The registration stays waitlisted on a write conflict; the
			// next promotion run picks it up again. Confirmed count never
			// exceeds capacity because nothing was committed.
			return notices, fmt.Errorf("promote registration %d: %w", r.ID, err)
		}
		free--
		notices = append(notices, notice{chatID: r.UserID, text: s.render.Promoted(m)})
	}

	if len(notices) > 0 {
		if err := s.resequenceWaitlistLocked(ctx, m.ID); err != nil {
			return notices, err
		}
	}
	return notices, nil
}

// resequenceWaitlistLocked renumbers the remaining waitlist 1..n so
// positions stay contiguous and strictly increasing.
func (s *Service) resequenceWaitlistLocked(ctx context.Context, meetingID int64) error {
	waitlist, err := s.store.ListRegistrations(ctx, meetingID, StatusWaitlisted)
	if err != nil {
		return err
	}
	for i, r := range waitlist {
		want := i + 1
		if r.Position == want {
			continue
		}
		r.Position = want
		if err := s.store.UpdateRegistration(ctx, r); err != nil {
			return fmt.Errorf("resequence registration %d: %w", r.ID, err)
		}
	}
	return nil
}

// Get returns a meeting by id.
func (s *Service) Get(ctx context.Context, meetingID int64) (Meeting, error) {
	return s.store.GetMeeting(ctx, meetingID)
}

// GetUser returns a known user by id.
func (s *Service) GetUser(ctx context.Context, userID int64) (User, error) {
	return s.store.GetUser(ctx, userID)
}

// ConfirmedCount returns the number of confirmed registrations.
func (s *Service) ConfirmedCount(ctx context.Context, meetingID int64) (int, error) {
	return s.store.CountConfirmed(ctx, meetingID)
}

// WaitlistSize returns the number of waitlisted registrations.
func (s *Service) WaitlistSize(ctx context.Context, meetingID int64) (int, error) {
	wl, err := s.store.ListRegistrations(ctx, meetingID, StatusWaitlisted)
	if err != nil {
		return 0, err
	}
	return len(wl), nil
}

// ListUpcoming returns active future meetings ordered by start time.
// Each call re-queries the store, so the sequence is restartable.
func (s *Service) ListUpcoming(ctx context.Context) ([]Meeting, error) {
	return s.store.ListUpcomingMeetings(ctx, s.clk.Now())
}

// ListMine returns meetings the user hosts or is actively registered for.
func (s *Service) ListMine(ctx context.Context, userID int64) ([]Meeting, error) {
	return s.store.ListMeetingsForUser(ctx, userID)
}

// Audience resolves the current audience of a meeting: the host plus all
// currently confirmed participants, deduplicated, at call time.
func (s *Service) Audience(ctx context.Context, meetingID int64) ([]int64, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return s.audienceLocked(ctx, m)
}

func (s *Service) audienceLocked(ctx context.Context, m Meeting) ([]int64, error) {
	regs, err := s.store.ListRegistrations(ctx, m.ID, StatusConfirmed)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{m.HostID: true}
	out := []int64{m.HostID}
	for _, r := range regs {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		out = append(out, r.UserID)
	}
	return out, nil
}

func (s *Service) isHostOrAdmin(actorID int64, m Meeting) bool {
	return actorID == m.HostID || s.admins[actorID]
}
