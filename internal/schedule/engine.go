package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gtbot/internal/clock"
	"gtbot/internal/meeting"
	logx "gtbot/pkg/logx"
)

// Notifier delivers a rendered message to a chat.
type Notifier interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Renderer turns scheduling events into user-facing text.
type Renderer interface {
	Reminder(m meeting.Meeting, kind JobKind) string
	Digest(ms []meeting.Meeting) string
}

// MeetingSource is the slice of the lifecycle service the engine reads:
// meeting state and audiences are resolved at fire time, never captured
// in the job.
type MeetingSource interface {
	Get(ctx context.Context, meetingID int64) (meeting.Meeting, error)
	Audience(ctx context.Context, meetingID int64) ([]int64, error)
	ListUpcoming(ctx context.Context) ([]meeting.Meeting, error)
}

// reminderOffsets maps reminder kinds to how long before the meeting
// start they fire.
var reminderOffsets = []struct {
	Kind   JobKind
	Before time.Duration
}{
	{KindReminder3d, 72 * time.Hour},
	{KindReminder1d, 24 * time.Hour},
}

// digestLimit caps how many meetings an announcement lists.
const digestLimit = 10

// Options tune the engine. AnnounceDays/AnnounceAt are interpreted in
// Location; AnnounceChatID of 0 disables announcements entirely.
type Options struct {
	Location       *time.Location
	AnnounceDays   []int
	AnnounceHour   int
	AnnounceMinute int
	AnnounceChatID int64

	RetryMax      int           // additional attempts after a failure
	RetryBase     time.Duration // first retry delay, doubled each attempt
	RetryMaxDelay time.Duration // backoff ceiling
}

func (o *Options) normalize() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 30 * time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Minute
	}
}

// Engine persists notification jobs and fires them at their instant.
// Firing goes through a pending-to-fired compare-and-swap, so duplicate
// wakeups (two timers, a timer racing rehydration) resolve to exactly
// one delivery. Restart recovery re-reads pending jobs from the store.
type Engine struct {
	store    Store
	clk      clock.Clock
	notifier Notifier
	render   Renderer
	meetings MeetingSource
	log      logx.Logger
	opts     Options
	announce *announceSchedule

	mu      sync.Mutex
	timers  map[string]*time.Timer
	runCtx  context.Context
	started bool
}

func NewEngine(store Store, clk clock.Clock, notifier Notifier, render Renderer, meetings MeetingSource, opts Options, log logx.Logger) (*Engine, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts.normalize()

	var ann *announceSchedule
	if opts.AnnounceChatID != 0 {
		var err error
		ann, err = newAnnounceSchedule(opts.AnnounceDays, opts.AnnounceHour, opts.AnnounceMinute, opts.Location)
		if err != nil {
			return nil, fmt.Errorf("announcement schedule: %w", err)
		}
	}

	return &Engine{
		store:    store,
		clk:      clk,
		notifier: notifier,
		render:   render,
		meetings: meetings,
		log:      log,
		opts:     opts,
		announce: ann,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start rehydrates pending jobs from the store, fires the overdue ones,
// arms timers for the rest, and makes sure the next announcement job
// exists. ctx bounds the lifetime of every timer callback.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("schedule: engine already started")
	}
	e.started = true
	e.runCtx = ctx
	e.mu.Unlock()

	pending, err := e.store.ListPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}

	now := e.clk.Now()
	overdue := 0
	for _, j := range pending {
		if !j.FireAt.After(now) {
			overdue++
		}
		e.armJob(j)
	}
	e.log.Info("schedule engine started",
		logx.Int("pending", len(pending)), logx.Int("overdue", overdue))

	if e.announce != nil {
		if err := e.ensureAnnouncementJob(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

// Stop drops every armed timer. In-flight firings finish on their own;
// jobs whose timers are dropped stay pending and rehydrate on the next
// Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.started = false
}

// ScheduleMeetingReminders creates the reminder jobs of a meeting.
// A reminder whose fire instant is not in the future is skipped, never
// fired immediately.
func (e *Engine) ScheduleMeetingReminders(ctx context.Context, m meeting.Meeting) error {
	now := e.clk.Now()
	for _, ro := range reminderOffsets {
		fireAt := m.StartAt.Add(-ro.Before)
		if !fireAt.After(now) {
			e.log.Debug("reminder in the past, skipped",
				logx.Int64("meeting_id", m.ID),
				logx.String("kind", string(ro.Kind)),
				logx.Time("fire_at", fireAt))
			continue
		}
		j := Job{
			ID:        uuid.NewString(),
			Kind:      ro.Kind,
			MeetingID: m.ID,
			FireAt:    fireAt,
			Status:    StatusPending,
			CreatedAt: now,
		}
		if err := e.store.CreateJob(ctx, &j); err != nil {
			return fmt.Errorf("create %s job: %w", ro.Kind, err)
		}
		e.armJob(j)
	}
	return nil
}

// CancelJobsForMeeting marks the meeting's pending jobs canceled. Armed
// timers are left alone: their wakeup loses the compare-and-swap and
// does nothing.
func (e *Engine) CancelJobsForMeeting(ctx context.Context, meetingID int64) error {
	n, err := e.store.CancelJobsForMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if n > 0 {
		e.log.Info("jobs canceled", logx.Int64("meeting_id", meetingID), logx.Int("count", n))
	}
	return nil
}

// FireDue synchronously fires every pending job whose instant has
// arrived and returns how many fired. Rehydration overdue handling and
// tests drive the engine through this path.
func (e *Engine) FireDue(ctx context.Context) (int, error) {
	pending, err := e.store.ListPendingJobs(ctx)
	if err != nil {
		return 0, err
	}
	now := e.clk.Now()
	fired := 0
	for _, j := range pending {
		if j.FireAt.After(now) {
			continue
		}
		if e.fireJob(ctx, j.ID) {
			fired++
		}
	}
	return fired, nil
}

// armJob schedules a wakeup for the job. Overdue jobs wake immediately.
func (e *Engine) armJob(j Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	if t, ok := e.timers[j.ID]; ok {
		t.Stop()
	}
	delay := j.FireAt.Sub(e.clk.Now())
	if delay < 0 {
		delay = 0
	}
	id := j.ID
	ctx := e.runCtx
	e.timers[id] = time.AfterFunc(delay, func() {
		e.dropTimer(id)
		if ctx.Err() != nil {
			return
		}
		e.fireJob(ctx, id)
	})
}

func (e *Engine) dropTimer(id string) {
	e.mu.Lock()
	delete(e.timers, id)
	e.mu.Unlock()
}

// fireJob is the single firing path: re-read, win the pending-to-fired
// swap, process, and on failure flip to failed and arm a retry. Returns
// whether this call won the swap.
func (e *Engine) fireJob(ctx context.Context, id string) bool {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			e.log.Warn("job read failed", logx.String("job_id", id), logx.Err(err))
		}
		return false
	}
	if job.Status != StatusPending {
		return false
	}

	now := e.clk.Now()
	if job.FireAt.After(now) {
		// Woke early (clock adjustment); push the timer back out.
		e.armJob(job)
		return false
	}

	swapped, err := e.store.SwapJobStatus(ctx, id, StatusPending, StatusFired, now)
	if err != nil {
		e.log.Warn("job swap failed", logx.String("job_id", id), logx.Err(err))
		return false
	}
	if !swapped {
		return false
	}
	job.Attempts++

	if err := e.process(ctx, job); err != nil {
		e.log.Warn("job processing failed",
			logx.String("job_id", id),
			logx.String("kind", string(job.Kind)),
			logx.Int("attempts", job.Attempts),
			logx.Err(err))
		e.failAndRetry(ctx, job)
		return true
	}

	e.log.Info("job fired",
		logx.String("job_id", id),
		logx.String("kind", string(job.Kind)),
		logx.Int64("meeting_id", job.MeetingID))
	return true
}

func (e *Engine) process(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindReminder3d, KindReminder1d:
		return e.processReminder(ctx, job)
	case KindAnnouncement:
		return e.processAnnouncement(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// processReminder resolves the meeting and its audience at fire time.
// A canceled or already-started meeting makes the reminder a no-op.
// Per-recipient delivery failures are logged, not retried: a retry
// would redeliver to everyone who already got the message.
func (e *Engine) processReminder(ctx context.Context, job Job) error {
	m, err := e.meetings.Get(ctx, job.MeetingID)
	if errors.Is(err, meeting.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve meeting: %w", err)
	}
	if !m.Active() || !m.StartAt.After(e.clk.Now()) {
		return nil
	}

	audience, err := e.meetings.Audience(ctx, job.MeetingID)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	text := e.render.Reminder(m, job.Kind)
	var wg sync.WaitGroup
	for _, uid := range audience {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			if err := e.notifier.Deliver(ctx, uid, text); err != nil {
				e.log.Warn("reminder delivery failed",
					logx.String("job_id", job.ID),
					logx.Int64("chat_id", uid),
					logx.Err(err))
			}
		}(uid)
	}
	wg.Wait()
	return nil
}

// processAnnouncement posts the upcoming-meetings digest and chains the
// next occurrence as a fresh job, so the announcement series survives
// even when a single delivery fails.
func (e *Engine) processAnnouncement(ctx context.Context, job Job) error {
	// Chain the next occurrence on the first attempt only; retries of a
	// failed delivery must not multiply the series.
	if job.Attempts <= 1 {
		if err := e.scheduleNextAnnouncement(ctx); err != nil {
			return err
		}
	}

	ms, err := e.meetings.ListUpcoming(ctx)
	if err != nil {
		return fmt.Errorf("list upcoming: %w", err)
	}
	if len(ms) > digestLimit {
		ms = ms[:digestLimit]
	}
	if err := e.notifier.Deliver(ctx, e.opts.AnnounceChatID, e.render.Digest(ms)); err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	return nil
}

func (e *Engine) scheduleNextAnnouncement(ctx context.Context) error {
	if e.announce == nil {
		return nil
	}
	next := e.announce.Next(e.clk.Now())
	j := Job{
		ID:        uuid.NewString(),
		Kind:      KindAnnouncement,
		FireAt:    next,
		Status:    StatusPending,
		CreatedAt: e.clk.Now(),
	}
	if err := e.store.CreateJob(ctx, &j); err != nil {
		return fmt.Errorf("create announcement job: %w", err)
	}
	e.armJob(j)
	e.log.Info("announcement scheduled", logx.Time("fire_at", next))
	return nil
}

// ensureAnnouncementJob creates the first announcement job when none is
// pending, e.g. on a fresh database.
func (e *Engine) ensureAnnouncementJob(ctx context.Context, pending []Job) error {
	for _, j := range pending {
		if j.Kind == KindAnnouncement {
			return nil
		}
	}
	return e.scheduleNextAnnouncement(ctx)
}

// failAndRetry flips the job to failed and, while attempts remain, arms
// a delayed failed-to-pending swap followed by a regular firing. Past
// the attempt budget the job stays failed.
func (e *Engine) failAndRetry(ctx context.Context, job Job) {
	if _, err := e.store.SwapJobStatus(ctx, job.ID, StatusFired, StatusFailed, e.clk.Now()); err != nil {
		e.log.Warn("job fail mark failed", logx.String("job_id", job.ID), logx.Err(err))
		return
	}

	if job.Attempts > e.opts.RetryMax {
		e.log.Error("job exhausted retries",
			logx.String("job_id", job.ID),
			logx.String("kind", string(job.Kind)),
			logx.Int64("meeting_id", job.MeetingID),
			logx.Int("attempts", job.Attempts))
		return
	}

	delay := e.backoff(job.Attempts)
	e.log.Info("job retry armed",
		logx.String("job_id", job.ID),
		logx.Int("attempts", job.Attempts),
		logx.Duration("delay", delay))

	id := job.ID
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	runCtx := e.runCtx
	e.timers[id] = time.AfterFunc(delay, func() {
		e.dropTimer(id)
		if runCtx.Err() != nil {
			return
		}
		e.retryJob(runCtx, id)
	})
	e.mu.Unlock()
}

// retryJob re-opens a failed job and fires it, unless the job already
// spent its attempt budget.
func (e *Engine) retryJob(ctx context.Context, id string) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil || job.Status != StatusFailed || job.Attempts > e.opts.RetryMax {
		return
	}
	swapped, err := e.store.SwapJobStatus(ctx, id, StatusFailed, StatusPending, e.clk.Now())
	if err != nil || !swapped {
		return
	}
	e.fireJob(ctx, id)
}

// RetryFailed re-opens and fires a failed job immediately, bypassing the
// backoff delay. Tests drive retries deterministically through it.
func (e *Engine) RetryFailed(ctx context.Context, id string) { e.retryJob(ctx, id) }

func (e *Engine) backoff(attempts int) time.Duration {
	d := e.opts.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= e.opts.RetryMaxDelay {
			return e.opts.RetryMaxDelay
		}
	}
	if d > e.opts.RetryMaxDelay {
		d = e.opts.RetryMaxDelay
	}
	return d
}
