package meeting_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtbot/internal/clock"
	"gtbot/internal/meeting"
	"gtbot/internal/storage"
	logx "gtbot/pkg/logx"
)

type recordedNotice struct {
	ChatID int64
	Text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []recordedNotice
}

func (f *fakeNotifier) Deliver(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedNotice{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeNotifier) take() []recordedNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeRenderer struct{}

func (fakeRenderer) Promoted(m meeting.Meeting) string {
	return fmt.Sprintf("promoted:%d", m.ID)
}

func (fakeRenderer) Canceled(m meeting.Meeting, reason string) string {
	return fmt.Sprintf("canceled:%d:%s", m.ID, reason)
}

type fakeScheduler struct {
	scheduled []int64
	canceled  []int64
}

func (f *fakeScheduler) ScheduleMeetingReminders(_ context.Context, m meeting.Meeting) error {
	f.scheduled = append(f.scheduled, m.ID)
	return nil
}

func (f *fakeScheduler) CancelJobsForMeeting(_ context.Context, meetingID int64) error {
	f.canceled = append(f.canceled, meetingID)
	return nil
}

type fixture struct {
	svc      *meeting.Service
	store    storage.Store
	notifier *fakeNotifier
	sched    *fakeScheduler
	clk      *clock.Fake
}

func newFixture(t *testing.T, admins ...int64) *fixture {
	t.Helper()
	st := storage.NewMemory()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	notifier := &fakeNotifier{}
	sched := &fakeScheduler{}
	svc := meeting.NewService(st, clk, notifier, fakeRenderer{}, admins, logx.Nop())
	svc.SetScheduler(sched)
	return &fixture{svc: svc, store: st, notifier: notifier, sched: sched, clk: clk}
}

func (f *fixture) user(id int64) meeting.User {
	return meeting.User{ID: id, Name: fmt.Sprintf("user-%d", id)}
}

func (f *fixture) create(t *testing.T, hostID int64, max int) meeting.Meeting {
	t.Helper()
	m, err := f.svc.Create(context.Background(), f.user(hostID), meeting.CreateParams{
		Topic:           "monthly meetup",
		StartAt:         f.clk.Now().Add(10 * 24 * time.Hour),
		MaxParticipants: max,
		Location:        "Cafe Mitte",
	})
	require.NoError(t, err)
	return m
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.user(1), meeting.CreateParams{
		Topic: "x", StartAt: f.clk.Now().Add(-time.Hour), MaxParticipants: 5,
	})
	assert.True(t, meeting.IsInvalidInput(err), "past start must be rejected")

	_, err = f.svc.Create(ctx, f.user(1), meeting.CreateParams{
		Topic: "x", StartAt: f.clk.Now().Add(time.Hour), MaxParticipants: 0,
	})
	assert.True(t, meeting.IsInvalidInput(err), "zero capacity must be rejected")

	_, err = f.svc.Create(ctx, f.user(1), meeting.CreateParams{
		Topic: "  ", StartAt: f.clk.Now().Add(time.Hour), MaxParticipants: 1,
	})
	assert.True(t, meeting.IsInvalidInput(err), "blank topic must be rejected")
}

func TestCreateAutoRegistersHostAndSchedulesReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.create(t, 1, 3)

	n, err := f.svc.ConfirmedCount(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "host occupies one confirmed slot")

	assert.Equal(t, []int64{m.ID}, f.sched.scheduled)

	// Registering the host again is a duplicate.
	_, err = f.svc.Register(ctx, f.user(1), m.ID)
	assert.ErrorIs(t, err, meeting.ErrAlreadyRegistered)
}

func TestRegisterFillsCapacityThenWaitlists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 2) // host takes slot 1

	res, err := f.svc.Register(ctx, f.user(2), m.ID)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusConfirmed, res.Status)

	res, err = f.svc.Register(ctx, f.user(3), m.ID)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusWaitlisted, res.Status)
	assert.Equal(t, 1, res.Position)

	res, err = f.svc.Register(ctx, f.user(4), m.ID)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusWaitlisted, res.Status)
	assert.Equal(t, 2, res.Position)

	n, err := f.svc.ConfirmedCount(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "confirmed never exceeds capacity")
}

func TestUnregisterPromotesEarliestWaitlisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 2)

	// A confirmed, B and C waitlisted in order.
	_, err := f.svc.Register(ctx, f.user(10), m.ID) // A, confirmed
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, f.user(11), m.ID) // B, position 1
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, f.user(12), m.ID) // C, position 2
	require.NoError(t, err)

	f.notifier.take()
	require.NoError(t, f.svc.Unregister(ctx, 10, m.ID))

	reg, err := f.store.ActiveRegistration(ctx, m.ID, 11)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusConfirmed, reg.Status, "B takes the freed slot")

	reg, err = f.store.ActiveRegistration(ctx, m.ID, 12)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusWaitlisted, reg.Status)
	assert.Equal(t, 1, reg.Position, "C moves up to position 1")

	sent := f.notifier.take()
	require.Len(t, sent, 1, "exactly one promotion notification")
	assert.Equal(t, int64(11), sent[0].ChatID)
	assert.Equal(t, fmt.Sprintf("promoted:%d", m.ID), sent[0].Text)
}

func TestUnregisterFromWaitlistResequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 1) // host fills the only slot

	for _, id := range []int64{20, 21, 22} {
		_, err := f.svc.Register(ctx, f.user(id), m.ID)
		require.NoError(t, err)
	}

	// The middle entry leaves; positions must stay 1..n.
	require.NoError(t, f.svc.Unregister(ctx, 21, m.ID))

	wl, err := f.store.ListRegistrations(ctx, m.ID, meeting.StatusWaitlisted)
	require.NoError(t, err)
	require.Len(t, wl, 2)
	assert.Equal(t, int64(20), wl[0].UserID)
	assert.Equal(t, 1, wl[0].Position)
	assert.Equal(t, int64(22), wl[1].UserID)
	assert.Equal(t, 2, wl[1].Position)

	assert.Empty(t, f.notifier.take(), "no slot freed, no promotion")
}

func TestUnregisterWithoutRegistration(t *testing.T) {
	f := newFixture(t)
	m := f.create(t, 1, 2)
	err := f.svc.Unregister(context.Background(), 99, m.ID)
	assert.ErrorIs(t, err, meeting.ErrNotRegistered)
}

func TestCapacityIncreasePromotesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 1)

	for _, id := range []int64{30, 31, 32} {
		_, err := f.svc.Register(ctx, f.user(id), m.ID)
		require.NoError(t, err)
	}
	f.notifier.take()

	max := 3
	_, err := f.svc.Edit(ctx, 1, m.ID, meeting.Patch{MaxParticipants: &max})
	require.NoError(t, err)

	sent := f.notifier.take()
	require.Len(t, sent, 2, "two freed slots, two promotions")
	assert.Equal(t, int64(30), sent[0].ChatID)
	assert.Equal(t, int64(31), sent[1].ChatID)

	wl, err := f.store.ListRegistrations(ctx, m.ID, meeting.StatusWaitlisted)
	require.NoError(t, err)
	require.Len(t, wl, 1)
	assert.Equal(t, int64(32), wl[0].UserID)
	assert.Equal(t, 1, wl[0].Position)
}

func TestCapacityReductionBelowConfirmedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 3)

	_, err := f.svc.Register(ctx, f.user(40), m.ID)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, f.user(41), m.ID)
	require.NoError(t, err)

	max := 2
	_, err = f.svc.Edit(ctx, 1, m.ID, meeting.Patch{MaxParticipants: &max})
	assert.True(t, meeting.IsInvalidInput(err))

	got, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MaxParticipants, "rejected edit leaves capacity unchanged")
}

func TestEditAuthz(t *testing.T) {
	f := newFixture(t, 500) // 500 is admin
	ctx := context.Background()
	m := f.create(t, 1, 2)

	topic := "new topic"
	_, err := f.svc.Edit(ctx, 2, m.ID, meeting.Patch{Topic: &topic})
	assert.ErrorIs(t, err, meeting.ErrForbidden)

	got, err := f.svc.Edit(ctx, 500, m.ID, meeting.Patch{Topic: &topic})
	require.NoError(t, err)
	assert.Equal(t, "new topic", got.Topic)
}

func TestEditStartTimeReschedulesReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 2)

	start := f.clk.Now().Add(20 * 24 * time.Hour)
	got, err := f.svc.Edit(ctx, 1, m.ID, meeting.Patch{StartAt: &start})
	require.NoError(t, err)
	assert.True(t, got.StartAt.Equal(start))

	assert.Equal(t, []int64{m.ID}, f.sched.canceled)
	assert.Equal(t, []int64{m.ID, m.ID}, f.sched.scheduled, "create plus reschedule")
}

func TestCancelCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 2)

	_, err := f.svc.Register(ctx, f.user(50), m.ID)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, f.user(51), m.ID) // waitlisted
	require.NoError(t, err)
	f.notifier.take()

	require.NoError(t, f.svc.Cancel(ctx, 1, m.ID, "venue closed"))

	got, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())

	for _, uid := range []int64{1, 50, 51} {
		_, err := f.store.ActiveRegistration(ctx, m.ID, uid)
		assert.ErrorIs(t, err, meeting.ErrNotFound, "registration of %d must be canceled", uid)
	}

	assert.Equal(t, []int64{m.ID}, f.sched.canceled)

	// Host and confirmed participant are notified; the waitlisted user
	// was never part of the audience.
	sent := f.notifier.take()
	require.Len(t, sent, 2)
	assert.Equal(t, int64(1), sent[0].ChatID)
	assert.Equal(t, int64(50), sent[1].ChatID)
	assert.Contains(t, sent[0].Text, "venue closed")

	// The canceled meeting is immutable.
	_, err = f.svc.Register(ctx, f.user(60), m.ID)
	assert.ErrorIs(t, err, meeting.ErrMeetingCanceled)
	topic := "x"
	_, err = f.svc.Edit(ctx, 1, m.ID, meeting.Patch{Topic: &topic})
	assert.ErrorIs(t, err, meeting.ErrMeetingCanceled)
	err = f.svc.Cancel(ctx, 1, m.ID, "again")
	assert.ErrorIs(t, err, meeting.ErrMeetingCanceled)
}

func TestListUpcomingAndMine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.create(t, 1, 2)
	m2, err := f.svc.Create(ctx, f.user(2), meeting.CreateParams{
		Topic:           "earlier one",
		StartAt:         f.clk.Now().Add(24 * time.Hour),
		MaxParticipants: 5,
	})
	require.NoError(t, err)

	up, err := f.svc.ListUpcoming(ctx)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, m2.ID, up[0].ID, "ordered by start time")
	assert.Equal(t, m1.ID, up[1].ID)

	_, err = f.svc.Register(ctx, f.user(3), m1.ID)
	require.NoError(t, err)

	mine, err := f.svc.ListMine(ctx, 3)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, m1.ID, mine[0].ID)

	hosted, err := f.svc.ListMine(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hosted, 1)
	assert.Equal(t, m2.ID, hosted[0].ID)
}

func TestAudienceDeduplicatesHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, 1, 3) // host auto-registered confirmed

	_, err := f.svc.Register(ctx, f.user(70), m.ID)
	require.NoError(t, err)

	aud, err := f.svc.Audience(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 70}, aud)
}
