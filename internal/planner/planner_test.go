package planner_test

import (
	"context"
	"testing"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/planner"
	"deadlineTracker/internal/repository/deadline/inmemory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*planner.Planner, *inmemory.Storage, *clock.Manual) {
	t.Helper()
	store := inmemory.New()
	clk := clock.NewManual(now)
	return planner.New(store, planner.DefaultConfig(), clk), store, clk
}

func newDeadline(t *testing.T, store *inmemory.Storage, due time.Time, opts ...deadline.Option) *deadline.Deadline {
	t.Helper()
	d := deadline.New(uuid.New(), "Grant", due, opts...)
	require.NoError(t, store.CreateDeadline(context.Background(), d))
	return d
}

func live(list []*reminder.Reminder) []*reminder.Reminder {
	res := []*reminder.Reminder{}
	for _, r := range list {
		if r.IsLive() {
			res = append(res, r)
		}
	}
	return res
}

func TestPlan_LeadTimeFireAt(t *testing.T) {
	ctx := context.Background()
	p, store, _ := setup(t)
	responsible := uuid.New()
	d := newDeadline(t, store, time.Date(2024, time.March, 20, 23, 59, 59, 0, time.UTC),
		deadline.WithResponsible(&responsible))

	res, err := p.Plan(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	r := list[0]
	assert.Equal(t, time.Date(2024, time.March, 13, 9, 0, 0, 0, time.UTC), r.FireAt)
	assert.Equal(t, reminder.KindLeadTime, r.Kind)
	assert.Equal(t, "user:"+responsible.String(), r.Recipient)
	assert.Equal(t, reminder.ChannelEmail, r.Channel)
	assert.Equal(t, d.LabID, r.LabID)
	assert.Equal(t, 7, r.LeadDays)
}

func TestPlan_LeadTimeAlreadyElapsed(t *testing.T) {
	ctx := context.Background()
	p, store, _ := setup(t)
	d := newDeadline(t, store, now.AddDate(0, 0, 2), deadline.WithLeadDays(7))

	res, err := p.Plan(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].FireAt.After(now))
	assert.Equal(t, reminder.KindImmediate, list[0].Kind)
	assert.Equal(t, "lab:"+d.LabID.String(), list[0].Recipient)

	due, err := store.ListDueReminders(ctx, now, reminder.Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1, "fires on the first sweep")
}

func TestPlan_Idempotent(t *testing.T) {
	ctx := context.Background()
	p, store, clk := setup(t)
	d := newDeadline(t, store, now.AddDate(0, 1, 0))

	_, err := p.Plan(ctx, d)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	res, err := p.Plan(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, planner.Result{Kept: 1}, res)

	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPlan_ReplanPreservesSentHistory(t *testing.T) {
	ctx := context.Background()
	p, store, clk := setup(t)
	d := newDeadline(t, store, now.AddDate(0, 0, 20), deadline.WithLeadDays(7))

	_, err := p.Plan(ctx, d)
	require.NoError(t, err)

	// отправляем 7-дневное напоминание
	clk.Set(now.AddDate(0, 0, 14))
	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	sent := list[0]
	sentAt := clk.Now()
	require.NoError(t, store.MarkReminderSent(ctx, sent.ID, sentAt))

	d.NotificationLeadDays = 3
	res, err := p.Plan(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Retired)

	list, err = store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	for _, r := range list {
		if r.ID == sent.ID {
			require.NotNil(t, r.SentAt)
			assert.True(t, sentAt.Equal(*r.SentAt))
			assert.Equal(t, 7, r.LeadDays)
			continue
		}
		assert.Equal(t, 3, r.LeadDays)
		assert.True(t, r.IsLive())
		assert.Equal(t, planner.DefaultConfig().FireHour, r.FireAt.Hour())
	}
}

func TestPlan_DueDateChangeRetiresStale(t *testing.T) {
	ctx := context.Background()
	p, store, _ := setup(t)
	d := newDeadline(t, store, now.AddDate(0, 0, 30))

	_, err := p.Plan(ctx, d)
	require.NoError(t, err)

	d.DueAt = now.AddDate(0, 0, 40)
	res, err := p.Plan(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retired)
	assert.Equal(t, 1, res.Created)

	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	active := live(list)
	require.Len(t, active, 1)
	assert.True(t, d.DueAt.Equal(active[0].DueAt))
}

func TestPlan_LeadChangedBackCreatesFreshReminder(t *testing.T) {
	ctx := context.Background()
	p, store, _ := setup(t)
	d := newDeadline(t, store, now.AddDate(0, 0, 30), deadline.WithLeadDays(7))

	_, err := p.Plan(ctx, d)
	require.NoError(t, err)

	d.NotificationLeadDays = 3
	_, err = p.Plan(ctx, d)
	require.NoError(t, err)

	d.NotificationLeadDays = 7
	res, err := p.Plan(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Retired)

	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	active := live(list)
	require.Len(t, active, 1)
	assert.Equal(t, 7, active[0].LeadDays)
}

func TestPlan_TerminalDeadlineRetiresEverything(t *testing.T) {
	ctx := context.Background()
	p, store, _ := setup(t)
	d := newDeadline(t, store, now.AddDate(0, 0, 30))

	_, err := p.Plan(ctx, d)
	require.NoError(t, err)

	d.Status = deadline.StatusCancelled
	assert.Empty(t, p.Desired(d, now))

	retired, err := p.RetireAll(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retired)

	list, err := store.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, live(list))

	retired, err = p.RetireAll(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, retired)
}

func TestFireAt_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	p := planner.New(inmemory.New(), planner.Config{FireHour: 8, FireMinute: 30, Location: loc}, clock.NewManual(now))

	// 22:00 UTC 10 марта уже 11 марта в UTC+3
	due := time.Date(2024, time.March, 10, 22, 0, 0, 0, time.UTC)
	fire := p.FireAt(due, 1)

	assert.True(t, time.Date(2024, time.March, 10, 8, 30, 0, 0, loc).Equal(fire))
}
