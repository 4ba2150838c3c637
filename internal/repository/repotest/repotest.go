// Package repotest - общий набор проверок для всех реализаций repository.Store
package repotest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/recurrence"
	"deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory возвращает пустое хранилище для одного подтеста
type Factory func(t *testing.T) repository.Store

var base = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

func NewDeadline(labID uuid.UUID, title string, due time.Time) *deadline.Deadline {
	responsible := uuid.New()
	return deadline.New(labID, title, due,
		deadline.WithDescription("описание"),
		deadline.WithCategory(deadline.CategoryGrant),
		deadline.WithPriority(deadline.PriorityHigh),
		deadline.WithResponsible(&responsible),
		deadline.WithExternalURL("https://grants.example.org/r01"),
		deadline.WithRequirements("biosketch, budget"),
		deadline.WithLeadDays(5),
		deadline.WithRecurrence("monthly"),
		deadline.WithTags([]string{"nih", "r01"}),
	)
}

func NewReminder(d *deadline.Deadline, leadDays int, fireAt time.Time) *reminder.Reminder {
	return &reminder.Reminder{
		ID:         uuid.New(),
		DeadlineID: d.ID,
		LabID:      d.LabID,
		LeadDays:   leadDays,
		Recipient:  "lab:" + d.LabID.String(),
		Channel:    reminder.ChannelEmail,
		Kind:       reminder.KindLeadTime,
		DueAt:      d.DueAt,
		FireAt:     fireAt,
	}
}

func Run(t *testing.T, newStore Factory) {
	t.Run("DeadlineRoundTrip", func(t *testing.T) { testDeadlineRoundTrip(t, newStore(t)) })
	t.Run("DuplicateSuccessor", func(t *testing.T) { testDuplicateSuccessor(t, newStore(t)) })
	t.Run("UpdateVersionConflict", func(t *testing.T) { testUpdateVersionConflict(t, newStore(t)) })
	t.Run("TransitionStatus", func(t *testing.T) { testTransitionStatus(t, newStore(t)) })
	t.Run("ListOverdue", func(t *testing.T) { testListOverdue(t, newStore(t)) })
	t.Run("ListLabDeadlines", func(t *testing.T) { testListLabDeadlines(t, newStore(t)) })
	t.Run("ReminderLiveKeyUnique", func(t *testing.T) { testReminderLiveKeyUnique(t, newStore(t)) })
	t.Run("ReminderClaimAndRelease", func(t *testing.T) { testReminderClaimAndRelease(t, newStore(t)) })
	t.Run("ReminderSentOnce", func(t *testing.T) { testReminderSentOnce(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("DueRemindersCursor", func(t *testing.T) { testDueRemindersCursor(t, newStore(t)) })
	t.Run("ListUnexpanded", func(t *testing.T) { testListUnexpanded(t, newStore(t)) })
	t.Run("RecurrenceInLabZone", func(t *testing.T) { testRecurrenceInLabZone(t, newStore(t)) })
}

func mustCreate(t *testing.T, s repository.Store, d *deadline.Deadline) *deadline.Deadline {
	t.Helper()
	require.NoError(t, s.CreateDeadline(context.Background(), d))
	return d
}

func testDeadlineRoundTrip(t *testing.T, s repository.Store) {
	ctx := context.Background()
	require.NoError(t, s.HealthCheck(ctx))

	d := mustCreate(t, s, NewDeadline(uuid.New(), "NIH R01", base.AddDate(0, 1, 0)))
	assert.Equal(t, 1, d.Version)

	got, err := s.GetDeadline(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.LabID, got.LabID)
	assert.Equal(t, "NIH R01", got.Title)
	assert.Equal(t, "описание", got.Description)
	assert.Equal(t, deadline.CategoryGrant, got.Category)
	assert.Equal(t, deadline.PriorityHigh, got.Priority)
	assert.Equal(t, deadline.StatusPending, got.Status)
	assert.WithinDuration(t, d.DueAt, got.DueAt, time.Millisecond)
	assert.WithinDuration(t, d.AnchorAt, got.AnchorAt, time.Millisecond)
	require.NotNil(t, got.ResponsibleID)
	assert.Equal(t, *d.ResponsibleID, *got.ResponsibleID)
	assert.Equal(t, d.ExternalURL, got.ExternalURL)
	assert.Equal(t, d.Requirements, got.Requirements)
	assert.Equal(t, 5, got.NotificationLeadDays)
	assert.True(t, got.IsRecurring)
	assert.Equal(t, "monthly", got.RecurrencePattern)
	assert.ElementsMatch(t, []string{"nih", "r01"}, got.Tags)
	assert.Nil(t, got.PreviousID)
	assert.Equal(t, 1, got.Version)

	_, err = s.GetDeadline(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testDuplicateSuccessor(t *testing.T, s repository.Store) {
	ctx := context.Background()
	src := mustCreate(t, s, NewDeadline(uuid.New(), "Monthly report", base))
	prev := src.ID

	first := NewDeadline(src.LabID, "Monthly report", base.AddDate(0, 1, 0))
	first.PreviousID = &prev
	require.NoError(t, s.CreateDeadline(ctx, first))

	second := NewDeadline(src.LabID, "Monthly report", base.AddDate(0, 1, 0))
	second.PreviousID = &prev
	assert.ErrorIs(t, s.CreateDeadline(ctx, second), repository.ErrDuplicate)
}

func testUpdateVersionConflict(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Abstract", base.AddDate(0, 0, 10)))

	stale := d.Clone()

	d.Title = "Abstract v2"
	d.NotificationLeadDays = 3
	d.Status = deadline.StatusCompleted
	require.NoError(t, s.UpdateDeadline(ctx, d))
	assert.Equal(t, 2, d.Version)
	assert.NotNil(t, d.UpdatedAt)

	got, err := s.GetDeadline(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Abstract v2", got.Title)
	assert.Equal(t, 3, got.NotificationLeadDays)
	assert.Equal(t, deadline.StatusPending, got.Status, "update must not change status")

	stale.Title = "lost write"
	assert.ErrorIs(t, s.UpdateDeadline(ctx, stale), repository.ErrVersionConflict)

	missing := NewDeadline(uuid.New(), "ghost", base)
	missing.Version = 1
	err = s.UpdateDeadline(ctx, missing)
	assert.Error(t, err)
}

func testTransitionStatus(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "IRB", base))
	at := base.Add(time.Hour)

	updated, err := s.TransitionStatus(ctx, d.ID, deadline.StatusPending, deadline.StatusCompleted, at)
	require.NoError(t, err)
	assert.Equal(t, deadline.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.WithinDuration(t, at, *updated.CompletedAt, time.Millisecond)
	assert.Equal(t, 2, updated.Version)

	_, err = s.TransitionStatus(ctx, d.ID, deadline.StatusPending, deadline.StatusMissed, at)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	_, err = s.TransitionStatus(ctx, d.ID, deadline.StatusCompleted, deadline.StatusCancelled, at)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	got, err := s.GetDeadline(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deadline.StatusCompleted, got.Status)

	_, err = s.TransitionStatus(ctx, uuid.New(), deadline.StatusPending, deadline.StatusMissed, at)
	assert.Error(t, err)
}

func testListOverdue(t *testing.T, s repository.Store) {
	ctx := context.Background()
	lab := uuid.New()

	old := mustCreate(t, s, NewDeadline(lab, "old", base.Add(-48*time.Hour)))
	recent := mustCreate(t, s, NewDeadline(lab, "recent", base.Add(-time.Hour)))
	mustCreate(t, s, NewDeadline(lab, "future", base.Add(time.Hour)))
	done := mustCreate(t, s, NewDeadline(lab, "done", base.Add(-72*time.Hour)))
	_, err := s.TransitionStatus(ctx, done.ID, deadline.StatusPending, deadline.StatusCompleted, base)
	require.NoError(t, err)
	started := mustCreate(t, s, NewDeadline(lab, "started", base.Add(-30*time.Hour)))
	_, err = s.TransitionStatus(ctx, started.ID, deadline.StatusPending, deadline.StatusInProgress, base)
	require.NoError(t, err)

	list, err := s.ListOverdue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, old.ID, list[0].ID)
	assert.Equal(t, started.ID, list[1].ID)
	assert.Equal(t, recent.ID, list[2].ID)

	limited, err := s.ListOverdue(ctx, base, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testListLabDeadlines(t *testing.T, s repository.Store) {
	ctx := context.Background()
	lab := uuid.New()

	third := mustCreate(t, s, NewDeadline(lab, "third", base.AddDate(0, 0, 3)))
	first := mustCreate(t, s, NewDeadline(lab, "first", base.AddDate(0, 0, 1)))
	second := mustCreate(t, s, NewDeadline(lab, "second", base.AddDate(0, 0, 2)))
	mustCreate(t, s, NewDeadline(uuid.New(), "other lab", base))

	page1, err := s.ListLabDeadlines(ctx, lab, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, first.ID, page1[0].ID)
	assert.Equal(t, second.ID, page1[1].ID)

	page2, err := s.ListLabDeadlines(ctx, lab, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, third.ID, page2[0].ID)

	empty, err := s.ListLabDeadlines(ctx, uuid.New(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testReminderLiveKeyUnique(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Poster", base.AddDate(0, 0, 10)))

	r := NewReminder(d, 7, base.AddDate(0, 0, 3))
	require.NoError(t, s.CreateReminder(ctx, r))

	dup := NewReminder(d, 7, base.AddDate(0, 0, 3))
	assert.ErrorIs(t, s.CreateReminder(ctx, dup), repository.ErrDuplicate)

	other := NewReminder(d, 3, base.AddDate(0, 0, 7))
	require.NoError(t, s.CreateReminder(ctx, other))

	require.NoError(t, s.RetireReminder(ctx, r.ID, base))
	assert.ErrorIs(t, s.RetireReminder(ctx, r.ID, base), repository.ErrConditionFailed)

	replacement := NewReminder(d, 7, base.AddDate(0, 0, 4))
	require.NoError(t, s.CreateReminder(ctx, replacement))

	list, err := s.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)

	states := map[uuid.UUID]reminder.State{}
	for _, item := range list {
		states[item.ID] = item.State()
	}
	assert.Equal(t, reminder.StateRetired, states[r.ID])
	assert.Equal(t, reminder.StatePending, states[other.ID])
	assert.Equal(t, reminder.StatePending, states[replacement.ID])
}

func testReminderClaimAndRelease(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Data freeze", base.AddDate(0, 0, 2)))

	due := NewReminder(d, 7, base.Add(-time.Hour))
	require.NoError(t, s.CreateReminder(ctx, due))
	future := NewReminder(d, 1, base.Add(time.Hour))
	require.NoError(t, s.CreateReminder(ctx, future))

	list, err := s.ListDueReminders(ctx, base, reminder.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	token := uuid.New()
	until := base.Add(time.Minute)
	require.NoError(t, s.ClaimReminder(ctx, due.ID, token, base, until))
	assert.ErrorIs(t, s.ClaimReminder(ctx, due.ID, uuid.New(), base, until), repository.ErrConditionFailed)

	list, err = s.ListDueReminders(ctx, base, reminder.Cursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, list, "claimed reminder is hidden while the lease holds")

	attempts, err := s.ReleaseReminder(ctx, due.ID, token, "smtp timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	list, err = s.ListDueReminders(ctx, base, reminder.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Attempts)
	assert.Equal(t, "smtp timeout", list[0].LastError)

	// просроченная аренда не мешает повторному захвату
	require.NoError(t, s.ClaimReminder(ctx, due.ID, uuid.New(), base, base.Add(time.Second)))
	later := base.Add(2 * time.Second)
	require.NoError(t, s.ClaimReminder(ctx, due.ID, uuid.New(), later, later.Add(time.Minute)))
}

func testReminderSentOnce(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Camera ready", base.AddDate(0, 0, 2)))

	r := NewReminder(d, 7, base.Add(-time.Hour))
	require.NoError(t, s.CreateReminder(ctx, r))
	require.NoError(t, s.ClaimReminder(ctx, r.ID, uuid.New(), base, base.Add(time.Minute)))

	sentAt := base.Add(time.Second)
	require.NoError(t, s.MarkReminderSent(ctx, r.ID, sentAt))
	assert.ErrorIs(t, s.MarkReminderSent(ctx, r.ID, base.Add(time.Hour)), repository.ErrConditionFailed)
	assert.ErrorIs(t, s.RetireReminder(ctx, r.ID, base), repository.ErrConditionFailed)
	assert.ErrorIs(t, s.ClaimReminder(ctx, r.ID, uuid.New(), base.Add(time.Hour), base.Add(2*time.Hour)), repository.ErrConditionFailed)

	list, err := s.ListDeadlineReminders(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].SentAt)
	assert.WithinDuration(t, sentAt, *list[0].SentAt, time.Millisecond)
	assert.Equal(t, reminder.StateSent, list[0].State())

	due, err := s.ListDueReminders(ctx, base.Add(time.Hour), reminder.Cursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// тот же ключ после отправки можно запланировать заново
	again := NewReminder(d, 7, base.Add(time.Hour))
	assert.NoError(t, s.CreateReminder(ctx, again))
}

func testConcurrentClaim(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Race", base.AddDate(0, 0, 2)))
	r := NewReminder(d, 7, base.Add(-time.Hour))
	require.NoError(t, s.CreateReminder(ctx, r))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ClaimReminder(ctx, r.ID, uuid.New(), base, base.Add(time.Minute)); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testDueRemindersCursor(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Poster", base.AddDate(0, 0, 2)))

	var created []*reminder.Reminder
	for i := 0; i < 5; i++ {
		r := NewReminder(d, 10+i, base.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, s.CreateReminder(ctx, r))
		created = append(created, r)
	}
	// два напоминания с одинаковым fire_at различаются по id
	twin := NewReminder(d, 20, created[2].FireAt)
	require.NoError(t, s.CreateReminder(ctx, twin))

	var (
		cursor reminder.Cursor
		seen   []uuid.UUID
	)
	for page := 0; page < 10; page++ {
		list, err := s.ListDueReminders(ctx, base, cursor, 2)
		require.NoError(t, err)
		if len(list) == 0 {
			break
		}
		for i, r := range list {
			assert.True(t, cursor.Less(r.Cursor()), "page %d item %d must follow the cursor", page, i)
			seen = append(seen, r.ID)
		}
		cursor = list[len(list)-1].Cursor()
	}

	require.Len(t, seen, 6)
	assert.Equal(t, created[0].ID, seen[0])
	assert.Equal(t, created[4].ID, seen[5])
	assert.Contains(t, seen, twin.ID)
}

func testListUnexpanded(t *testing.T, s repository.Store) {
	ctx := context.Background()
	lab := uuid.New()

	orphan := mustCreate(t, s, NewDeadline(lab, "orphan", base.Add(-48*time.Hour)))
	_, err := s.TransitionStatus(ctx, orphan.ID, deadline.StatusPending, deadline.StatusMissed, base)
	require.NoError(t, err)

	continued := mustCreate(t, s, NewDeadline(lab, "continued", base.Add(-48*time.Hour)))
	_, err = s.TransitionStatus(ctx, continued.ID, deadline.StatusPending, deadline.StatusCompleted, base)
	require.NoError(t, err)
	prev := continued.ID
	next := NewDeadline(lab, "continued", base.AddDate(0, 1, 0))
	next.PreviousID = &prev
	require.NoError(t, s.CreateDeadline(ctx, next))

	cancelled := mustCreate(t, s, NewDeadline(lab, "cancelled", base.Add(-48*time.Hour)))
	_, err = s.TransitionStatus(ctx, cancelled.ID, deadline.StatusPending, deadline.StatusCancelled, base)
	require.NoError(t, err)

	single := deadline.New(lab, "single", base.Add(-48*time.Hour))
	mustCreate(t, s, single)
	_, err = s.TransitionStatus(ctx, single.ID, deadline.StatusPending, deadline.StatusMissed, base)
	require.NoError(t, err)

	list, err := s.ListUnexpanded(ctx, uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, orphan.ID, list[0].ID)

	after, err := s.ListUnexpanded(ctx, orphan.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, after)
}

// testRecurrenceInLabZone: хранилище может вернуть время в UTC,
// следующий срок всё равно считается по часам лаборатории
func testRecurrenceInLabZone(t *testing.T, s repository.Store) {
	ctx := context.Background()
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	due := time.Date(2024, time.January, 15, 23, 59, 59, 0, berlin)
	d := mustCreate(t, s, NewDeadline(uuid.New(), "Monthly report", due))
	_, err = s.TransitionStatus(ctx, d.ID, deadline.StatusPending, deadline.StatusMissed, due)
	require.NoError(t, err)

	got, err := s.GetDeadline(ctx, d.ID)
	require.NoError(t, err)

	now := time.Date(2024, time.April, 1, 0, 0, 0, 0, berlin)
	next, err := recurrence.Expand(got, now, berlin)
	require.NoError(t, err)
	require.NotNil(t, next)

	want := time.Date(2024, time.April, 15, 23, 59, 59, 0, berlin)
	assert.True(t, want.Equal(next.DueAt), "want %s, got %s", want, next.DueAt.In(berlin))
}
