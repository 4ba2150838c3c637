package recurrence_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/recurrence"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endOfDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func recurring(pattern string, due time.Time, status deadline.Status) *deadline.Deadline {
	responsible := uuid.New()
	d := deadline.New(uuid.New(), "Monthly lab report", due,
		deadline.WithRecurrence(pattern),
		deadline.WithPriority(deadline.PriorityHigh),
		deadline.WithCategory(deadline.CategoryMilestone),
		deadline.WithResponsible(&responsible),
		deadline.WithLeadDays(3),
		deadline.WithTags([]string{"report"}),
	)
	d.Status = status
	return d
}

func TestExpand_SkipsMissedCycles(t *testing.T) {
	src := recurring("monthly", endOfDay(2024, time.January, 15), deadline.StatusMissed)
	now := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

	draft, err := recurrence.Expand(src, now, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, draft)

	assert.Equal(t, endOfDay(2024, time.April, 15), draft.DueAt)
}

func TestExpand_CopiesSeriesFields(t *testing.T) {
	src := recurring("every 2 weeks", endOfDay(2024, time.May, 6), deadline.StatusCompleted)
	before := src.Clone()
	now := time.Date(2024, time.May, 6, 10, 0, 0, 0, time.UTC)

	draft, err := recurrence.Expand(src, now, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, draft)

	assert.NotEqual(t, src.ID, draft.ID)
	assert.Equal(t, deadline.StatusPending, draft.Status)
	assert.Equal(t, endOfDay(2024, time.May, 20), draft.DueAt)
	assert.Equal(t, src.AnchorAt, draft.AnchorAt)
	assert.Equal(t, src.Title, draft.Title)
	assert.Equal(t, src.Category, draft.Category)
	assert.Equal(t, src.Priority, draft.Priority)
	assert.Equal(t, *src.ResponsibleID, *draft.ResponsibleID)
	assert.Equal(t, src.NotificationLeadDays, draft.NotificationLeadDays)
	assert.Equal(t, src.RecurrencePattern, draft.RecurrencePattern)
	assert.True(t, draft.IsRecurring)
	require.NotNil(t, draft.PreviousID)
	assert.Equal(t, src.ID, *draft.PreviousID)
	assert.NoError(t, draft.Validate())

	assert.Equal(t, before, src, "source must not be mutated")
}

func TestExpand_NotApplicable(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		d    *deadline.Deadline
	}{
		{"pending recurring", recurring("weekly", endOfDay(2024, time.May, 1), deadline.StatusPending)},
		{"in progress recurring", recurring("weekly", endOfDay(2024, time.May, 1), deadline.StatusInProgress)},
		{"cancelled recurring", recurring("weekly", endOfDay(2024, time.May, 1), deadline.StatusCancelled)},
		{"completed one-off", func() *deadline.Deadline {
			d := deadline.New(uuid.New(), "One-off", endOfDay(2024, time.May, 1))
			d.Status = deadline.StatusCompleted
			return d
		}()},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, err := recurrence.Expand(tt.d, now, time.UTC)
			assert.NoError(t, err)
			assert.Nil(t, draft)
		})
	}
}

func TestExpand_MalformedPattern(t *testing.T) {
	src := recurring("monthly", endOfDay(2024, time.January, 15), deadline.StatusCompleted)
	src.RecurrencePattern = "every 0 months"

	draft, err := recurrence.Expand(src, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.ErrorIs(t, err, deadline.ErrMalformedRecurrence)
	assert.Nil(t, draft)
}

func TestExpand_SuccessorStaysOnAnchorGrid(t *testing.T) {
	src := recurring("monthly", endOfDay(2024, time.January, 31), deadline.StatusCompleted)
	now := time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC)

	feb, err := recurrence.Expand(src, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, endOfDay(2024, time.February, 29), feb.DueAt)

	feb.Status = deadline.StatusCompleted
	mar, err := recurrence.Expand(feb, time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, endOfDay(2024, time.March, 31), mar.DueAt)
}

func TestExpand_CalendarOfLabZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		name    string
		pattern string
		due     time.Time
		now     time.Time
		want    time.Time
	}{
		{
			name:    "monthly across spring DST",
			pattern: "monthly",
			due:     time.Date(2024, time.January, 15, 23, 59, 59, 0, berlin),
			now:     time.Date(2024, time.April, 1, 0, 0, 0, 0, berlin),
			want:    time.Date(2024, time.April, 15, 23, 59, 59, 0, berlin),
		},
		{
			name:    "daily over the switch night",
			pattern: "daily",
			due:     time.Date(2024, time.March, 30, 23, 59, 59, 0, berlin),
			now:     time.Date(2024, time.March, 31, 0, 0, 0, 0, berlin),
			want:    time.Date(2024, time.March, 31, 23, 59, 59, 0, berlin),
		},
		{
			name:    "weekly across autumn DST",
			pattern: "weekly",
			due:     time.Date(2024, time.October, 21, 9, 0, 0, 0, berlin),
			now:     time.Date(2024, time.October, 25, 0, 0, 0, 0, berlin),
			want:    time.Date(2024, time.October, 28, 9, 0, 0, 0, berlin),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := recurring(tt.pattern, tt.due, deadline.StatusMissed)
			// так время возвращают хранилища
			src.DueAt = src.DueAt.UTC()
			src.AnchorAt = src.AnchorAt.UTC()

			draft, err := recurrence.Expand(src, tt.now.UTC(), berlin)
			require.NoError(t, err)
			require.NotNil(t, draft)
			assert.True(t, tt.want.Equal(draft.DueAt), "want %s, got %s", tt.want, draft.DueAt.In(berlin))
		})
	}
}
