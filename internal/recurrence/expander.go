package recurrence

import (
	"fmt"
	"time"

	"deadlineTracker/internal/models/deadline"

	"github.com/google/uuid"
)

// Expandable - повторяющийся дедлайн, дошедший до completed или missed
func Expandable(d *deadline.Deadline) bool {
	if d == nil || !d.IsRecurring {
		return false
	}
	return d.Status == deadline.StatusCompleted || d.Status == deadline.StatusMissed
}

// NextDue считает следующий срок серии от исходной даты, а не от now,
// пропуская все циклы, которые уже прошли. Календарь - часовой пояс loc,
// в каком бы поясе хранилище ни вернуло время
func NextDue(d *deadline.Deadline, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	r, err := deadline.ParseRecurrence(d.RecurrencePattern)
	if err != nil {
		return time.Time{}, err
	}
	next, err := r.NextAfter(d.Anchor().In(loc), d.DueAt.In(loc), now.In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("дедлайн %s: %w", d.ID, err)
	}
	return next, nil
}

// Expand возвращает черновик следующего экземпляра или nil, если серия не продолжается.
// Исходный дедлайн не меняется
func Expand(d *deadline.Deadline, now time.Time, loc *time.Location) (*deadline.Deadline, error) {
	if !Expandable(d) {
		return nil, nil
	}

	next, err := NextDue(d, now, loc)
	if err != nil {
		return nil, err
	}

	prev := d.ID
	draft := &deadline.Deadline{
		ID:                   uuid.New(),
		LabID:                d.LabID,
		Title:                d.Title,
		Description:          d.Description,
		Category:             d.Category,
		DueAt:                next,
		AnchorAt:             d.Anchor(),
		Priority:             d.Priority,
		Status:               deadline.StatusPending,
		ExternalURL:          d.ExternalURL,
		Requirements:         d.Requirements,
		NotificationLeadDays: d.NotificationLeadDays,
		IsRecurring:          true,
		RecurrencePattern:    d.RecurrencePattern,
		PreviousID:           &prev,
		CreatedAt:            now,
	}

	src := d.Clone()
	draft.ResponsibleID = src.ResponsibleID
	draft.CreatedBy = src.CreatedBy
	draft.Tags = src.Tags

	return draft, nil
}
