package deadline

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Option - функция изменения дедлайна, используется и при создании, и при редактировании
type Option func(*Deadline)

func WithTitle(title string) Option {
	return func(d *Deadline) {
		d.Title = title
	}
}

func WithDescription(description string) Option {
	return func(d *Deadline) {
		d.Description = description
	}
}

func WithCategory(category Category) Option {
	if category == "" {
		return nil
	}
	return func(d *Deadline) {
		d.Category = category
	}
}

func WithPriority(priority Priority) Option {
	if priority == "" {
		return nil
	}
	return func(d *Deadline) {
		d.Priority = priority
	}
}

func WithDueAt(dueAt time.Time) Option {
	if dueAt.IsZero() {
		return nil
	}
	return func(d *Deadline) {
		d.DueAt = dueAt
		// пока серия не началась, якорь двигается вместе со сроком
		if d.PreviousID == nil {
			d.AnchorAt = dueAt
		}
	}
}

func WithResponsible(userID *uuid.UUID) Option {
	return func(d *Deadline) {
		d.ResponsibleID = cloneID(userID)
	}
}

func WithExternalURL(url string) Option {
	return func(d *Deadline) {
		d.ExternalURL = url
	}
}

func WithRequirements(requirements string) Option {
	return func(d *Deadline) {
		d.Requirements = requirements
	}
}

func WithLeadDays(days int) Option {
	return func(d *Deadline) {
		d.NotificationLeadDays = days
	}
}

// WithRecurrence: пустой шаблон снимает повторение
func WithRecurrence(pattern string) Option {
	return func(d *Deadline) {
		d.RecurrencePattern = strings.TrimSpace(pattern)
		d.IsRecurring = d.RecurrencePattern != ""
	}
}

func WithTags(tags []string) Option {
	return func(d *Deadline) {
		d.Tags = append([]string(nil), tags...)
	}
}

func WithCreatedBy(userID *uuid.UUID) Option {
	return func(d *Deadline) {
		d.CreatedBy = cloneID(userID)
	}
}
