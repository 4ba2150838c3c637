package repository

import (
	"context"
	"time"

	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"

	"github.com/google/uuid"
)

type DeadlineStore interface {
	// CreateDeadline: ErrDuplicate, если у PreviousID уже есть продолжение
	CreateDeadline(ctx context.Context, d *deadline.Deadline) error
	GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error)
	ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error)
	// UpdateDeadline пишет редактируемые поля при совпадении версии, статус не трогает
	UpdateDeadline(ctx context.Context, d *deadline.Deadline) error
	// TransitionStatus меняет статус, только если он всё ещё равен from и не финальный
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to deadline.Status, at time.Time) (*deadline.Deadline, error)
	// ListOverdue - нефинальные дедлайны со сроком раньше before
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*deadline.Deadline, error)
	// ListUnexpanded - повторяющиеся completed/missed дедлайны без продолжения, с id больше afterID
	ListUnexpanded(ctx context.Context, afterID uuid.UUID, limit int) ([]*deadline.Deadline, error)
}

type ReminderStore interface {
	// CreateReminder: ErrDuplicate при втором живом напоминании с тем же ключом
	CreateReminder(ctx context.Context, r *reminder.Reminder) error
	ListDeadlineReminders(ctx context.Context, deadlineID uuid.UUID) ([]*reminder.Reminder, error)
	// ListDueReminders - неотправленные, не списанные, fire_at <= now, без действующей аренды,
	// строго после after в порядке (fire_at, id)
	ListDueReminders(ctx context.Context, now time.Time, after reminder.Cursor, limit int) ([]*reminder.Reminder, error)
	ClaimReminder(ctx context.Context, id, token uuid.UUID, now, until time.Time) error
	// ReleaseReminder снимает аренду после неудачной отправки и возвращает число попыток
	ReleaseReminder(ctx context.Context, id, token uuid.UUID, failure string) (int, error)
	// MarkReminderSent - запись sent_at только если он ещё пуст
	MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	RetireReminder(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Store interface {
	HealthCheck(ctx context.Context) error
	DeadlineStore
	ReminderStore
}
