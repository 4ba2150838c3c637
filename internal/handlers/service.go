package handlers

import (
	"context"
	"time"

	"deadlineTracker/internal/lifecycle"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/service"
	"deadlineTracker/internal/urgency"
	"deadlineTracker/internal/worker"

	"github.com/google/uuid"
)

type Service interface {
	HealthCheck(ctx context.Context) error
	Now() time.Time
	CreateDeadline(ctx context.Context, labID uuid.UUID, title string, dueAt time.Time, opts ...deadline.Option) (*deadline.Deadline, error)
	GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error)
	ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error)
	EditDeadline(ctx context.Context, id uuid.UUID, patch service.Patch) (*deadline.Deadline, error)
	SetStatus(ctx context.Context, id uuid.UUID, to deadline.Status) (*lifecycle.Transition, error)
	ListReminders(ctx context.Context, id uuid.UUID) ([]*reminder.Reminder, error)
	ClassifyUrgency(d *deadline.Deadline, now time.Time) urgency.Tier
}

type Scheduler interface {
	RunTick(ctx context.Context, now time.Time) (worker.TickReport, error)
}

var _ Service = (*service.DeadlineService)(nil)
var _ Scheduler = (*worker.SchedulerLoop)(nil)
