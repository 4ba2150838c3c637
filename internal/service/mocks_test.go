package service_test

import (
	"context"
	"time"

	"deadlineTracker/internal/lifecycle"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/planner"
	"deadlineTracker/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRepository - мок хранилища
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateDeadline(ctx context.Context, d *deadline.Deadline) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRepository) GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadline.Deadline), args.Error(1)
}

func (m *MockRepository) ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error) {
	args := m.Called(ctx, labID, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deadline.Deadline), args.Error(1)
}

func (m *MockRepository) UpdateDeadline(ctx context.Context, d *deadline.Deadline) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to deadline.Status, at time.Time) (*deadline.Deadline, error) {
	args := m.Called(ctx, id, from, to, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadline.Deadline), args.Error(1)
}

func (m *MockRepository) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*deadline.Deadline, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deadline.Deadline), args.Error(1)
}

func (m *MockRepository) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) ListDeadlineReminders(ctx context.Context, deadlineID uuid.UUID) ([]*reminder.Reminder, error) {
	args := m.Called(ctx, deadlineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reminder.Reminder), args.Error(1)
}

func (m *MockRepository) ListUnexpanded(ctx context.Context, afterID uuid.UUID, limit int) ([]*deadline.Deadline, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deadline.Deadline), args.Error(1)
}

func (m *MockRepository) ListDueReminders(ctx context.Context, now time.Time, after reminder.Cursor, limit int) ([]*reminder.Reminder, error) {
	args := m.Called(ctx, now, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reminder.Reminder), args.Error(1)
}

func (m *MockRepository) ClaimReminder(ctx context.Context, id, token uuid.UUID, now, until time.Time) error {
	args := m.Called(ctx, id, token, now, until)
	return args.Error(0)
}

func (m *MockRepository) ReleaseReminder(ctx context.Context, id, token uuid.UUID, failure string) (int, error) {
	args := m.Called(ctx, id, token, failure)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	args := m.Called(ctx, id, sentAt)
	return args.Error(0)
}

func (m *MockRepository) RetireReminder(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, d *deadline.Deadline) (planner.Result, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(planner.Result), args.Error(1)
}

type MockStatusManager struct {
	mock.Mock
}

func (m *MockStatusManager) SetStatus(ctx context.Context, id uuid.UUID, to deadline.Status) (*lifecycle.Transition, error) {
	args := m.Called(ctx, id, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.Transition), args.Error(1)
}

var (
	_ service.Repository      = (*MockRepository)(nil)
	_ service.ReminderPlanner = (*MockPlanner)(nil)
	_ service.StatusManager   = (*MockStatusManager)(nil)
)
