package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/lifecycle"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/planner"
	rep "deadlineTracker/internal/repository"
	"deadlineTracker/internal/urgency"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// здесь происходит проверка ошибок бизнес-логики

type Repository interface {
	rep.Store
}

type ReminderPlanner interface {
	Plan(ctx context.Context, d *deadline.Deadline) (planner.Result, error)
}

type StatusManager interface {
	SetStatus(ctx context.Context, id uuid.UUID, to deadline.Status) (*lifecycle.Transition, error)
}

type DeadlineService struct {
	repo       Repository
	planner    ReminderPlanner
	lifecycle  StatusManager
	clock      clock.Clock
	classifier atomic.Pointer[urgency.Classifier]
}

func NewDeadlineService(repo Repository, p ReminderPlanner, lc StatusManager, classifier *urgency.Classifier, clk clock.Clock) *DeadlineService {
	if clk == nil {
		clk = clock.Real{}
	}
	if classifier == nil {
		classifier = urgency.NewClassifier(urgency.DefaultThresholds(), time.UTC)
	}

	s := &DeadlineService{
		repo:      repo,
		planner:   p,
		lifecycle: lc,
		clock:     clk,
	}
	s.classifier.Store(classifier)
	return s
}

func (s *DeadlineService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func (s *DeadlineService) Now() time.Time {
	return s.clock.Now()
}

// CreateDeadline сохраняет новый дедлайн и сразу планирует для него напоминания
func (s *DeadlineService) CreateDeadline(ctx context.Context, labID uuid.UUID, title string, dueAt time.Time, opts ...deadline.Option) (*deadline.Deadline, error) {
	d := deadline.New(labID, title, dueAt, opts...)
	d.Status = deadline.StatusPending
	d.PreviousID = nil
	d.CreatedAt = s.clock.Now()

	if err := d.Validate(); err != nil {
		logger.Info("Service: Дедлайн не прошёл проверку", zap.Error(err))
		return nil, newInvalidDeadline(err)
	}

	if err := s.repo.CreateDeadline(ctx, d); err != nil {
		return nil, fmt.Errorf("создание дедлайна: %w", err)
	}

	s.plan(ctx, d)

	logger.Info("Service: Дедлайн создан",
		zap.String("deadline_id", d.ID.String()),
		zap.String("lab_id", d.LabID.String()),
		zap.Time("due_at", d.DueAt))
	return d, nil
}

func (s *DeadlineService) GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error) {
	d, err := s.repo.GetDeadline(ctx, id)
	if err != nil {
		if errors.Is(err, rep.ErrNotFound) {
			logger.Info("Service: Дедлайн не найден", zap.String("target_id", id.String()))
			return nil, NewNotFound("deadline", id.String())
		}
		return nil, fmt.Errorf("получение дедлайна: %w", err)
	}
	return d, nil
}

func (s *DeadlineService) ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error) {
	if page < 1 {
		return nil, NewValidationError("page", "должна быть не меньше 1")
	}
	if limit < 1 || limit > 100 {
		return nil, NewValidationError("limit", "должен быть от 1 до 100")
	}

	list, err := s.repo.ListLabDeadlines(ctx, labID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("получение дедлайнов лаборатории: %w", err)
	}
	return list, nil
}

func (s *DeadlineService) ListReminders(ctx context.Context, id uuid.UUID) ([]*reminder.Reminder, error) {
	if _, err := s.GetDeadline(ctx, id); err != nil {
		return nil, err
	}

	list, err := s.repo.ListDeadlineReminders(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("получение напоминаний: %w", err)
	}
	return list, nil
}

// EditDeadline применяет изменения. Напоминания перепланируются,
// если поменялись срок, упреждение, повторение или ответственный
func (s *DeadlineService) EditDeadline(ctx context.Context, id uuid.UUID, patch Patch) (*deadline.Deadline, error) {
	d, err := s.GetDeadline(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Version != nil && *patch.Version != d.Version {
		return nil, NewVersionConflict(id.String(), *patch.Version)
	}
	if patch.DueAt != nil && d.Status == deadline.StatusCompleted && !patch.DueAt.Equal(d.DueAt) {
		logger.Info("Service: Попытка сменить срок выполненного дедлайна", zap.String("deadline_id", id.String()))
		return nil, NewDueDateLocked(id.String())
	}
	if patch.Empty() {
		return d, nil
	}

	before := planningKey(d)
	for _, opt := range patch.Options() {
		if opt != nil {
			opt(d)
		}
	}

	if err := d.Validate(); err != nil {
		logger.Info("Service: Изменения не прошли проверку",
			zap.String("deadline_id", id.String()),
			zap.Error(err))
		return nil, newInvalidDeadline(err)
	}

	if err := s.repo.UpdateDeadline(ctx, d); err != nil {
		switch {
		case errors.Is(err, rep.ErrVersionConflict):
			return nil, NewVersionConflict(id.String(), d.Version)
		case errors.Is(err, rep.ErrNotFound):
			return nil, NewNotFound("deadline", id.String())
		}
		return nil, fmt.Errorf("обновление дедлайна: %w", err)
	}

	if !planningKey(d).equal(before) {
		s.plan(ctx, d)
	}

	logger.Info("Service: Дедлайн обновлён",
		zap.String("deadline_id", id.String()),
		zap.Int("version", d.Version))
	return d, nil
}

// SetStatus - пользовательская смена статуса
func (s *DeadlineService) SetStatus(ctx context.Context, id uuid.UUID, to deadline.Status) (*lifecycle.Transition, error) {
	if !to.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("неизвестное значение %q", to))
	}

	tr, err := s.lifecycle.SetStatus(ctx, id, to)
	if err != nil {
		var te *deadline.TransitionError
		switch {
		case errors.As(err, &te):
			logger.Info("Service: Переход статуса отклонён",
				zap.String("deadline_id", id.String()),
				zap.String("from", string(te.From)),
				zap.String("to", string(te.To)))
			return nil, NewInvalidTransition(te)
		case errors.Is(err, rep.ErrNotFound):
			return nil, NewNotFound("deadline", id.String())
		}
		return nil, fmt.Errorf("смена статуса: %w", err)
	}
	return tr, nil
}

// ClassifyUrgency - уровень срочности для отображения, хранилище не трогает
func (s *DeadlineService) ClassifyUrgency(d *deadline.Deadline, now time.Time) urgency.Tier {
	return s.classifier.Load().Classify(d.DueAt, d.Status, now)
}

func (s *DeadlineService) Thresholds() urgency.Thresholds {
	return s.classifier.Load().Thresholds()
}

// SetThresholds подменяет пороги на лету, например после перечитывания конфига
func (s *DeadlineService) SetThresholds(th urgency.Thresholds) error {
	if err := th.Validate(); err != nil {
		return fmt.Errorf("пороги срочности: %w", err)
	}

	current := s.classifier.Load()
	s.classifier.Store(urgency.NewClassifier(th, current.Location()))
	logger.Info("Service: Пороги срочности обновлены",
		zap.Int("due_this_week_days", th.DueThisWeekDays),
		zap.Int("due_soon_days", th.DueSoonDays))
	return nil
}

// ошибка планирования не откатывает запись: следующее редактирование перепланирует
func (s *DeadlineService) plan(ctx context.Context, d *deadline.Deadline) {
	res, err := s.planner.Plan(ctx, d)
	if err != nil {
		logger.Error("Service: Не удалось спланировать напоминания", err,
			zap.String("deadline_id", d.ID.String()))
		return
	}
	logger.Debug("Service: Напоминания спланированы",
		zap.String("deadline_id", d.ID.String()),
		zap.Int("created", res.Created),
		zap.Int("kept", res.Kept),
		zap.Int("retired", res.Retired))
}

type planKey struct {
	dueAt       time.Time
	leadDays    int
	recurrence  string
	responsible string
}

func planningKey(d *deadline.Deadline) planKey {
	k := planKey{
		dueAt:      d.DueAt,
		leadDays:   d.NotificationLeadDays,
		recurrence: d.RecurrencePattern,
	}
	if d.ResponsibleID != nil {
		k.responsible = d.ResponsibleID.String()
	}
	return k
}

func (k planKey) equal(other planKey) bool {
	return k.dueAt.Equal(other.dueAt) && k.leadDays == other.leadDays &&
		k.recurrence == other.recurrence && k.responsible == other.responsible
}
