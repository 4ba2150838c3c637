package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/planner"
	"deadlineTracker/internal/recurrence"
	repo "deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBatchSize = 100
	// сколько раз перечитываем статус, если параллельный писатель успел раньше
	maxTransitionAttempts = 3
)

type Store interface {
	CreateDeadline(ctx context.Context, d *deadline.Deadline) error
	GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to deadline.Status, at time.Time) (*deadline.Deadline, error)
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*deadline.Deadline, error)
	ListUnexpanded(ctx context.Context, afterID uuid.UUID, limit int) ([]*deadline.Deadline, error)
}

type ReminderPlanner interface {
	Plan(ctx context.Context, d *deadline.Deadline) (planner.Result, error)
	RetireAll(ctx context.Context, deadlineID uuid.UUID) (int, error)
}

// Transition - результат пользовательской смены статуса
type Transition struct {
	Deadline  *deadline.Deadline
	Successor *deadline.Deadline
}

type Config struct {
	BatchSize int
	// календарь, по которому считаются повторы серий
	Location *time.Location
}

type Manager struct {
	store   Store
	planner ReminderPlanner
	clock   clock.Clock
	cfg     Config
}

func New(store Store, p ReminderPlanner, cfg Config, clk clock.Clock) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{store: store, planner: p, clock: clk, cfg: cfg}
}

// SetStatus - смена статуса по действию пользователя.
// Из финального статуса выйти нельзя: возвращается *deadline.TransitionError, запись не меняется
func (m *Manager) SetStatus(ctx context.Context, id uuid.UUID, to deadline.Status) (*Transition, error) {
	for attempt := 1; ; attempt++ {
		current, err := m.store.GetDeadline(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := deadline.ValidateUserTransition(current.Status, to); err != nil {
			return nil, err
		}

		now := m.clock.Now()
		updated, err := m.store.TransitionStatus(ctx, id, current.Status, to, now)
		if errors.Is(err, repo.ErrConditionFailed) {
			logger.Debug("Lifecycle: Статус изменён параллельно",
				zap.String("deadline_id", id.String()),
				zap.String("expected", string(current.Status)),
				zap.Int("attempt", attempt))
			if attempt < maxTransitionAttempts {
				continue
			}
			return nil, &deadline.TransitionError{From: current.Status, To: to, Reason: "статус изменён параллельно"}
		}
		if err != nil {
			return nil, fmt.Errorf("смена статуса: %w", err)
		}

		logger.Info("Lifecycle: Статус изменён",
			zap.String("deadline_id", id.String()),
			zap.String("from", string(current.Status)),
			zap.String("to", string(to)))

		successor := m.afterTransition(ctx, updated, now)
		return &Transition{Deadline: updated, Successor: successor}, nil
	}
}

// Sweep переводит в missed все незавершённые дедлайны со сроком раньше now.
// Проигранные гонки не считаются ошибкой, возвращаются только реально переведённые
func (m *Manager) Sweep(ctx context.Context, now time.Time) ([]*deadline.Deadline, error) {
	var (
		missed []*deadline.Deadline
		errs   []error
	)

	for {
		overdue, err := m.store.ListOverdue(ctx, now, m.cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("получение просроченных: %w", err))
			break
		}

		progress := 0
		for _, d := range overdue {
			if err := ctx.Err(); err != nil {
				return missed, errors.Join(append(errs, err)...)
			}
			if err := deadline.ValidateSweepTransition(d.Status, deadline.StatusMissed); err != nil {
				continue
			}

			updated, err := m.store.TransitionStatus(ctx, d.ID, d.Status, deadline.StatusMissed, now)
			if errors.Is(err, repo.ErrConditionFailed) {
				logger.Debug("Lifecycle: Дедлайн уже закрыт другим писателем",
					zap.String("deadline_id", d.ID.String()))
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("дедлайн %s: %w", d.ID, err))
				continue
			}

			m.retireReminders(ctx, updated.ID)
			missed = append(missed, updated)
			progress++
		}

		if progress == 0 || len(overdue) < m.cfg.BatchSize {
			break
		}
	}

	if len(missed) > 0 {
		logger.Info("Lifecycle: Дедлайны переведены в missed", zap.Int("count", len(missed)))
	}
	return missed, errors.Join(errs...)
}

// ExpandRecurring создаёт следующий экземпляр серии и планирует для него напоминания.
// Если продолжение уже создано другим экземпляром сервиса, возвращает nil без ошибки
func (m *Manager) ExpandRecurring(ctx context.Context, d *deadline.Deadline, now time.Time) (*deadline.Deadline, error) {
	draft, err := recurrence.Expand(d, now, m.cfg.Location)
	if err != nil {
		logger.Warn("Lifecycle: Не удалось вычислить следующий срок серии",
			zap.String("deadline_id", d.ID.String()),
			zap.String("pattern", d.RecurrencePattern),
			zap.Error(err))
		return nil, err
	}
	if draft == nil {
		return nil, nil
	}

	if err := m.store.CreateDeadline(ctx, draft); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			logger.Debug("Lifecycle: Продолжение серии уже создано",
				zap.String("previous_id", d.ID.String()))
			return nil, nil
		}
		return nil, fmt.Errorf("создание продолжения серии: %w", err)
	}

	if _, err := m.planner.Plan(ctx, draft); err != nil {
		logger.Error("Lifecycle: Не удалось спланировать напоминания продолжения", err,
			zap.String("deadline_id", draft.ID.String()))
	}

	logger.Info("Lifecycle: Создан следующий экземпляр серии",
		zap.String("previous_id", d.ID.String()),
		zap.String("deadline_id", draft.ID.String()),
		zap.Time("due_at", draft.DueAt))
	return draft, nil
}

// ExpandPending продолжает все завершённые серии, у которых ещё нет следующего экземпляра:
// только что пропущенные и те, чьё продолжение не создалось раньше.
// Серии с некорректным шаблоном пропускаются и ошибкой прохода не считаются
func (m *Manager) ExpandPending(ctx context.Context, now time.Time) (int, error) {
	var (
		expanded int
		errs     []error
		afterID  uuid.UUID
	)

	for {
		pending, err := m.store.ListUnexpanded(ctx, afterID, m.cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("получение серий без продолжения: %w", err))
			break
		}
		if len(pending) == 0 {
			break
		}
		afterID = pending[len(pending)-1].ID

		for _, d := range pending {
			if err := ctx.Err(); err != nil {
				return expanded, errors.Join(append(errs, err)...)
			}
			next, err := m.ExpandRecurring(ctx, d, now)
			if err != nil {
				if !errors.Is(err, deadline.ErrMalformedRecurrence) {
					errs = append(errs, fmt.Errorf("дедлайн %s: %w", d.ID, err))
				}
				continue
			}
			if next != nil {
				expanded++
			}
		}

		if len(pending) < m.cfg.BatchSize {
			break
		}
	}

	return expanded, errors.Join(errs...)
}

func (m *Manager) afterTransition(ctx context.Context, d *deadline.Deadline, now time.Time) *deadline.Deadline {
	if d.IsTerminal() {
		m.retireReminders(ctx, d.ID)
	}
	if !recurrence.Expandable(d) {
		return nil
	}

	successor, err := m.ExpandRecurring(ctx, d, now)
	if err != nil {
		logger.Error("Lifecycle: Продолжение серии не создано", err, zap.String("deadline_id", d.ID.String()))
		return nil
	}
	return successor
}

func (m *Manager) retireReminders(ctx context.Context, id uuid.UUID) {
	if _, err := m.planner.RetireAll(ctx, id); err != nil {
		logger.Error("Lifecycle: Не удалось списать напоминания", err, zap.String("deadline_id", id.String()))
	}
}
