package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	repo "deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	CreateReminder(ctx context.Context, r *reminder.Reminder) error
	ListDeadlineReminders(ctx context.Context, deadlineID uuid.UUID) ([]*reminder.Reminder, error)
	RetireReminder(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Config struct {
	FireHour       int
	FireMinute     int
	DefaultChannel reminder.Channel
	Location       *time.Location
}

func DefaultConfig() Config {
	return Config{
		FireHour:       9,
		FireMinute:     0,
		DefaultChannel: reminder.ChannelEmail,
		Location:       time.UTC,
	}
}

type Result struct {
	Created int
	Kept    int
	Retired int
}

type Planner struct {
	store Store
	cfg   Config
	clock clock.Clock
}

func New(store Store, cfg Config, clk clock.Clock) *Planner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = reminder.ChannelEmail
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Planner{store: store, cfg: cfg, clock: clk}
}

// Recipient - ответственный, если он назначен, иначе общий канал лаборатории
func Recipient(d *deadline.Deadline) string {
	if d.ResponsibleID != nil {
		return "user:" + d.ResponsibleID.String()
	}
	return "lab:" + d.LabID.String()
}

// FireAt - дата срока минус leadDays, в настроенное время суток
func (p *Planner) FireAt(due time.Time, leadDays int) time.Time {
	local := due.In(p.cfg.Location)
	y, m, day := local.Date()
	return time.Date(y, m, day-leadDays, p.cfg.FireHour, p.cfg.FireMinute, 0, 0, p.cfg.Location)
}

// Desired - набор напоминаний, который должен существовать для дедлайна в момент now.
// Если срок напоминания уже прошёл, оно планируется на now, а не теряется
func (p *Planner) Desired(d *deadline.Deadline, now time.Time) []*reminder.Reminder {
	if d.IsTerminal() {
		return nil
	}

	lead := d.NotificationLeadDays
	if lead < 0 {
		lead = 0
	}

	fireAt := p.FireAt(d.DueAt, lead)
	kind := reminder.KindLeadTime
	if !fireAt.After(now) {
		fireAt = now
		kind = reminder.KindImmediate
	}

	return []*reminder.Reminder{{
		ID:         uuid.New(),
		DeadlineID: d.ID,
		LabID:      d.LabID,
		LeadDays:   lead,
		Recipient:  Recipient(d),
		Channel:    p.cfg.DefaultChannel,
		Kind:       kind,
		DueAt:      d.DueAt,
		FireAt:     fireAt,
		CreatedAt:  now,
	}}
}

// Plan приводит сохранённые напоминания к желаемому набору.
// Отправленные не трогаются, лишние живые списываются, недостающие создаются
func (p *Planner) Plan(ctx context.Context, d *deadline.Deadline) (Result, error) {
	var res Result
	now := p.clock.Now()

	existing, err := p.store.ListDeadlineReminders(ctx, d.ID)
	if err != nil {
		return res, fmt.Errorf("получение напоминаний: %w", err)
	}

	desired := p.Desired(d, now)
	satisfied := make([]bool, len(desired))

	for _, r := range existing {
		if r.State() == reminder.StateRetired {
			continue
		}
		if idx := match(desired, r); idx >= 0 {
			satisfied[idx] = true
			if r.IsLive() {
				res.Kept++
			}
			continue
		}
		if !r.IsLive() {
			continue
		}

		if err := p.store.RetireReminder(ctx, r.ID, now); err != nil {
			if errors.Is(err, repo.ErrConditionFailed) {
				logger.Debug("Planner: Напоминание уже отправлено или списано",
					zap.String("reminder_id", r.ID.String()))
				continue
			}
			return res, fmt.Errorf("списание напоминания %s: %w", r.ID, err)
		}
		res.Retired++
	}

	for i, r := range desired {
		if satisfied[i] {
			continue
		}
		if err := p.store.CreateReminder(ctx, r); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				logger.Debug("Planner: Напоминание уже создано параллельно",
					zap.String("deadline_id", d.ID.String()),
					zap.Int("lead_days", r.LeadDays))
				res.Kept++
				continue
			}
			return res, fmt.Errorf("создание напоминания: %w", err)
		}
		res.Created++
	}

	logger.Debug("Planner: Напоминания спланированы",
		zap.String("deadline_id", d.ID.String()),
		zap.Int("created", res.Created),
		zap.Int("kept", res.Kept),
		zap.Int("retired", res.Retired))
	return res, nil
}

// RetireAll списывает все живые напоминания дедлайна, отправленные остаются в истории
func (p *Planner) RetireAll(ctx context.Context, deadlineID uuid.UUID) (int, error) {
	now := p.clock.Now()

	existing, err := p.store.ListDeadlineReminders(ctx, deadlineID)
	if err != nil {
		return 0, fmt.Errorf("получение напоминаний: %w", err)
	}

	retired := 0
	for _, r := range existing {
		if !r.IsLive() {
			continue
		}
		if err := p.store.RetireReminder(ctx, r.ID, now); err != nil {
			if errors.Is(err, repo.ErrConditionFailed) {
				logger.Debug("Planner: Напоминание уже отправлено или списано",
					zap.String("reminder_id", r.ID.String()))
				continue
			}
			return retired, fmt.Errorf("списание напоминания %s: %w", r.ID, err)
		}
		retired++
	}
	return retired, nil
}

// match ищет желаемое напоминание с тем же ключом, спланированное под тот же срок
func match(desired []*reminder.Reminder, r *reminder.Reminder) int {
	for i, want := range desired {
		if want.Key() == r.Key() && want.DueAt.Equal(r.DueAt) {
			return i
		}
	}
	return -1
}
