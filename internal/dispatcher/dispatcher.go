package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/notify"
	repo "deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

type Store interface {
	GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error)
	ListDueReminders(ctx context.Context, now time.Time, after reminder.Cursor, limit int) ([]*reminder.Reminder, error)
	ClaimReminder(ctx context.Context, id, token uuid.UUID, now, until time.Time) error
	ReleaseReminder(ctx context.Context, id, token uuid.UUID, failure string) (int, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
}

type Renderer interface {
	Render(d *deadline.Deadline, r *reminder.Reminder, now time.Time) (notify.Message, error)
}

type Config struct {
	BatchSize   int
	Concurrency int
	SendTimeout time.Duration
	// ClaimTTL - аренда напоминания на время отправки, должна быть больше SendTimeout
	ClaimTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		Concurrency: 4,
		SendTimeout: 10 * time.Second,
		ClaimTTL:    2 * time.Minute,
	}
}

type Dispatcher struct {
	store     Store
	transport notify.Transport
	renderer  Renderer
	cfg       Config
	clock     clock.Clock
}

func New(store Store, transport notify.Transport, renderer Renderer, cfg Config, clk clock.Clock) *Dispatcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.ClaimTTL <= cfg.SendTimeout {
		logger.Warn("Dispatcher: claim_ttl не больше send_timeout, увеличиваем",
			zap.Duration("claim_ttl", cfg.ClaimTTL),
			zap.Duration("send_timeout", cfg.SendTimeout))
		cfg.ClaimTTL = 2 * cfg.SendTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Dispatcher{
		store:     store,
		transport: transport,
		renderer:  renderer,
		cfg:       cfg,
		clock:     clk,
	}
}

// Sweep отправляет все напоминания, срок которых наступил к now, и возвращает число отправленных.
// Ошибка отправки одного напоминания не прерывает проход, оно останется на следующий.
// Обход идёт курсором по (fire_at, id), поэтому неудачные не заслоняют остальные
func (d *Dispatcher) Sweep(ctx context.Context, now time.Time) (int, error) {
	var (
		sent   atomic.Int64
		cursor reminder.Cursor
		errs   []error
	)

	for {
		batch, err := d.store.ListDueReminders(ctx, now, cursor, d.cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("получение напоминаний: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].Cursor()

		p := pool.New().WithErrors().WithMaxGoroutines(d.cfg.Concurrency)
		for _, r := range batch {
			p.Go(func() error {
				ok, err := d.dispatch(ctx, r, now)
				if ok {
					sent.Add(1)
				}
				return err
			})
		}
		if err := p.Wait(); err != nil {
			errs = append(errs, err)
		}

		if len(batch) < d.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	total := int(sent.Load())
	if total > 0 {
		logger.Info("Dispatcher: Напоминания отправлены", zap.Int("count", total))
	}
	return total, errors.Join(errs...)
}

// dispatch: аренда, отправка, затем условная запись sent_at.
// Транспорт вызывается только держателем аренды
func (d *Dispatcher) dispatch(ctx context.Context, r *reminder.Reminder, now time.Time) (bool, error) {
	token := uuid.New()
	if err := d.store.ClaimReminder(ctx, r.ID, token, now, now.Add(d.cfg.ClaimTTL)); err != nil {
		if errors.Is(err, repo.ErrConditionFailed) {
			logger.Debug("Dispatcher: Напоминание уже захвачено или отправлено",
				zap.String("reminder_id", r.ID.String()))
			return false, nil
		}
		return false, fmt.Errorf("захват напоминания %s: %w", r.ID, err)
	}

	msg, err := d.prepare(ctx, r, now)
	if err != nil {
		return false, d.release(ctx, r, token, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.transport.Send(sendCtx, r.Recipient, r.Channel, msg)
	cancel()
	if err != nil {
		if !errors.Is(err, notify.ErrTransportFailure) {
			err = fmt.Errorf("%w: %v", notify.ErrTransportFailure, err)
		}
		return false, d.release(ctx, r, token, err)
	}

	if err := d.store.MarkReminderSent(ctx, r.ID, now); err != nil {
		if errors.Is(err, repo.ErrConditionFailed) {
			logger.Debug("Dispatcher: Отметка об отправке уже записана",
				zap.String("reminder_id", r.ID.String()))
			return false, nil
		}
		logger.Error("Dispatcher: Отправлено, но не отмечено", err, zap.String("reminder_id", r.ID.String()))
		return false, fmt.Errorf("отметка отправки %s: %w", r.ID, err)
	}

	logger.Debug("Dispatcher: Напоминание отправлено",
		zap.String("reminder_id", r.ID.String()),
		zap.String("recipient", r.Recipient))
	return true, nil
}

func (d *Dispatcher) prepare(ctx context.Context, r *reminder.Reminder, now time.Time) (notify.Message, error) {
	dl, err := d.store.GetDeadline(ctx, r.DeadlineID)
	if err != nil {
		return notify.Message{}, fmt.Errorf("получение дедлайна: %w", err)
	}
	msg, err := d.renderer.Render(dl, r, now)
	if err != nil {
		return notify.Message{}, fmt.Errorf("рендер сообщения: %w", err)
	}
	return msg, nil
}

// release снимает аренду; сама неудачная отправка ошибкой прохода не считается
func (d *Dispatcher) release(ctx context.Context, r *reminder.Reminder, token uuid.UUID, cause error) error {
	attempts, err := d.store.ReleaseReminder(ctx, r.ID, token, cause.Error())
	if err != nil && !errors.Is(err, repo.ErrConditionFailed) {
		return fmt.Errorf("освобождение напоминания %s: %w", r.ID, err)
	}

	logger.Warn("Dispatcher: Не удалось отправить напоминание",
		zap.String("reminder_id", r.ID.String()),
		zap.String("recipient", r.Recipient),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return nil
}
