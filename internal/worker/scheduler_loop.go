package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type StatusSweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]*deadline.Deadline, error)
	// ExpandPending продолжает завершённые серии без следующего экземпляра
	ExpandPending(ctx context.Context, now time.Time) (int, error)
}

type ReminderSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type TickReport struct {
	Missed   int           `json:"missed"`
	Expanded int           `json:"expanded"`
	Sent     int           `json:"sent"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// SchedulerLoop - периодический проход: автоматический missed, рассылка, продолжение серий.
// Одновременно выполняется не больше одного прохода, лишние пропускаются
type SchedulerLoop struct {
	lifecycle   StatusSweeper
	dispatcher  ReminderSweeper
	clock       clock.Clock
	interval    time.Duration
	tickTimeout time.Duration
	sem         *semaphore.Weighted

	mtx    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSchedulerLoop(lc StatusSweeper, disp ReminderSweeper, clk clock.Clock, interval *time.Duration, tickTimeout *time.Duration) *SchedulerLoop {
	var intervalToSet time.Duration
	if interval == nil {
		intervalToSet = 5 * time.Minute
	} else {
		intervalToSet = *interval
	}

	var timeoutToSet time.Duration
	if tickTimeout == nil {
		timeoutToSet = 2 * time.Minute
	} else {
		timeoutToSet = *tickTimeout
	}

	if clk == nil {
		clk = clock.Real{}
	}

	return &SchedulerLoop{
		lifecycle:   lc,
		dispatcher:  disp,
		clock:       clk,
		interval:    intervalToSet,
		tickTimeout: timeoutToSet,
		sem:         semaphore.NewWeighted(1),
	}
}

// Start блокирует до отмены ctx или Stop. Первый проход выполняется сразу.
// Начатый проход доводится до конца даже после отмены
func (w *SchedulerLoop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mtx.Lock()
	w.cancel = cancel
	w.done = done
	w.mtx.Unlock()

	defer close(done)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info("Worker: Планировщик запущен", zap.Duration("interval", w.interval))
	w.tick(ctx)

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			logger.Info("Worker: Планировщик останавливается")
			return
		}
	}
}

// Stop отменяет цикл и ждёт завершения текущего прохода
func (w *SchedulerLoop) Stop() {
	w.mtx.Lock()
	cancel, done := w.cancel, w.done
	w.mtx.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *SchedulerLoop) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.tickTimeout)
	defer cancel()

	if _, err := w.RunTick(tickCtx, w.clock.Now()); err != nil {
		logger.Error("Worker: Проход завершился с ошибками", err)
	}
}

// RunTick - один проход планировщика на момент now
func (w *SchedulerLoop) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	if !w.sem.TryAcquire(1) {
		logger.Info("Worker: Предыдущий проход ещё выполняется, пропуск")
		return TickReport{Skipped: true}, nil
	}
	defer w.sem.Release(1)

	start := time.Now()
	var report TickReport
	var errs []error

	missed, err := w.lifecycle.Sweep(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	report.Missed = len(missed)

	sent, err := w.dispatcher.Sweep(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	report.Sent = sent

	// вместе с только что пропущенными подхватываются серии, продолжение которых не создалось раньше
	expanded, err := w.lifecycle.ExpandPending(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	report.Expanded = expanded

	report.Duration = time.Since(start)
	logger.Info("Worker: Проход завершён",
		zap.Time("now", now),
		zap.Int("missed", report.Missed),
		zap.Int("sent", report.Sent),
		zap.Int("expanded", report.Expanded),
		zap.Duration("ms", report.Duration))

	return report, errors.Join(errs...)
}
