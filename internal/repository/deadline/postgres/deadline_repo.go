package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	repo "deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ repo.Store = (*Storage)(nil)

const (
	uniqueViolation = "23505"
	slowQuery       = time.Millisecond * 100
)

const deadlineColumns = `id, lab_id, title, description, category, due_at, anchor_at, priority, status,
	responsible_id, external_url, requirements, notification_lead_days, is_recurring,
	recurrence_pattern, tags, previous_id, created_by, created_at, updated_at, completed_at, version`

const reminderColumns = `id, deadline_id, lab_id, lead_days, recipient, channel, kind, due_at, fire_at,
	sent_at, retired_at, claim_token, claimed_until, attempts, last_error, created_at`

type Storage struct {
	pool *pgxpool.Pool
}

type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

func New(ctx context.Context, connString string, opts *PoolOptions) (*Storage, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		logger.Error("Repository: Ошибка загрузки конфига", err)
		return nil, fmt.Errorf("загрузка конфига: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnIdleTime = time.Minute * 5
	if opts != nil {
		if opts.MaxConns > 0 {
			config.MaxConns = opts.MaxConns
		}
		if opts.MinConns > 0 {
			config.MinConns = opts.MinConns
		}
		if opts.MaxConnIdleTime > 0 {
			config.MaxConnIdleTime = opts.MaxConnIdleTime
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.Error("Repository: Ошибка создания пула", err)
		return nil, fmt.Errorf("создание пула: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Error("Repository: Неудачная проверка ping", err)
		return nil, fmt.Errorf("проверка соединения ping: %w", err)
	}

	logger.Info("Repository: Успешное создание подключения к PostgreSQL")
	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
	logger.Info("Repository: Закрытие всех соединений PostgreSQL")
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		logger.Error("Repository: Неудачная проверка ping", err)
		return fmt.Errorf("проверка соединения ping: %w", err)
	}
	return nil
}

func (s *Storage) CreateDeadline(ctx context.Context, d *deadline.Deadline) error {
	start := time.Now()
	defer logSlow("CreateDeadline", start)

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	query := `INSERT INTO deadlines
				(id, lab_id, title, description, category, due_at, anchor_at, priority, status,
				 responsible_id, external_url, requirements, notification_lead_days, is_recurring,
				 recurrence_pattern, tags, previous_id, created_by, created_at, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, 1)
				RETURNING version`

	err := s.pool.QueryRow(ctx, query,
		d.ID,
		d.LabID,
		d.Title,
		d.Description,
		string(d.Category),
		d.DueAt,
		d.Anchor(),
		string(d.Priority),
		string(d.Status),
		d.ResponsibleID,
		d.ExternalURL,
		d.Requirements,
		d.NotificationLeadDays,
		d.IsRecurring,
		d.RecurrencePattern,
		tagsOrEmpty(d.Tags),
		d.PreviousID,
		d.CreatedBy,
		d.CreatedAt,
	).Scan(&d.Version)

	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		logger.Error("Repository: Не удалось добавить дедлайн", err, zap.Duration("ms", time.Since(start)))
		return fmt.Errorf("добавление дедлайна: %w", err)
	}
	return nil
}

func (s *Storage) GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error) {
	start := time.Now()
	defer logSlow("GetDeadline", start)

	query := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE id = $1`

	d, err := scanDeadline(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: Не удалось получить дедлайн", err, zap.Duration("ms", time.Since(start)))
		return nil, fmt.Errorf("получение дедлайна: %w", err)
	}
	return d, nil
}

func (s *Storage) ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error) {
	start := time.Now()
	defer logSlow("ListLabDeadlines", start)

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := `SELECT ` + deadlineColumns + `
				FROM deadlines
				WHERE lab_id = $1
				ORDER BY due_at, id
				LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, labID, limit, offset)
	if err != nil {
		logger.Error("Repository: Не удалось получить дедлайны лаборатории", err, zap.Duration("ms", time.Since(start)))
		return nil, fmt.Errorf("получение дедлайнов: %w", err)
	}
	return collectDeadlines(rows)
}

func (s *Storage) UpdateDeadline(ctx context.Context, d *deadline.Deadline) error {
	start := time.Now()
	defer logSlow("UpdateDeadline", start)

	query := `UPDATE deadlines
			SET title = $1,
				description = $2,
				category = $3,
				due_at = $4,
				anchor_at = $5,
				priority = $6,
				responsible_id = $7,
				external_url = $8,
				requirements = $9,
				notification_lead_days = $10,
				is_recurring = $11,
				recurrence_pattern = $12,
				tags = $13,
				version = version + 1,
				updated_at = NOW()
			WHERE id = $14 AND version = $15
			RETURNING updated_at, version, status`

	err := s.pool.QueryRow(ctx, query,
		d.Title,
		d.Description,
		string(d.Category),
		d.DueAt,
		d.Anchor(),
		string(d.Priority),
		d.ResponsibleID,
		d.ExternalURL,
		d.Requirements,
		d.NotificationLeadDays,
		d.IsRecurring,
		d.RecurrencePattern,
		tagsOrEmpty(d.Tags),
		d.ID,
		d.Version,
	).Scan(&d.UpdatedAt, &d.Version, &d.Status)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			logger.Warn("Repository: Конфликт версий при обновлении дедлайна",
				zap.String("deadline_id", d.ID.String()),
				zap.Int("expected_version", d.Version))
			return repo.ErrVersionConflict
		}
		logger.Error("Repository: Не удалось обновить дедлайн", err)
		return fmt.Errorf("обновление дедлайна: %w", err)
	}
	return nil
}

func (s *Storage) TransitionStatus(ctx context.Context, id uuid.UUID, from, to deadline.Status, at time.Time) (*deadline.Deadline, error) {
	start := time.Now()
	defer logSlow("TransitionStatus", start)

	query := `UPDATE deadlines
			SET status = $3,
				updated_at = $4,
				completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
				version = version + 1
			WHERE id = $1 AND status = $2 AND status IN ('pending', 'in_progress')
			RETURNING ` + deadlineColumns

	d, err := scanDeadline(s.pool.QueryRow(ctx, query, id, string(from), string(to), at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrConditionFailed
		}
		logger.Error("Repository: Не удалось сменить статус", err, zap.String("deadline_id", id.String()))
		return nil, fmt.Errorf("смена статуса: %w", err)
	}
	return d, nil
}

func (s *Storage) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*deadline.Deadline, error) {
	start := time.Now()
	defer logSlow("ListOverdue", start)

	query := `SELECT ` + deadlineColumns + `
				FROM deadlines
				WHERE status IN ('pending', 'in_progress') AND due_at < $1
				ORDER BY due_at, id
				LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить просроченные дедлайны", err, zap.Duration("ms", time.Since(start)))
		return nil, fmt.Errorf("получение просроченных дедлайнов: %w", err)
	}
	return collectDeadlines(rows)
}

func (s *Storage) ListUnexpanded(ctx context.Context, afterID uuid.UUID, limit int) ([]*deadline.Deadline, error) {
	start := time.Now()
	defer logSlow("ListUnexpanded", start)

	query := `SELECT ` + deadlineColumns + `
				FROM deadlines d
				WHERE d.is_recurring
					AND d.status IN ('completed', 'missed')
					AND d.id > $1
					AND NOT EXISTS (SELECT 1 FROM deadlines s WHERE s.previous_id = d.id)
				ORDER BY d.id
				LIMIT $2`

	rows, err := s.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить серии без продолжения", err, zap.Duration("ms", time.Since(start)))
		return nil, fmt.Errorf("получение серий без продолжения: %w", err)
	}
	return collectDeadlines(rows)
}

func (s *Storage) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	start := time.Now()
	defer logSlow("CreateReminder", start)

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `INSERT INTO reminders
				(id, deadline_id, lab_id, lead_days, recipient, channel, kind, due_at, fire_at, attempts, last_error, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.DeadlineID,
		r.LabID,
		r.LeadDays,
		r.Recipient,
		string(r.Channel),
		string(r.Kind),
		r.DueAt,
		r.FireAt,
		r.Attempts,
		r.LastError,
		r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		logger.Error("Repository: Не удалось добавить напоминание", err, zap.Duration("ms", time.Since(start)))
		return fmt.Errorf("добавление напоминания: %w", err)
	}
	return nil
}

func (s *Storage) ListDeadlineReminders(ctx context.Context, deadlineID uuid.UUID) ([]*reminder.Reminder, error) {
	start := time.Now()
	defer logSlow("ListDeadlineReminders", start)

	query := `SELECT ` + reminderColumns + `
				FROM reminders
				WHERE deadline_id = $1
				ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, deadlineID)
	if err != nil {
		logger.Error("Repository: Не удалось получить напоминания", err)
		return nil, fmt.Errorf("получение напоминаний: %w", err)
	}
	return collectReminders(rows)
}

func (s *Storage) ListDueReminders(ctx context.Context, now time.Time, after reminder.Cursor, limit int) ([]*reminder.Reminder, error) {
	start := time.Now()
	defer logSlow("ListDueReminders", start)

	query := `SELECT ` + reminderColumns + `
				FROM reminders
				WHERE sent_at IS NULL
					AND retired_at IS NULL
					AND fire_at <= $1
					AND (claimed_until IS NULL OR claimed_until <= $1)
					AND (fire_at, id) > ($2, $3)
				ORDER BY fire_at, id
				LIMIT $4`

	rows, err := s.pool.Query(ctx, query, now, after.FireAt, after.ID, limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить напоминания к отправке", err)
		return nil, fmt.Errorf("получение напоминаний к отправке: %w", err)
	}
	return collectReminders(rows)
}

func (s *Storage) ClaimReminder(ctx context.Context, id, token uuid.UUID, now, until time.Time) error {
	start := time.Now()
	defer logSlow("ClaimReminder", start)

	query := `UPDATE reminders
			SET claim_token = $2,
				claimed_until = $4
			WHERE id = $1
				AND sent_at IS NULL
				AND retired_at IS NULL
				AND (claimed_until IS NULL OR claimed_until <= $3)`

	tag, err := s.pool.Exec(ctx, query, id, token, now, until)
	if err != nil {
		logger.Error("Repository: Не удалось захватить напоминание", err, zap.String("reminder_id", id.String()))
		return fmt.Errorf("захват напоминания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrConditionFailed
	}
	return nil
}

func (s *Storage) ReleaseReminder(ctx context.Context, id, token uuid.UUID, failure string) (int, error) {
	start := time.Now()
	defer logSlow("ReleaseReminder", start)

	query := `UPDATE reminders
			SET attempts = attempts + 1,
				last_error = $3,
				claim_token = NULL,
				claimed_until = NULL
			WHERE id = $1 AND claim_token = $2
			RETURNING attempts`

	var attempts int
	err := s.pool.QueryRow(ctx, query, id, token, failure).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repo.ErrConditionFailed
		}
		logger.Error("Repository: Не удалось освободить напоминание", err, zap.String("reminder_id", id.String()))
		return 0, fmt.Errorf("освобождение напоминания: %w", err)
	}
	return attempts, nil
}

func (s *Storage) MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	start := time.Now()
	defer logSlow("MarkReminderSent", start)

	query := `UPDATE reminders
			SET sent_at = $2,
				attempts = attempts + 1,
				last_error = '',
				claim_token = NULL,
				claimed_until = NULL
			WHERE id = $1 AND sent_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id, sentAt)
	if err != nil {
		logger.Error("Repository: Не удалось отметить отправку", err, zap.String("reminder_id", id.String()))
		return fmt.Errorf("отметка отправки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrConditionFailed
	}
	return nil
}

func (s *Storage) RetireReminder(ctx context.Context, id uuid.UUID, at time.Time) error {
	start := time.Now()
	defer logSlow("RetireReminder", start)

	query := `UPDATE reminders
			SET retired_at = $2
			WHERE id = $1 AND sent_at IS NULL AND retired_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		logger.Error("Repository: Не удалось списать напоминание", err, zap.String("reminder_id", id.String()))
		return fmt.Errorf("списание напоминания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrConditionFailed
	}
	return nil
}

func scanDeadline(row pgx.Row) (*deadline.Deadline, error) {
	d := &deadline.Deadline{}
	err := row.Scan(
		&d.ID,
		&d.LabID,
		&d.Title,
		&d.Description,
		&d.Category,
		&d.DueAt,
		&d.AnchorAt,
		&d.Priority,
		&d.Status,
		&d.ResponsibleID,
		&d.ExternalURL,
		&d.Requirements,
		&d.NotificationLeadDays,
		&d.IsRecurring,
		&d.RecurrencePattern,
		&d.Tags,
		&d.PreviousID,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.CompletedAt,
		&d.Version,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanReminder(row pgx.Row) (*reminder.Reminder, error) {
	r := &reminder.Reminder{}
	err := row.Scan(
		&r.ID,
		&r.DeadlineID,
		&r.LabID,
		&r.LeadDays,
		&r.Recipient,
		&r.Channel,
		&r.Kind,
		&r.DueAt,
		&r.FireAt,
		&r.SentAt,
		&r.RetiredAt,
		&r.ClaimToken,
		&r.ClaimedUntil,
		&r.Attempts,
		&r.LastError,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func collectDeadlines(rows pgx.Rows) ([]*deadline.Deadline, error) {
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*deadline.Deadline, error) {
		return scanDeadline(row)
	})
	if err != nil {
		logger.Error("Repository: Ошибка чтения строк", err)
		return nil, fmt.Errorf("чтение дедлайнов: %w", err)
	}
	return res, nil
}

func collectReminders(rows pgx.Rows) ([]*reminder.Reminder, error) {
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*reminder.Reminder, error) {
		return scanReminder(row)
	})
	if err != nil {
		logger.Error("Repository: Ошибка чтения строк", err)
		return nil, fmt.Errorf("чтение напоминаний: %w", err)
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func logSlow(op string, start time.Time) {
	if elapsed := time.Since(start); elapsed > slowQuery {
		logger.Warn("Repository: Медленный запрос", zap.String("op", op), zap.Duration("ms", elapsed))
	}
}
