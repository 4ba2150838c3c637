// Package sqlite - хранилище для одного узла без внешней БД
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	repo "deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var _ repo.Store = (*Storage)(nil)

// время хранится текстом фиксированной ширины в UTC, поэтому строки сравниваются как даты
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const deadlineColumns = `id, lab_id, title, description, category, due_at, anchor_at, priority, status,
	responsible_id, external_url, requirements, notification_lead_days, is_recurring,
	recurrence_pattern, tags, previous_id, created_by, created_at, updated_at, completed_at, version`

const reminderColumns = `id, deadline_id, lab_id, lead_days, recipient, channel, kind, due_at, fire_at,
	sent_at, retired_at, claim_token, claimed_until, attempts, last_error, created_at`

const schema = `
CREATE TABLE IF NOT EXISTS deadlines (
	id                     TEXT PRIMARY KEY,
	lab_id                 TEXT    NOT NULL,
	title                  TEXT    NOT NULL,
	description            TEXT    NOT NULL DEFAULT '',
	category               TEXT    NOT NULL DEFAULT 'other',
	due_at                 TEXT    NOT NULL,
	anchor_at              TEXT    NOT NULL,
	priority               TEXT    NOT NULL DEFAULT 'medium',
	status                 TEXT    NOT NULL DEFAULT 'pending',
	responsible_id         TEXT,
	external_url           TEXT    NOT NULL DEFAULT '',
	requirements           TEXT    NOT NULL DEFAULT '',
	notification_lead_days INTEGER NOT NULL DEFAULT 7 CHECK (notification_lead_days >= 0),
	is_recurring           INTEGER NOT NULL DEFAULT 0,
	recurrence_pattern     TEXT    NOT NULL DEFAULT '',
	tags                   TEXT    NOT NULL DEFAULT '[]',
	previous_id            TEXT UNIQUE,
	created_by             TEXT,
	created_at             TEXT    NOT NULL,
	updated_at             TEXT,
	completed_at           TEXT,
	version                INTEGER NOT NULL DEFAULT 1,
	CHECK (NOT is_recurring OR recurrence_pattern <> '')
);

CREATE TABLE IF NOT EXISTS reminders (
	id            TEXT PRIMARY KEY,
	deadline_id   TEXT    NOT NULL REFERENCES deadlines (id),
	lab_id        TEXT    NOT NULL,
	lead_days     INTEGER NOT NULL,
	recipient     TEXT    NOT NULL,
	channel       TEXT    NOT NULL DEFAULT 'email',
	kind          TEXT    NOT NULL DEFAULT 'lead_time',
	due_at        TEXT    NOT NULL,
	fire_at       TEXT    NOT NULL,
	sent_at       TEXT,
	retired_at    TEXT,
	claim_token   TEXT,
	claimed_until TEXT,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT    NOT NULL DEFAULT '',
	created_at    TEXT    NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_reminders_live_key
	ON reminders (deadline_id, lead_days, recipient)
	WHERE sent_at IS NULL AND retired_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_deadlines_lab_due ON deadlines (lab_id, due_at);
CREATE INDEX IF NOT EXISTS idx_deadlines_status_due ON deadlines (status, due_at);
CREATE INDEX IF NOT EXISTS idx_reminders_deadline ON reminders (deadline_id);
CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders (fire_at);
`

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога БД: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		logger.Error("Repository: Не удалось открыть SQLite", err)
		return nil, fmt.Errorf("открытие БД: %w", err)
	}

	// один писатель, pragma действуют на единственное соединение
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		logger.Error("Repository: Ошибка создания схемы SQLite", err)
		return nil, fmt.Errorf("создание схемы: %w", err)
	}

	logger.Info("Repository: SQLite открыт", zap.String("path", dbPath))
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		logger.Error("Repository: Неудачная проверка ping", err)
		return fmt.Errorf("проверка соединения ping: %w", err)
	}
	return nil
}

func (s *Storage) CreateDeadline(ctx context.Context, d *deadline.Deadline) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO deadlines
		(id, lab_id, title, description, category, due_at, anchor_at, priority, status,
		 responsible_id, external_url, requirements, notification_lead_days, is_recurring,
		 recurrence_pattern, tags, previous_id, created_by, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		d.ID.String(),
		d.LabID.String(),
		d.Title,
		d.Description,
		string(d.Category),
		formatTime(d.DueAt),
		formatTime(d.Anchor()),
		string(d.Priority),
		string(d.Status),
		nullID(d.ResponsibleID),
		d.ExternalURL,
		d.Requirements,
		d.NotificationLeadDays,
		d.IsRecurring,
		d.RecurrencePattern,
		tags,
		nullID(d.PreviousID),
		nullID(d.CreatedBy),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		logger.Error("Repository: Не удалось добавить дедлайн", err)
		return fmt.Errorf("добавление дедлайна: %w", err)
	}

	d.Version = 1
	return nil
}

func (s *Storage) GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error) {
	return getDeadline(ctx, s.db, id)
}

func (s *Storage) ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error) {
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+deadlineColumns+`
		FROM deadlines WHERE lab_id = ? ORDER BY due_at, id LIMIT ? OFFSET ?`,
		labID.String(), limit, (page-1)*limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить дедлайны лаборатории", err)
		return nil, fmt.Errorf("получение дедлайнов: %w", err)
	}
	return collectDeadlines(rows)
}

func (s *Storage) UpdateDeadline(ctx context.Context, d *deadline.Deadline) error {
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `UPDATE deadlines
		SET title = ?, description = ?, category = ?, due_at = ?, anchor_at = ?, priority = ?,
			responsible_id = ?, external_url = ?, requirements = ?, notification_lead_days = ?,
			is_recurring = ?, recurrence_pattern = ?, tags = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		d.Title,
		d.Description,
		string(d.Category),
		formatTime(d.DueAt),
		formatTime(d.Anchor()),
		string(d.Priority),
		nullID(d.ResponsibleID),
		d.ExternalURL,
		d.Requirements,
		d.NotificationLeadDays,
		d.IsRecurring,
		d.RecurrencePattern,
		tags,
		formatTime(now),
		d.ID.String(),
		d.Version,
	)
	if err != nil {
		logger.Error("Repository: Не удалось обновить дедлайн", err)
		return fmt.Errorf("обновление дедлайна: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.Warn("Repository: Конфликт версий при обновлении дедлайна",
			zap.String("deadline_id", d.ID.String()),
			zap.Int("expected_version", d.Version))
		return repo.ErrVersionConflict
	}

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM deadlines WHERE id = ?`, d.ID.String()).Scan(&status); err != nil {
		return fmt.Errorf("чтение статуса: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}

	d.Version++
	d.UpdatedAt = &now
	d.Status = deadline.Status(status)
	return nil
}

func (s *Storage) TransitionStatus(ctx context.Context, id uuid.UUID, from, to deadline.Status, at time.Time) (*deadline.Deadline, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback()

	var completedAt any
	if to == deadline.StatusCompleted {
		completedAt = formatTime(at)
	}

	res, err := tx.ExecContext(ctx, `UPDATE deadlines
		SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at), version = version + 1
		WHERE id = ? AND status = ? AND status IN ('pending', 'in_progress')`,
		string(to), formatTime(at), completedAt, id.String(), string(from))
	if err != nil {
		logger.Error("Repository: Не удалось сменить статус", err, zap.String("deadline_id", id.String()))
		return nil, fmt.Errorf("смена статуса: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, repo.ErrConditionFailed
	}

	d, err := getDeadline(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("фиксация транзакции: %w", err)
	}
	return d, nil
}

func (s *Storage) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*deadline.Deadline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deadlineColumns+`
		FROM deadlines
		WHERE status IN ('pending', 'in_progress') AND due_at < ?
		ORDER BY due_at, id LIMIT ?`,
		formatTime(before), limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить просроченные дедлайны", err)
		return nil, fmt.Errorf("получение просроченных дедлайнов: %w", err)
	}
	return collectDeadlines(rows)
}

func (s *Storage) ListUnexpanded(ctx context.Context, afterID uuid.UUID, limit int) ([]*deadline.Deadline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deadlineColumns+`
		FROM deadlines d
		WHERE d.is_recurring = 1 AND d.status IN ('completed', 'missed') AND d.id > ?
			AND NOT EXISTS (SELECT 1 FROM deadlines s WHERE s.previous_id = d.id)
		ORDER BY d.id LIMIT ?`,
		afterID.String(), limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить серии без продолжения", err)
		return nil, fmt.Errorf("получение серий без продолжения: %w", err)
	}
	return collectDeadlines(rows)
}

func (s *Storage) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO reminders
		(id, deadline_id, lab_id, lead_days, recipient, channel, kind, due_at, fire_at, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(),
		r.DeadlineID.String(),
		r.LabID.String(),
		r.LeadDays,
		r.Recipient,
		string(r.Channel),
		string(r.Kind),
		formatTime(r.DueAt),
		formatTime(r.FireAt),
		r.Attempts,
		r.LastError,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		logger.Error("Repository: Не удалось добавить напоминание", err)
		return fmt.Errorf("добавление напоминания: %w", err)
	}
	return nil
}

func (s *Storage) ListDeadlineReminders(ctx context.Context, deadlineID uuid.UUID) ([]*reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+`
		FROM reminders WHERE deadline_id = ? ORDER BY created_at, id`, deadlineID.String())
	if err != nil {
		logger.Error("Repository: Не удалось получить напоминания", err)
		return nil, fmt.Errorf("получение напоминаний: %w", err)
	}
	return collectReminders(rows)
}

func (s *Storage) ListDueReminders(ctx context.Context, now time.Time, after reminder.Cursor, limit int) ([]*reminder.Reminder, error) {
	ts := formatTime(now)
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+`
		FROM reminders
		WHERE sent_at IS NULL AND retired_at IS NULL AND fire_at <= ?
			AND (claimed_until IS NULL OR claimed_until <= ?)
			AND (fire_at, id) > (?, ?)
		ORDER BY fire_at, id LIMIT ?`, ts, ts, formatTime(after.FireAt), after.ID.String(), limit)
	if err != nil {
		logger.Error("Repository: Не удалось получить напоминания к отправке", err)
		return nil, fmt.Errorf("получение напоминаний к отправке: %w", err)
	}
	return collectReminders(rows)
}

func (s *Storage) ClaimReminder(ctx context.Context, id, token uuid.UUID, now, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders
		SET claim_token = ?, claimed_until = ?
		WHERE id = ? AND sent_at IS NULL AND retired_at IS NULL
			AND (claimed_until IS NULL OR claimed_until <= ?)`,
		token.String(), formatTime(until), id.String(), formatTime(now))
	return affectedOne(res, err, "захват напоминания")
}

func (s *Storage) ReleaseReminder(ctx context.Context, id, token uuid.UUID, failure string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE reminders
		SET attempts = attempts + 1, last_error = ?, claim_token = NULL, claimed_until = NULL
		WHERE id = ? AND claim_token = ?`,
		failure, id.String(), token.String())
	if err := affectedOne(res, err, "освобождение напоминания"); err != nil {
		return 0, err
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM reminders WHERE id = ?`, id.String()).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("чтение попыток: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("фиксация транзакции: %w", err)
	}
	return attempts, nil
}

func (s *Storage) MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders
		SET sent_at = ?, attempts = attempts + 1, last_error = '', claim_token = NULL, claimed_until = NULL
		WHERE id = ? AND sent_at IS NULL`,
		formatTime(sentAt), id.String())
	return affectedOne(res, err, "отметка отправки")
}

func (s *Storage) RetireReminder(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders
		SET retired_at = ?
		WHERE id = ? AND sent_at IS NULL AND retired_at IS NULL`,
		formatTime(at), id.String())
	return affectedOne(res, err, "списание напоминания")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getDeadline(ctx context.Context, q querier, id uuid.UUID) (*deadline.Deadline, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = ?`, id.String())
	d, err := scanDeadline(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: Не удалось получить дедлайн", err)
		return nil, fmt.Errorf("получение дедлайна: %w", err)
	}
	return d, nil
}

func scanDeadline(row scanner) (*deadline.Deadline, error) {
	var d deadline.Deadline
	var dueAt, anchorAt, createdAt, tags string
	var updatedAt, completedAt sql.NullString
	var responsibleID, previousID, createdBy uuid.NullUUID

	err := row.Scan(
		&d.ID,
		&d.LabID,
		&d.Title,
		&d.Description,
		&d.Category,
		&dueAt,
		&anchorAt,
		&d.Priority,
		&d.Status,
		&responsibleID,
		&d.ExternalURL,
		&d.Requirements,
		&d.NotificationLeadDays,
		&d.IsRecurring,
		&d.RecurrencePattern,
		&tags,
		&previousID,
		&createdBy,
		&createdAt,
		&updatedAt,
		&completedAt,
		&d.Version,
	)
	if err != nil {
		return nil, err
	}

	if d.DueAt, err = parseTime(dueAt); err != nil {
		return nil, err
	}
	if d.AnchorAt, err = parseTime(anchorAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, err
	}
	if d.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, fmt.Errorf("разбор тегов: %w", err)
	}
	d.ResponsibleID = idPtr(responsibleID)
	d.PreviousID = idPtr(previousID)
	d.CreatedBy = idPtr(createdBy)

	return &d, nil
}

func scanReminder(row scanner) (*reminder.Reminder, error) {
	var r reminder.Reminder
	var dueAt, fireAt, createdAt string
	var sentAt, retiredAt, claimedUntil sql.NullString
	var claimToken uuid.NullUUID

	err := row.Scan(
		&r.ID,
		&r.DeadlineID,
		&r.LabID,
		&r.LeadDays,
		&r.Recipient,
		&r.Channel,
		&r.Kind,
		&dueAt,
		&fireAt,
		&sentAt,
		&retiredAt,
		&claimToken,
		&claimedUntil,
		&r.Attempts,
		&r.LastError,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if r.DueAt, err = parseTime(dueAt); err != nil {
		return nil, err
	}
	if r.FireAt, err = parseTime(fireAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, err
	}
	if r.RetiredAt, err = parseNullTime(retiredAt); err != nil {
		return nil, err
	}
	if r.ClaimedUntil, err = parseNullTime(claimedUntil); err != nil {
		return nil, err
	}
	r.ClaimToken = idPtr(claimToken)

	return &r, nil
}

func collectDeadlines(rows *sql.Rows) ([]*deadline.Deadline, error) {
	defer rows.Close()

	res := []*deadline.Deadline{}
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение дедлайнов: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func collectReminders(rows *sql.Rows) ([]*reminder.Reminder, error) {
	defer rows.Close()

	res := []*reminder.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение напоминаний: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		logger.Error("Repository: "+op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrConditionFailed
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("разбор времени %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func idPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("кодирование тегов: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
