package inmemory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	repo "deadlineTracker/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ repo.Store = (*Storage)(nil)

// Storage хранит копии записей, наружу тоже отдаются копии
type Storage struct {
	deadlines   map[uuid.UUID]*deadline.Deadline
	ids         []uuid.UUID
	successors  map[uuid.UUID]uuid.UUID
	reminders   map[uuid.UUID]*reminder.Reminder
	reminderIDs []uuid.UUID
	mtx         *sync.RWMutex
}

func New() *Storage {
	return &Storage{
		deadlines:   make(map[uuid.UUID]*deadline.Deadline),
		ids:         []uuid.UUID{},
		successors:  make(map[uuid.UUID]uuid.UUID),
		reminders:   make(map[uuid.UUID]*reminder.Reminder),
		reminderIDs: []uuid.UUID{},
		mtx:         &sync.RWMutex{},
	}
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	logger.Debug("Repository: Соединение стабильно")
	return nil
}

func (s *Storage) CreateDeadline(ctx context.Context, d *deadline.Deadline) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.deadlines[d.ID]; ok {
		return repo.ErrDuplicate
	}
	if d.PreviousID != nil {
		if _, ok := s.successors[*d.PreviousID]; ok {
			return repo.ErrDuplicate
		}
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.Version = 1

	s.deadlines[d.ID] = d.Clone()
	s.ids = append(s.ids, d.ID)
	if d.PreviousID != nil {
		s.successors[*d.PreviousID] = d.ID
	}
	return nil
}

func (s *Storage) GetDeadline(ctx context.Context, id uuid.UUID) (*deadline.Deadline, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	d, ok := s.deadlines[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Storage) ListLabDeadlines(ctx context.Context, labID uuid.UUID, page, limit int) ([]*deadline.Deadline, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	all := []*deadline.Deadline{}
	for _, id := range s.ids {
		if d := s.deadlines[id]; d.LabID == labID {
			all = append(all, d)
		}
	}
	sortByDue(all)

	return paginate(all, page, limit), nil
}

func (s *Storage) UpdateDeadline(ctx context.Context, d *deadline.Deadline) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	existing, ok := s.deadlines[d.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if existing.Version != d.Version {
		logger.Warn("Repository: Конфликт версий при обновлении дедлайна",
			zap.String("deadline_id", d.ID.String()),
			zap.Int("expected_version", d.Version))
		return repo.ErrVersionConflict
	}

	now := time.Now()
	updated := d.Clone()
	// статус и история меняются только через TransitionStatus
	updated.Status = existing.Status
	updated.CompletedAt = existing.CompletedAt
	updated.PreviousID = existing.PreviousID
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.UpdatedAt = &now
	updated.Version = existing.Version + 1

	s.deadlines[d.ID] = updated
	d.UpdatedAt = &now
	d.Version = updated.Version
	d.Status = updated.Status
	return nil
}

func (s *Storage) TransitionStatus(ctx context.Context, id uuid.UUID, from, to deadline.Status, at time.Time) (*deadline.Deadline, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	existing, ok := s.deadlines[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if existing.Status != from || existing.Status.IsTerminal() {
		return nil, repo.ErrConditionFailed
	}

	existing.Status = to
	existing.UpdatedAt = &at
	if to == deadline.StatusCompleted {
		completed := at
		existing.CompletedAt = &completed
	}
	existing.Version++
	return existing.Clone(), nil
}

func (s *Storage) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*deadline.Deadline, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*deadline.Deadline{}
	for _, id := range s.ids {
		d := s.deadlines[id]
		if d.Status.IsTerminal() || !d.DueAt.Before(before) {
			continue
		}
		res = append(res, d)
	}
	sortByDue(res)

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return cloneAll(res), nil
}

func (s *Storage) ListUnexpanded(ctx context.Context, afterID uuid.UUID, limit int) ([]*deadline.Deadline, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*deadline.Deadline{}
	for _, id := range s.ids {
		d := s.deadlines[id]
		if !d.IsRecurring || bytes.Compare(id[:], afterID[:]) <= 0 {
			continue
		}
		if d.Status != deadline.StatusCompleted && d.Status != deadline.StatusMissed {
			continue
		}
		if _, ok := s.successors[id]; ok {
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return bytes.Compare(res[i].ID[:], res[j].ID[:]) < 0 })

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return cloneAll(res), nil
}

func (s *Storage) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.reminders[r.ID]; ok {
		return repo.ErrDuplicate
	}
	for _, id := range s.reminderIDs {
		if existing := s.reminders[id]; existing.IsLive() && existing.Key() == r.Key() {
			return repo.ErrDuplicate
		}
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.reminders[r.ID] = r.Clone()
	s.reminderIDs = append(s.reminderIDs, r.ID)
	return nil
}

func (s *Storage) ListDeadlineReminders(ctx context.Context, deadlineID uuid.UUID) ([]*reminder.Reminder, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*reminder.Reminder{}
	for _, id := range s.reminderIDs {
		if r := s.reminders[id]; r.DeadlineID == deadlineID {
			res = append(res, r.Clone())
		}
	}
	return res, nil
}

func (s *Storage) ListDueReminders(ctx context.Context, now time.Time, after reminder.Cursor, limit int) ([]*reminder.Reminder, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*reminder.Reminder{}
	for _, id := range s.reminderIDs {
		r := s.reminders[id]
		if r.FireAt.After(now) || !r.Claimable(now) || !after.Less(r.Cursor()) {
			continue
		}
		res = append(res, r.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Cursor().Less(res[j].Cursor()) })

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Storage) ClaimReminder(ctx context.Context, id, token uuid.UUID, now, until time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !r.Claimable(now) {
		return repo.ErrConditionFailed
	}

	r.ClaimToken = &token
	r.ClaimedUntil = &until
	return nil
}

func (s *Storage) ReleaseReminder(ctx context.Context, id, token uuid.UUID, failure string) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return 0, repo.ErrNotFound
	}
	if r.ClaimToken == nil || *r.ClaimToken != token {
		return r.Attempts, repo.ErrConditionFailed
	}

	r.Attempts++
	r.LastError = failure
	r.ClaimToken = nil
	r.ClaimedUntil = nil
	return r.Attempts, nil
}

func (s *Storage) MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return repo.ErrNotFound
	}
	if r.SentAt != nil {
		return repo.ErrConditionFailed
	}

	r.SentAt = &sentAt
	r.Attempts++
	r.LastError = ""
	r.ClaimToken = nil
	r.ClaimedUntil = nil
	return nil
}

func (s *Storage) RetireReminder(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !r.IsLive() {
		return repo.ErrConditionFailed
	}

	r.RetiredAt = &at
	return nil
}

func sortByDue(list []*deadline.Deadline) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].DueAt.Before(list[j].DueAt) })
}

func paginate(all []*deadline.Deadline, page, limit int) []*deadline.Deadline {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	res := []*deadline.Deadline{}
	for i := offset; i < len(all); i++ {
		if limit > 0 && len(res) >= limit {
			break
		}
		res = append(res, all[i].Clone())
	}
	return res
}

func cloneAll(list []*deadline.Deadline) []*deadline.Deadline {
	res := make([]*deadline.Deadline, 0, len(list))
	for _, d := range list {
		res = append(res, d.Clone())
	}
	return res
}
