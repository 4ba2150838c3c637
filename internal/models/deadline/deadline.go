package deadline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultLeadDays = 7

type Category string

const (
	CategoryGrant              Category = "grant_deadline"
	CategoryPaperSubmission    Category = "paper_submission"
	CategoryConferenceAbstract Category = "conference_abstract"
	CategoryIRBSubmission      Category = "irb_submission"
	CategoryEthicsReview       Category = "ethics_review"
	CategoryDataCollection     Category = "data_collection"
	CategoryAnalysisCompletion Category = "analysis_completion"
	CategoryMilestone          Category = "milestone"
	CategoryPresentation       Category = "presentation"
	CategoryMeeting            Category = "meeting"
	CategoryOther              Category = "other"
)

var categories = map[Category]bool{
	CategoryGrant:              true,
	CategoryPaperSubmission:    true,
	CategoryConferenceAbstract: true,
	CategoryIRBSubmission:      true,
	CategoryEthicsReview:       true,
	CategoryDataCollection:     true,
	CategoryAnalysisCompletion: true,
	CategoryMilestone:          true,
	CategoryPresentation:       true,
	CategoryMeeting:            true,
	CategoryOther:              true,
}

func (c Category) Valid() bool {
	return categories[c]
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Deadline struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	LabID                uuid.UUID  `json:"lab_id" db:"lab_id"`
	Title                string     `json:"title" db:"title"`
	Description          string     `json:"description" db:"description"`
	Category             Category   `json:"category" db:"category"`
	DueAt                time.Time  `json:"due_at" db:"due_at"`
	AnchorAt             time.Time  `json:"anchor_at" db:"anchor_at"` // первая дата серии, от неё считаются повторы
	Priority             Priority   `json:"priority" db:"priority"`
	Status               Status     `json:"status" db:"status"`
	ResponsibleID        *uuid.UUID `json:"responsible_id,omitempty" db:"responsible_id"`
	ExternalURL          string     `json:"external_url,omitempty" db:"external_url"`
	Requirements         string     `json:"requirements,omitempty" db:"requirements"`
	NotificationLeadDays int        `json:"notification_lead_days" db:"notification_lead_days"`
	IsRecurring          bool       `json:"is_recurring" db:"is_recurring"`
	RecurrencePattern    string     `json:"recurrence_pattern,omitempty" db:"recurrence_pattern"`
	Tags                 []string   `json:"tags,omitempty" db:"tags"`
	PreviousID           *uuid.UUID `json:"previous_id,omitempty" db:"previous_id"`
	CreatedBy            *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty" db:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Version              int        `json:"version" db:"version"`
}

// New собирает черновик дедлайна со значениями по умолчанию
func New(labID uuid.UUID, title string, dueAt time.Time, opts ...Option) *Deadline {
	d := &Deadline{
		ID:                   uuid.New(),
		LabID:                labID,
		Title:                title,
		Category:             CategoryOther,
		DueAt:                dueAt,
		Priority:             PriorityMedium,
		Status:               StatusPending,
		NotificationLeadDays: DefaultLeadDays,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	if d.AnchorAt.IsZero() {
		d.AnchorAt = d.DueAt
	}
	return d
}

func (d *Deadline) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// Anchor - точка отсчёта для повторов
func (d *Deadline) Anchor() time.Time {
	if d.AnchorAt.IsZero() {
		return d.DueAt
	}
	return d.AnchorAt
}

func (d *Deadline) Validate() error {
	var errs []error

	if d.LabID == uuid.Nil {
		errs = append(errs, fmt.Errorf("lab_id: не задан"))
	}
	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, fmt.Errorf("title: не может быть пустым"))
	}
	if d.DueAt.IsZero() {
		errs = append(errs, fmt.Errorf("due_at: не задан"))
	}
	if !d.Category.Valid() {
		errs = append(errs, fmt.Errorf("category: неизвестное значение %q", d.Category))
	}
	if !d.Priority.Valid() {
		errs = append(errs, fmt.Errorf("priority: неизвестное значение %q", d.Priority))
	}
	if !d.Status.Valid() {
		errs = append(errs, fmt.Errorf("status: неизвестное значение %q", d.Status))
	}
	if d.NotificationLeadDays < 0 {
		errs = append(errs, fmt.Errorf("notification_lead_days: не может быть отрицательным"))
	}
	if d.IsRecurring {
		if d.RecurrencePattern == "" {
			errs = append(errs, fmt.Errorf("recurrence_pattern: обязателен для повторяющегося дедлайна"))
		} else if _, err := ParseRecurrence(d.RecurrencePattern); err != nil {
			errs = append(errs, fmt.Errorf("recurrence_pattern: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Clone возвращает глубокую копию, хранилища отдают наружу только копии
func (d *Deadline) Clone() *Deadline {
	if d == nil {
		return nil
	}
	c := *d
	c.ResponsibleID = cloneID(d.ResponsibleID)
	c.PreviousID = cloneID(d.PreviousID)
	c.CreatedBy = cloneID(d.CreatedBy)
	c.UpdatedAt = cloneTime(d.UpdatedAt)
	c.CompletedAt = cloneTime(d.CompletedAt)
	if d.Tags != nil {
		c.Tags = append([]string(nil), d.Tags...)
	}
	return &c
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
