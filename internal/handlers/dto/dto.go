package dto

import (
	"fmt"
	"strings"
	"time"

	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/urgency"

	"github.com/google/uuid"
)

const dateOnly = "2006-01-02"

type CreateDeadlineRequest struct {
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Category             string     `json:"category"`
	Priority             string     `json:"priority"`
	DueDate              string     `json:"due_date"`
	ResponsibleID        *uuid.UUID `json:"responsible_id,omitempty"`
	ExternalURL          string     `json:"external_url"`
	Requirements         string     `json:"requirements"`
	NotificationLeadDays *int       `json:"notification_lead_days,omitempty"`
	RecurrencePattern    string     `json:"recurrence_pattern"`
	Tags                 []string   `json:"tags"`
}

// UpdateDeadlineRequest: отсутствующее поле не меняется,
// пустая строка в responsible_id снимает ответственного
type UpdateDeadlineRequest struct {
	Title                *string   `json:"title,omitempty"`
	Description          *string   `json:"description,omitempty"`
	Category             *string   `json:"category,omitempty"`
	Priority             *string   `json:"priority,omitempty"`
	DueDate              *string   `json:"due_date,omitempty"`
	ResponsibleID        *string   `json:"responsible_id,omitempty"`
	ExternalURL          *string   `json:"external_url,omitempty"`
	Requirements         *string   `json:"requirements,omitempty"`
	NotificationLeadDays *int      `json:"notification_lead_days,omitempty"`
	RecurrencePattern    *string   `json:"recurrence_pattern,omitempty"`
	Tags                 *[]string `json:"tags,omitempty"`
	Version              *int      `json:"version,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type DeadlineResponse struct {
	ID                   uuid.UUID  `json:"id"`
	LabID                uuid.UUID  `json:"lab_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Category             string     `json:"category"`
	Priority             string     `json:"priority"`
	Status               string     `json:"status"`
	Urgency              string     `json:"urgency"`
	DueAt                time.Time  `json:"due_at"`
	ResponsibleID        *uuid.UUID `json:"responsible_id,omitempty"`
	ExternalURL          string     `json:"external_url,omitempty"`
	Requirements         string     `json:"requirements,omitempty"`
	NotificationLeadDays int        `json:"notification_lead_days"`
	IsRecurring          bool       `json:"is_recurring"`
	RecurrencePattern    string     `json:"recurrence_pattern,omitempty"`
	Tags                 []string   `json:"tags"`
	PreviousID           *uuid.UUID `json:"previous_id,omitempty"`
	CreatedBy            *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	Version              int        `json:"version"`
}

type ReminderResponse struct {
	ID        uuid.UUID  `json:"id"`
	LeadDays  int        `json:"lead_days"`
	Recipient string     `json:"recipient"`
	Channel   string     `json:"channel"`
	Kind      string     `json:"kind"`
	State     string     `json:"state"`
	DueAt     time.Time  `json:"due_at"`
	FireAt    time.Time  `json:"fire_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
}

// ParseDueDate принимает RFC3339 или дату без времени.
// Дата без времени означает конец этого дня в часовом поясе лаборатории
func ParseDueDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("срок не задан")
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	day, err := time.ParseInLocation(dateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("ожидается RFC3339 или %s: %q", dateOnly, value)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, loc), nil
}

func FromDeadline(d *deadline.Deadline, tier urgency.Tier) DeadlineResponse {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return DeadlineResponse{
		ID:                   d.ID,
		LabID:                d.LabID,
		Title:                d.Title,
		Description:          d.Description,
		Category:             string(d.Category),
		Priority:             string(d.Priority),
		Status:               string(d.Status),
		Urgency:              string(tier),
		DueAt:                d.DueAt,
		ResponsibleID:        d.ResponsibleID,
		ExternalURL:          d.ExternalURL,
		Requirements:         d.Requirements,
		NotificationLeadDays: d.NotificationLeadDays,
		IsRecurring:          d.IsRecurring,
		RecurrencePattern:    d.RecurrencePattern,
		Tags:                 tags,
		PreviousID:           d.PreviousID,
		CreatedBy:            d.CreatedBy,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		CompletedAt:          d.CompletedAt,
		Version:              d.Version,
	}
}

func FromReminder(r *reminder.Reminder) ReminderResponse {
	return ReminderResponse{
		ID:        r.ID,
		LeadDays:  r.LeadDays,
		Recipient: r.Recipient,
		Channel:   string(r.Channel),
		Kind:      string(r.Kind),
		State:     string(r.State()),
		DueAt:     r.DueAt,
		FireAt:    r.FireAt,
		SentAt:    r.SentAt,
		RetiredAt: r.RetiredAt,
		Attempts:  r.Attempts,
		LastError: r.LastError,
	}
}

func FromReminderList(list []*reminder.Reminder) []ReminderResponse {
	result := make([]ReminderResponse, len(list))
	for i, r := range list {
		result[i] = FromReminder(r)
	}
	return result
}
