package service

import (
	"time"

	"deadlineTracker/internal/models/deadline"

	"github.com/google/uuid"
)

// Patch - частичное изменение дедлайна, nil означает "не менять"
type Patch struct {
	Title            *string
	Description      *string
	Category         *deadline.Category
	Priority         *deadline.Priority
	DueAt            *time.Time
	ResponsibleID    *uuid.UUID
	ClearResponsible bool
	ExternalURL      *string
	Requirements     *string
	LeadDays         *int
	// пустая строка снимает повторение
	Recurrence *string
	Tags       *[]string
	// ожидаемая версия, если клиент её прислал
	Version *int
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Priority == nil &&
		p.DueAt == nil && p.ResponsibleID == nil && !p.ClearResponsible && p.ExternalURL == nil &&
		p.Requirements == nil && p.LeadDays == nil && p.Recurrence == nil && p.Tags == nil
}

func (p Patch) Options() []deadline.Option {
	var opts []deadline.Option

	if p.Title != nil {
		opts = append(opts, deadline.WithTitle(*p.Title))
	}
	if p.Description != nil {
		opts = append(opts, deadline.WithDescription(*p.Description))
	}
	if p.Category != nil {
		opts = append(opts, deadline.WithCategory(*p.Category))
	}
	if p.Priority != nil {
		opts = append(opts, deadline.WithPriority(*p.Priority))
	}
	if p.DueAt != nil {
		opts = append(opts, deadline.WithDueAt(*p.DueAt))
	}
	if p.ClearResponsible {
		opts = append(opts, deadline.WithResponsible(nil))
	} else if p.ResponsibleID != nil {
		opts = append(opts, deadline.WithResponsible(p.ResponsibleID))
	}
	if p.ExternalURL != nil {
		opts = append(opts, deadline.WithExternalURL(*p.ExternalURL))
	}
	if p.Requirements != nil {
		opts = append(opts, deadline.WithRequirements(*p.Requirements))
	}
	if p.LeadDays != nil {
		opts = append(opts, deadline.WithLeadDays(*p.LeadDays))
	}
	if p.Recurrence != nil {
		opts = append(opts, deadline.WithRecurrence(*p.Recurrence))
	}
	if p.Tags != nil {
		opts = append(opts, deadline.WithTags(*p.Tags))
	}

	return opts
}
