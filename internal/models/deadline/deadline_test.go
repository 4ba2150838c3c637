package deadline_test

import (
	"testing"
	"time"

	"deadlineTracker/internal/models/deadline"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	labID := uuid.New()
	due := time.Date(2024, time.March, 1, 23, 59, 59, 0, time.UTC)

	d := deadline.New(labID, "NIH R01", due)

	assert.NotEqual(t, uuid.Nil, d.ID)
	assert.Equal(t, deadline.StatusPending, d.Status)
	assert.Equal(t, deadline.PriorityMedium, d.Priority)
	assert.Equal(t, deadline.CategoryOther, d.Category)
	assert.Equal(t, deadline.DefaultLeadDays, d.NotificationLeadDays)
	assert.Equal(t, due, d.AnchorAt)
	assert.NoError(t, d.Validate())
}

func TestNew_NilOptionsSkipped(t *testing.T) {
	d := deadline.New(uuid.New(), "Abstract", time.Now(),
		deadline.WithCategory(""),
		deadline.WithPriority(deadline.PriorityHigh),
		deadline.WithRecurrence("monthly"),
	)

	assert.Equal(t, deadline.CategoryOther, d.Category)
	assert.Equal(t, deadline.PriorityHigh, d.Priority)
	assert.True(t, d.IsRecurring)
	assert.Equal(t, "monthly", d.RecurrencePattern)
}

func TestDeadline_Validate(t *testing.T) {
	valid := func() *deadline.Deadline {
		return deadline.New(uuid.New(), "IRB renewal", time.Now().Add(72*time.Hour))
	}

	tests := []struct {
		name   string
		mutate func(*deadline.Deadline)
	}{
		{"empty title", func(d *deadline.Deadline) { d.Title = "  " }},
		{"no lab", func(d *deadline.Deadline) { d.LabID = uuid.Nil }},
		{"no due date", func(d *deadline.Deadline) { d.DueAt = time.Time{} }},
		{"negative lead time", func(d *deadline.Deadline) { d.NotificationLeadDays = -1 }},
		{"unknown category", func(d *deadline.Deadline) { d.Category = "party" }},
		{"unknown priority", func(d *deadline.Deadline) { d.Priority = "whenever" }},
		{"recurring without pattern", func(d *deadline.Deadline) { d.IsRecurring = true; d.RecurrencePattern = "" }},
		{"recurring with bad pattern", func(d *deadline.Deadline) { d.IsRecurring = true; d.RecurrencePattern = "every 0 days" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDeadline_CloneIsDeep(t *testing.T) {
	responsible := uuid.New()
	d := deadline.New(uuid.New(), "Poster", time.Now(),
		deadline.WithResponsible(&responsible),
		deadline.WithTags([]string{"conf"}),
	)

	c := d.Clone()
	*c.ResponsibleID = uuid.New()
	c.Tags[0] = "changed"

	assert.Equal(t, responsible, *d.ResponsibleID)
	assert.Equal(t, "conf", d.Tags[0])
}
