package deadline_test

import (
	"testing"
	"time"

	"deadlineTracker/internal/models/deadline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func TestParseRecurrence(t *testing.T) {
	tests := []struct {
		pattern   string
		expected  deadline.Recurrence
		expectErr bool
	}{
		{pattern: "daily", expected: deadline.Recurrence{Every: 1, Unit: deadline.UnitDay}},
		{pattern: "Weekly", expected: deadline.Recurrence{Every: 1, Unit: deadline.UnitWeek}},
		{pattern: "biweekly", expected: deadline.Recurrence{Every: 2, Unit: deadline.UnitWeek}},
		{pattern: "monthly", expected: deadline.Recurrence{Every: 1, Unit: deadline.UnitMonth}},
		{pattern: "quarterly", expected: deadline.Recurrence{Every: 3, Unit: deadline.UnitMonth}},
		{pattern: "yearly", expected: deadline.Recurrence{Every: 1, Unit: deadline.UnitYear}},
		{pattern: "every 3 days", expected: deadline.Recurrence{Every: 3, Unit: deadline.UnitDay}},
		{pattern: " every 2 weeks ", expected: deadline.Recurrence{Every: 2, Unit: deadline.UnitWeek}},
		{pattern: "every month", expected: deadline.Recurrence{Every: 1, Unit: deadline.UnitMonth}},
		{pattern: "every 1 year", expected: deadline.Recurrence{Every: 1, Unit: deadline.UnitYear}},
		{pattern: "", expectErr: true},
		{pattern: "sometimes", expectErr: true},
		{pattern: "every 0 days", expectErr: true},
		{pattern: "every -2 weeks", expectErr: true},
		{pattern: "every two weeks", expectErr: true},
		{pattern: "every 2 fortnights", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			r, err := deadline.ParseRecurrence(tt.pattern)
			if tt.expectErr {
				assert.ErrorIs(t, err, deadline.ErrMalformedRecurrence)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, r)
		})
	}
}

func TestRecurrence_AdvanceClampsMonthEnd(t *testing.T) {
	monthly := deadline.Recurrence{Every: 1, Unit: deadline.UnitMonth}
	anchor := date(2024, time.January, 31)

	assert.Equal(t, date(2024, time.February, 29), monthly.Advance(anchor, 1))
	assert.Equal(t, date(2024, time.March, 31), monthly.Advance(anchor, 2))
	assert.Equal(t, date(2024, time.April, 30), monthly.Advance(anchor, 3))

	yearly := deadline.Recurrence{Every: 1, Unit: deadline.UnitYear}
	assert.Equal(t, date(2025, time.February, 28), yearly.Advance(date(2024, time.February, 29), 1))
}

func TestRecurrence_NextAfter(t *testing.T) {
	tests := []struct {
		name     string
		r        deadline.Recurrence
		anchor   time.Time
		current  time.Time
		now      time.Time
		expected time.Time
	}{
		{
			name:     "monthly skips missed cycles",
			r:        deadline.Recurrence{Every: 1, Unit: deadline.UnitMonth},
			anchor:   date(2024, time.January, 15),
			current:  date(2024, time.January, 15),
			now:      time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
			expected: date(2024, time.April, 15),
		},
		{
			name:     "completed early moves one interval past current due",
			r:        deadline.Recurrence{Every: 1, Unit: deadline.UnitMonth},
			anchor:   date(2024, time.May, 15),
			current:  date(2024, time.May, 15),
			now:      time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
			expected: date(2024, time.June, 15),
		},
		{
			name:     "weekly long gap",
			r:        deadline.Recurrence{Every: 1, Unit: deadline.UnitWeek},
			anchor:   date(2024, time.January, 1),
			current:  date(2024, time.January, 1),
			now:      time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC),
			expected: date(2024, time.March, 11),
		},
		{
			name:     "series keeps month end anchor",
			r:        deadline.Recurrence{Every: 1, Unit: deadline.UnitMonth},
			anchor:   date(2024, time.January, 31),
			current:  date(2024, time.February, 29),
			now:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			expected: date(2024, time.March, 31),
		},
		{
			name:     "many years of daily",
			r:        deadline.Recurrence{Every: 1, Unit: deadline.UnitDay},
			anchor:   date(2000, time.January, 1),
			current:  date(2000, time.January, 1),
			now:      time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC),
			expected: date(2024, time.June, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tt.r.NextAfter(tt.anchor, tt.current, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestRecurrence_NextAfterRejectsNonPositive(t *testing.T) {
	r := deadline.Recurrence{Every: 0, Unit: deadline.UnitDay}
	_, err := r.NextAfter(date(2024, time.January, 1), date(2024, time.January, 1), date(2024, time.February, 1))
	assert.ErrorIs(t, err, deadline.ErrMalformedRecurrence)
}
