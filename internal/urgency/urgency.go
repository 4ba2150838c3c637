package urgency

import (
	"fmt"
	"time"

	"deadlineTracker/internal/models/deadline"
)

type Tier string

const (
	TierOverdue     Tier = "overdue"
	TierDueToday    Tier = "due_today"
	TierDueThisWeek Tier = "due_this_week"
	TierDueSoon     Tier = "due_soon"
	TierUpcoming    Tier = "upcoming"
	TierResolved    Tier = "resolved"
)

var tierRank = map[Tier]int{
	TierOverdue:     0,
	TierDueToday:    1,
	TierDueThisWeek: 2,
	TierDueSoon:     3,
	TierUpcoming:    4,
	TierResolved:    5,
}

// Rank - порядок по срочности, меньше значит срочнее
func (t Tier) Rank() int {
	r, ok := tierRank[t]
	if !ok {
		return len(tierRank)
	}
	return r
}

type Thresholds struct {
	DueThisWeekDays int `mapstructure:"due_this_week_days" json:"due_this_week_days"`
	DueSoonDays     int `mapstructure:"due_soon_days" json:"due_soon_days"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{DueThisWeekDays: 3, DueSoonDays: 7}
}

func (t Thresholds) Validate() error {
	if t.DueThisWeekDays < 1 {
		return fmt.Errorf("due_this_week_days должен быть >= 1, получено %d", t.DueThisWeekDays)
	}
	if t.DueSoonDays < t.DueThisWeekDays {
		return fmt.Errorf("due_soon_days (%d) меньше due_this_week_days (%d)", t.DueSoonDays, t.DueThisWeekDays)
	}
	return nil
}

type Classifier struct {
	thresholds Thresholds
	location   *time.Location
}

// NewClassifier: календарные дни считаются в часовом поясе loc, nil означает UTC
func NewClassifier(thresholds Thresholds, loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{thresholds: thresholds, location: loc}
}

func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

func (c *Classifier) Location() *time.Location {
	return c.location
}

func (c *Classifier) Classify(due time.Time, status deadline.Status, now time.Time) Tier {
	if status.Resolved() {
		return TierResolved
	}

	days := DaysUntil(due, now, c.location)
	switch {
	case days < 0:
		return TierOverdue
	case days == 0:
		return TierDueToday
	case days <= c.thresholds.DueThisWeekDays:
		return TierDueThisWeek
	case days <= c.thresholds.DueSoonDays:
		return TierDueSoon
	default:
		return TierUpcoming
	}
}

// Classify с порогами и часовым поясом по умолчанию
func Classify(due time.Time, status deadline.Status, now time.Time) Tier {
	return NewClassifier(DefaultThresholds(), time.UTC).Classify(due, status, now)
}

// DaysUntil - разница календарных дней между now и due.
// Срок, прошедший сегодня же, даёт -1: просрочка совпадает с due < now
func DaysUntil(due, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	days := civilDay(due.In(loc)).Sub(civilDay(now.In(loc))).Hours() / 24
	d := int(days)
	if due.Before(now) && d >= 0 {
		return -1
	}
	return d
}

func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
