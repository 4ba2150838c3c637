package deadline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedRecurrence = errors.New("некорректный шаблон повторения")

type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

type Recurrence struct {
	Every int
	Unit  Unit
}

var recurrenceAliases = map[string]Recurrence{
	"daily":     {Every: 1, Unit: UnitDay},
	"weekly":    {Every: 1, Unit: UnitWeek},
	"biweekly":  {Every: 2, Unit: UnitWeek},
	"monthly":   {Every: 1, Unit: UnitMonth},
	"quarterly": {Every: 3, Unit: UnitMonth},
	"yearly":    {Every: 1, Unit: UnitYear},
	"annually":  {Every: 1, Unit: UnitYear},
}

// ParseRecurrence разбирает "monthly" или "every 2 weeks"
func ParseRecurrence(pattern string) (Recurrence, error) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if r, ok := recurrenceAliases[p]; ok {
		return r, nil
	}

	fields := strings.Fields(p)
	if len(fields) == 2 && fields[0] == "every" {
		fields = []string{"every", "1", fields[1]}
	}
	if len(fields) != 3 || fields[0] != "every" {
		return Recurrence{}, fmt.Errorf("%w: %q", ErrMalformedRecurrence, pattern)
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return Recurrence{}, fmt.Errorf("%w: %q: интервал не число", ErrMalformedRecurrence, pattern)
	}
	if n <= 0 {
		return Recurrence{}, fmt.Errorf("%w: %q: интервал должен быть положительным", ErrMalformedRecurrence, pattern)
	}

	unit := Unit(strings.TrimSuffix(fields[2], "s"))
	switch unit {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
	default:
		return Recurrence{}, fmt.Errorf("%w: %q: неизвестная единица", ErrMalformedRecurrence, pattern)
	}

	return Recurrence{Every: n, Unit: unit}, nil
}

func (r Recurrence) String() string {
	if r.Every == 1 {
		return fmt.Sprintf("every %s", r.Unit)
	}
	return fmt.Sprintf("every %d %ss", r.Every, r.Unit)
}

// Advance сдвигает anchor на k интервалов; месяцы считаются от anchor,
// день обрезается до конца месяца, поэтому 31 января не уплывает в март
func (r Recurrence) Advance(anchor time.Time, k int) time.Time {
	switch r.Unit {
	case UnitDay:
		return anchor.AddDate(0, 0, k*r.Every)
	case UnitWeek:
		return anchor.AddDate(0, 0, 7*k*r.Every)
	case UnitMonth:
		return addMonthsClamped(anchor, k*r.Every)
	case UnitYear:
		return addMonthsClamped(anchor, 12*k*r.Every)
	}
	return anchor
}

// approxDays - нижняя оценка длины интервала в днях
func (r Recurrence) approxDays() float64 {
	switch r.Unit {
	case UnitDay:
		return float64(r.Every)
	case UnitWeek:
		return float64(7 * r.Every)
	case UnitMonth:
		return 28 * float64(r.Every)
	case UnitYear:
		return 365 * float64(r.Every)
	}
	return 1
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	first := time.Date(y, m+time.Month(months), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	last := daysIn(first.Year(), first.Month(), t.Location())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// NextAfter - первое вхождение серии строго позже after и позже текущего срока
func (r Recurrence) NextAfter(anchor, current, after time.Time) (time.Time, error) {
	if r.Every <= 0 {
		return time.Time{}, fmt.Errorf("%w: интервал должен быть положительным", ErrMalformedRecurrence)
	}

	bound := after
	if current.After(bound) {
		bound = current
	}

	// оценка снизу, дальше добираем шагами
	k := 1
	if bound.After(anchor) {
		days := bound.Sub(anchor).Hours() / 24
		if est := int(days/r.approxDays()) - 1; est > k {
			k = est
		}
	}
	for k > 1 && r.Advance(anchor, k-1).After(bound) {
		k--
	}

	const maxSteps = 10000
	for i := 0; i < maxSteps; i++ {
		next := r.Advance(anchor, k)
		if next.After(bound) {
			return next, nil
		}
		k++
	}
	return time.Time{}, fmt.Errorf("%w: не удалось найти следующую дату за %d шагов", ErrMalformedRecurrence, maxSteps)
}
