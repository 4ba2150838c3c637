package clock

import (
	"sync"
	"time"
)

// Clock отдаёт текущее время; в тестах подменяется на Manual
type Clock interface {
	Now() time.Time
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Manual - часы, которые двигаются только вручную
type Manual struct {
	mtx sync.RWMutex
	now time.Time
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.now
}

func (m *Manual) Set(now time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.now = now
}

func (m *Manual) Advance(d time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.now = m.now.Add(d)
}
