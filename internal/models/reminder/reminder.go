package reminder

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPush
}

type Kind string

const (
	// KindLeadTime - обычное напоминание за N дней до срока
	KindLeadTime Kind = "lead_time"
	// KindImmediate - срок напоминания уже прошёл при планировании, шлём на ближайшем проходе
	KindImmediate Kind = "immediate"
)

type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateRetired State = "retired"
)

type Reminder struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	DeadlineID   uuid.UUID  `json:"deadline_id" db:"deadline_id"`
	LabID        uuid.UUID  `json:"lab_id" db:"lab_id"`
	LeadDays     int        `json:"lead_days" db:"lead_days"`
	Recipient    string     `json:"recipient" db:"recipient"`
	Channel      Channel    `json:"channel" db:"channel"`
	Kind         Kind       `json:"kind" db:"kind"`
	DueAt        time.Time  `json:"due_at" db:"due_at"` // срок дедлайна, под который планировали
	FireAt       time.Time  `json:"fire_at" db:"fire_at"`
	SentAt       *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	RetiredAt    *time.Time `json:"retired_at,omitempty" db:"retired_at"`
	ClaimToken   *uuid.UUID `json:"-" db:"claim_token"`
	ClaimedUntil *time.Time `json:"-" db:"claimed_until"`
	Attempts     int        `json:"attempts" db:"attempts"`
	LastError    string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Key - ключ идемпотентности планирования
type Key struct {
	DeadlineID uuid.UUID
	LeadDays   int
	Recipient  string
}

func (r *Reminder) Key() Key {
	return Key{DeadlineID: r.DeadlineID, LeadDays: r.LeadDays, Recipient: r.Recipient}
}

// IsLive - ещё не отправлено и не списано
func (r *Reminder) IsLive() bool {
	return r.SentAt == nil && r.RetiredAt == nil
}

func (r *Reminder) State() State {
	switch {
	case r.SentAt != nil:
		return StateSent
	case r.RetiredAt != nil:
		return StateRetired
	default:
		return StatePending
	}
}

// Claimable - живое напоминание без действующей аренды
func (r *Reminder) Claimable(now time.Time) bool {
	if !r.IsLive() {
		return false
	}
	return r.ClaimedUntil == nil || !r.ClaimedUntil.After(now)
}

func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	c := *r
	if r.SentAt != nil {
		v := *r.SentAt
		c.SentAt = &v
	}
	if r.RetiredAt != nil {
		v := *r.RetiredAt
		c.RetiredAt = &v
	}
	if r.ClaimToken != nil {
		v := *r.ClaimToken
		c.ClaimToken = &v
	}
	if r.ClaimedUntil != nil {
		v := *r.ClaimedUntil
		c.ClaimedUntil = &v
	}
	return &c
}

// Cursor - позиция обхода созревших напоминаний в порядке (fire_at, id).
// Нулевое значение означает начало
type Cursor struct {
	FireAt time.Time
	ID     uuid.UUID
}

func (r *Reminder) Cursor() Cursor {
	return Cursor{FireAt: r.FireAt, ID: r.ID}
}

// Less - порядок (fire_at, id), в котором хранилища отдают созревшие напоминания
func (c Cursor) Less(other Cursor) bool {
	if !c.FireAt.Equal(other.FireAt) {
		return c.FireAt.Before(other.FireAt)
	}
	return bytes.Compare(c.ID[:], other.ID[:]) < 0
}
