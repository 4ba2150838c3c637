package deadline

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusMissed     Status = "missed"
	StatusCancelled  Status = "cancelled"
)

var ErrInvalidTransition = errors.New("недопустимый переход статуса")

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusMissed:    true,
	StatusCancelled: true,
}

// переходы, которые может запросить пользователь
var validUserTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
		StatusCompleted:  true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// Resolved - дедлайн закрыт и срочность для него не считается
func (s Status) Resolved() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %q → %q: %s", ErrInvalidTransition, e.From, e.To, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func ValidateUserTransition(from, to Status) error {
	if !to.Valid() {
		return &TransitionError{From: from, To: to, Reason: "неизвестный статус"}
	}
	if from.IsTerminal() {
		return &TransitionError{From: from, To: to, Reason: "статус уже финальный"}
	}
	allowed, ok := validUserTransitions[from]
	if !ok {
		return &TransitionError{From: from, To: to, Reason: "неизвестный исходный статус"}
	}
	if !allowed[to] {
		return &TransitionError{From: from, To: to, Reason: "переход не разрешён"}
	}
	return nil
}

// ValidateSweepTransition - единственный автоматический переход: в missed
func ValidateSweepTransition(from, to Status) error {
	if to != StatusMissed {
		return &TransitionError{From: from, To: to, Reason: "автоматически допускается только missed"}
	}
	if from != StatusPending && from != StatusInProgress {
		return &TransitionError{From: from, To: to, Reason: "статус уже финальный"}
	}
	return nil
}
