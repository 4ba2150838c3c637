package service

import (
	"errors"
	"fmt"

	"deadlineTracker/internal/models/deadline"
)

const (
	CodeNotFound          = "NOT_FOUND"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeVersionConflict   = "VERSION_CONFLICT"
	CodeDueDateLocked     = "DUE_DATE_LOCKED"
)

type BusinessError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

type Detail struct {
	Key     string
	Payload any
}

func (b *BusinessError) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", b.Code, b.Message, b.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", b.Code, b.Message)
}

func (b *BusinessError) Unwrap() error {
	return b.Err
}

func ToDetail(key string, payload any) Detail {
	return Detail{
		Key:     key,
		Payload: payload,
	}
}

func NewBusinessError(code string, message string, details ...Detail) *BusinessError {
	busErr := &BusinessError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}

	for _, detail := range details {
		busErr.Details[detail.Key] = detail.Payload
	}

	return busErr
}

// AsBusinessError достаёт BusinessError из цепочки
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func NewNotFound(resource string, id string) *BusinessError {
	return &BusinessError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s не найден(а)", resource, id),
		Details: map[string]any{
			"resource": resource,
			"id":       id,
		},
	}
}

func NewValidationError(field, reason string) *BusinessError {
	return &BusinessError{
		Code:    CodeValidation,
		Message: fmt.Sprintf("Неверное значение поля '%s': %s", field, reason),
		Details: map[string]any{
			"field":  field,
			"reason": reason,
		},
	}
}

func newInvalidDeadline(err error) *BusinessError {
	return &BusinessError{
		Code:    CodeValidation,
		Message: "Некорректные данные дедлайна",
		Details: map[string]any{"reason": err.Error()},
		Err:     err,
	}
}

func NewInvalidTransition(te *deadline.TransitionError) *BusinessError {
	return &BusinessError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("Нельзя перевести дедлайн из %s в %s", te.From, te.To),
		Details: map[string]any{
			"from":   string(te.From),
			"to":     string(te.To),
			"reason": te.Reason,
		},
		Err: te,
	}
}

func NewVersionConflict(id string, expected int) *BusinessError {
	return &BusinessError{
		Code:    CodeVersionConflict,
		Message: "Дедлайн был изменён другим пользователем",
		Details: map[string]any{
			"id":               id,
			"expected_version": expected,
		},
	}
}

func NewDueDateLocked(id string) *BusinessError {
	return &BusinessError{
		Code:    CodeDueDateLocked,
		Message: "Срок выполненного дедлайна менять нельзя",
		Details: map[string]any{"id": id},
	}
}
