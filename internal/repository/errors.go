package repository

import "errors"

var (
	ErrNotFound        = errors.New("запись не найдена")
	ErrVersionConflict = errors.New("конфликт версий")
	// ErrConditionFailed - условная запись проиграла гонку другому писателю
	ErrConditionFailed = errors.New("условие записи не выполнено")
	ErrDuplicate       = errors.New("запись уже существует")
)
