// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/repository"
)

var (
	// ErrNotFound — набор, файл или байты файла не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrUnauthenticated — изменяющая операция без пользователя.
	ErrUnauthenticated = errors.New("требуется аутентификация")
	// ErrForbidden — не владелец и не администратор.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrConflict — набор изменён параллельным запросом.
	ErrConflict = errors.New("конфликт: набор изменён параллельно")
	// ErrUnsupportedOperation — предпросмотр доступен только для CSV.
	ErrUnsupportedOperation = errors.New("операция не поддерживается для этого типа файла")
	// ErrReconcileInProgress — сверка уже выполняется.
	ErrReconcileInProgress = errors.New("сверка уже выполняется")
)

// ValidationError — ошибка валидации со списком всех невалидных полей.
type ValidationError struct {
	Fields []validation.FieldError
}

func (e *ValidationError) Error() string {
	return validation.ValidationErrors(e.Fields).Error()
}

// StorageError — сбой диска или хранилища наборов.
// Op описывает операцию, Err — исходную причину (только для логов).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ошибка хранилища (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// newValidationError приводит ошибки валидатора к *ValidationError.
func newValidationError(err error) error {
	var ve validation.ValidationErrors
	if errors.As(err, &ve) {
		return &ValidationError{Fields: ve}
	}
	var rej *validation.UploadRejection
	if errors.As(err, &rej) {
		return &ValidationError{Fields: []validation.FieldError{rej.FieldError()}}
	}
	return &ValidationError{Fields: []validation.FieldError{{Message: err.Error()}}}
}

// mapRepoErr переводит ошибки репозитория в ошибки сервиса.
func mapRepoErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict
	default:
		return &StorageError{Op: op, Err: err}
	}
}
