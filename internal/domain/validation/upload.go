package validation

import (
	"fmt"

	"github.com/bigkaa/dataportal/internal/domain/model"
)

// DefaultMaxFileSize — максимальный размер загружаемого файла (50 MiB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// DefaultMaxFilesPerUpload — максимальное количество файлов в одном запросе.
const DefaultMaxFilesPerUpload = 10

// RejectReason — причина отклонения загрузки.
type RejectReason string

const (
	ReasonUnsupportedType RejectReason = "unsupported_type"
	ReasonTooLarge        RejectReason = "too_large"
	ReasonEmpty           RejectReason = "empty"
	ReasonTooManyFiles    RejectReason = "too_many_files"
)

// UploadRejection — файл не прошёл проверку до записи на диск.
type UploadRejection struct {
	FileName string
	Reason   RejectReason
	// Detail — расширение для UnsupportedType, лимит для TooLarge
	Detail string
}

func (r *UploadRejection) Error() string {
	switch r.Reason {
	case ReasonUnsupportedType:
		return fmt.Sprintf("файл %q: недопустимый тип %q", r.FileName, r.Detail)
	case ReasonTooLarge:
		return fmt.Sprintf("файл %q: превышен максимальный размер %s байт", r.FileName, r.Detail)
	case ReasonEmpty:
		return fmt.Sprintf("файл %q: пустой файл", r.FileName)
	case ReasonTooManyFiles:
		return fmt.Sprintf("слишком много файлов, максимум %s", r.Detail)
	default:
		return fmt.Sprintf("файл %q отклонён", r.FileName)
	}
}

// FieldError представляет отклонение как ошибку поля "files".
func (r *UploadRejection) FieldError() FieldError {
	return FieldError{Field: "files", Rule: string(r.Reason), Message: r.Error()}
}

// ValidateUpload проверяет имя и заявленный размер файла.
// Тип определяется только по расширению (без учёта регистра).
// declaredSize < 0 означает, что размер неизвестен: фактический
// размер ограничивается при записи.
func ValidateUpload(originalName string, declaredSize, maxSize int64) error {
	ft := model.FileTypeFromName(originalName)
	if !ft.IsAllowed() {
		return &UploadRejection{FileName: originalName, Reason: ReasonUnsupportedType, Detail: string(ft)}
	}
	if declaredSize == 0 {
		return &UploadRejection{FileName: originalName, Reason: ReasonEmpty}
	}
	if maxSize > 0 && declaredSize > maxSize {
		return &UploadRejection{FileName: originalName, Reason: ReasonTooLarge, Detail: fmt.Sprint(maxSize)}
	}
	return nil
}

// ValidateFileCount проверяет количество файлов в запросе.
func ValidateFileCount(n, limit int) error {
	if limit > 0 && n > limit {
		return &UploadRejection{Reason: ReasonTooManyFiles, Detail: fmt.Sprint(limit)}
	}
	return nil
}
