// Пакет validation — проверка входных данных реестра: поля набора данных,
// загружаемые файлы и оценки. Все функции чистые, без обращения к хранилищу.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/samber/lo"

	"github.com/bigkaa/dataportal/internal/domain/model"
)

// Ограничения на теги.
const (
	MaxTags      = 20
	MaxTagLength = 50
)

// Рейтинг принимается в диапазоне [MinRating, MaxRating].
const (
	MinRating = 0.0
	MaxRating = 5.0
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Имена полей в ошибках — как в JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// notblank не входит в стандартный набор тегов
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("state", func(fl validator.FieldLevel) bool {
		return lo.Contains(model.States, fl.Field().String())
	})
	return v
}

// FieldError — ошибка одного поля.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationErrors — список всех ошибочных полей запроса.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	parts := lo.Map(ve, func(fe FieldError, _ int) string {
		return fe.Field + ": " + fe.Message
	})
	return "ошибка валидации: " + strings.Join(parts, "; ")
}

// SourceInput — источник данных во входном запросе.
type SourceInput struct {
	Name string `json:"name" validate:"required,notblank,max=200"`
	URL  string `json:"url" validate:"omitempty,url,max=500"`
}

// TimeRangeInput — диапазон лет во входном запросе.
type TimeRangeInput struct {
	Start int `json:"start" validate:"min=1900,max=2030"`
	End   int `json:"end" validate:"min=1900,max=2030"`
}

// MetadataInput — изменяемая пользователем часть метаданных.
type MetadataInput struct {
	TotalRecords    int64           `json:"totalRecords" validate:"min=0"`
	UpdateFrequency string          `json:"updateFrequency" validate:"omitempty,oneof=daily weekly monthly quarterly yearly irregular"`
	Coverage        string          `json:"coverage" validate:"omitempty,oneof=national state district city village"`
	TimeSeries      bool            `json:"timeSeries"`
	TimeRange       *TimeRangeInput `json:"timeRange"`
}

// DatasetInput — поля нового набора данных.
type DatasetInput struct {
	Title       string        `json:"title" validate:"required,notblank,min=3,max=200"`
	Description string        `json:"description" validate:"required,notblank,min=10,max=5000"`
	Category    string        `json:"category" validate:"required,oneof=demographics education economy health agriculture"`
	State       string        `json:"state" validate:"required,state"`
	Year        int           `json:"year" validate:"required,min=1900,max=2030"`
	Source      SourceInput   `json:"source"`
	Tags        []string      `json:"tags" validate:"max=20,dive,max=50"`
	Notes       string        `json:"notes" validate:"max=2000"`
	IsPublic    *bool         `json:"isPublic"`
	Metadata    MetadataInput `json:"metadata"`
}

// DatasetPatch — частичное обновление набора. nil-поля не меняются.
type DatasetPatch struct {
	Title       *string        `json:"title" validate:"omitempty,notblank,min=3,max=200"`
	Description *string        `json:"description" validate:"omitempty,notblank,min=10,max=5000"`
	Category    *string        `json:"category" validate:"omitempty,oneof=demographics education economy health agriculture"`
	State       *string        `json:"state" validate:"omitempty,state"`
	Year        *int           `json:"year" validate:"omitempty,min=1900,max=2030"`
	Source      *SourceInput   `json:"source"`
	Tags        []string       `json:"tags" validate:"omitempty,max=20,dive,max=50"`
	Notes       *string        `json:"notes" validate:"omitempty,max=2000"`
	IsPublic    *bool          `json:"isPublic"`
	Metadata    *MetadataInput `json:"metadata"`
}

// IsEmpty — патч не содержит ни одного изменения.
func (p DatasetPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.State == nil && p.Year == nil && p.Source == nil && p.Tags == nil &&
		p.Notes == nil && p.IsPublic == nil && p.Metadata == nil
}

// ValidateDataset проверяет поля нового набора. Возвращает
// ValidationErrors со всеми нарушениями, а не только с первым.
func ValidateDataset(in DatasetInput) error {
	in.Tags = NormalizeTags(in.Tags)
	errs := collect(validate.Struct(in))
	errs = append(errs, checkTimeRange("metadata", in.Metadata)...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidatePatch проверяет частичное обновление.
func ValidatePatch(p DatasetPatch) error {
	if p.Tags != nil {
		p.Tags = NormalizeTags(p.Tags)
	}
	errs := collect(validate.Struct(p))
	if p.Metadata != nil {
		errs = append(errs, checkTimeRange("metadata", *p.Metadata)...)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateQuality проверяет значение DataQuality для одобрения.
func ValidateQuality(q string) error {
	switch model.DataQuality(q) {
	case model.QualityVerified, model.QualityPending, model.QualityUnverified:
		return nil
	}
	return ValidationErrors{{
		Field:   "dataQuality",
		Rule:    "oneof",
		Message: "допустимые значения: verified, pending, unverified",
	}}
}

// ValidateRating отклоняет оценки вне диапазона [0, 5] и NaN.
func ValidateRating(score float64) error {
	if math.IsNaN(score) || score < MinRating || score > MaxRating {
		return ValidationErrors{{
			Field:   "rating",
			Rule:    "range",
			Message: fmt.Sprintf("оценка должна быть в диапазоне [%g, %g]", MinRating, MaxRating),
		}}
	}
	return nil
}

// NormalizeTags обрезает пробелы, приводит к нижнему регистру,
// удаляет пустые значения и дубликаты. Порядок первого вхождения сохраняется.
func NormalizeTags(tags []string) []string {
	normalized := lo.Map(tags, func(t string, _ int) string {
		return strings.ToLower(strings.TrimSpace(t))
	})
	return lo.Uniq(lo.Compact(normalized))
}

func checkTimeRange(prefix string, m MetadataInput) ValidationErrors {
	var errs ValidationErrors
	if m.TimeSeries && m.TimeRange == nil {
		errs = append(errs, FieldError{
			Field:   prefix + ".timeRange",
			Rule:    "required_if",
			Message: "диапазон лет обязателен для временного ряда",
		})
	}
	if m.TimeRange != nil && m.TimeRange.Start > m.TimeRange.End {
		errs = append(errs, FieldError{
			Field:   prefix + ".timeRange",
			Rule:    "order",
			Message: "начало диапазона не может быть позже конца",
		})
	}
	return errs
}

// collect преобразует ошибки validator в ValidationErrors.
func collect(err error) ValidationErrors {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "", Rule: "invalid", Message: err.Error()}}
	}
	return lo.Map(verrs, func(fe validator.FieldError, _ int) FieldError {
		return FieldError{
			Field:   fieldPath(fe.Namespace()),
			Rule:    fe.Tag(),
			Message: message(fe),
		}
	})
}

// fieldPath отрезает имя корневой структуры: "DatasetInput.source.name" → "source.name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "обязательное поле"
	case "min":
		if fe.Kind() == reflect.String {
			return "минимальная длина " + fe.Param()
		}
		if fe.Kind() == reflect.Slice {
			return "минимальное количество элементов " + fe.Param()
		}
		return "минимальное значение " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "максимальная длина " + fe.Param()
		}
		if fe.Kind() == reflect.Slice {
			return "максимальное количество элементов " + fe.Param()
		}
		return "максимальное значение " + fe.Param()
	case "oneof":
		return "допустимые значения: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "state":
		return "неизвестный код штата"
	case "url":
		return "некорректный URL"
	default:
		return "некорректное значение"
	}
}
