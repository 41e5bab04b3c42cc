// Пакет handlers — HTTP handlers Data Portal. Handlers только разбирают
// запрос, вызывают сервис реестра и переводят результат в JSON;
// правила доступа и валидации живут в service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/service"
)

// DatasetRegistry — операции над наборами, доступные HTTP API.
type DatasetRegistry interface {
	Create(ctx context.Context, p model.Principal, in validation.DatasetInput, uploads []service.Upload) (*model.Dataset, error)
	Get(ctx context.Context, p model.Principal, id string) (*model.Dataset, error)
	View(ctx context.Context, id string) (*model.Dataset, error)
	Rate(ctx context.Context, p model.Principal, id string, score float64) (*model.Dataset, error)
	UpdateMetadata(ctx context.Context, p model.Principal, id string, patch validation.DatasetPatch) (*model.Dataset, error)
	Approve(ctx context.Context, p model.Principal, id, quality string) (*model.Dataset, error)
	Deactivate(ctx context.Context, p model.Principal, id string) error
	HardDelete(ctx context.Context, p model.Principal, id string) error
	Search(ctx context.Context, term string, page service.Page) (*service.SearchResult, error)
	FindByCategory(ctx context.Context, category string, page service.Page) (*service.SearchResult, error)
	FindByState(ctx context.Context, state string, page service.Page) (*service.SearchResult, error)
	FindByYear(ctx context.Context, year int, page service.Page) (*service.SearchResult, error)
	List(ctx context.Context, p model.Principal, filter repository.ListFilter, page service.Page) (*service.SearchResult, error)
}

// FileRegistry — операции над файлами набора.
type FileRegistry interface {
	AddFiles(ctx context.Context, p model.Principal, datasetID string, uploads []service.Upload) ([]*model.FileRecord, error)
	RemoveFile(ctx context.Context, p model.Principal, datasetID, fileID string) error
	SetFileActive(ctx context.Context, p model.Principal, datasetID, fileID string, active bool) (*model.FileRecord, error)
	Download(ctx context.Context, datasetID, fileID string) (*service.Download, error)
	Preview(ctx context.Context, datasetID, fileID string, rows int) (*service.PreviewResult, error)
}

// successBody — тело успешного ответа.
type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// writeJSON записывает успешный ответ {"success": true, "data": ...}.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(successBody{Success: true, Data: data})
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Причина StorageError только логируется: пути и внутренние ошибки
// не попадают в ответ.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		apierrors.ValidationError(w, "Ошибка валидации запроса", ve.Fields...)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrUnauthenticated):
		apierrors.Unauthorized(w, "Требуется аутентификация")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Недостаточно прав для операции")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Набор изменён параллельным запросом, повторите операцию")
	case errors.Is(err, service.ErrUnsupportedOperation):
		apierrors.UnsupportedMediaType(w, "Предпросмотр доступен только для CSV")
	case errors.Is(err, service.ErrReconcileInProgress):
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
	case errors.Is(err, syscall.ENOSPC):
		logger.Error("Нет места на диске",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageFull(w, "Недостаточно места в хранилище")
	case errors.Is(err, context.Canceled):
		// Клиент закрыл соединение, ответ уже никто не прочитает
		logger.Debug("Запрос отменён клиентом", slog.String("path", r.URL.Path))
	default:
		logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// decodeJSON разбирает тело запроса. Неизвестные поля — ошибка.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// pathUUID извлекает UUID из сегмента пути.
func pathUUID(r *http.Request, name string) (string, error) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// pageParams — параметры пагинации из query string.
type pageParams struct {
	Limit  *int
	Offset *int
}

// bindPage разбирает limit и offset.
func bindPage(r *http.Request) (service.Page, error) {
	var params pageParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		return service.Page{}, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &params.Offset); err != nil {
		return service.Page{}, err
	}

	var page service.Page
	if params.Limit != nil {
		page.Limit = *params.Limit
	}
	if params.Offset != nil {
		page.Offset = *params.Offset
	}
	return page, nil
}

// paramError — 400 для неразбираемого параметра.
func paramError(w http.ResponseWriter, name string, err error) {
	apierrors.ValidationError(w, "Некорректный параметр "+name, validation.FieldError{
		Field:   name,
		Rule:    "format",
		Message: err.Error(),
	})
}
