// files.go — HTTP handlers файлов набора: добавление, удаление,
// активность, скачивание и предпросмотр CSV.
package handlers

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/api/middleware"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/service"
)

// FilesHandler — обработчик endpoints файлов набора.
type FilesHandler struct {
	registry FileRegistry
	limits   service.Limits
	logger   *slog.Logger
}

// NewFilesHandler создаёт обработчик файлов.
func NewFilesHandler(registry FileRegistry, limits service.Limits, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		registry: registry,
		limits:   limits,
		logger:   logger.With(slog.String("component", "files_handler")),
	}
}

// fileIDs извлекает ID набора и файла из пути. Некорректный UUID — 404.
func fileIDs(w http.ResponseWriter, r *http.Request) (datasetID, fileID string, ok bool) {
	datasetID, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return "", "", false
	}
	fileID, err = pathUUID(r, "fileId")
	if err != nil {
		apierrors.NotFound(w, "Файл не найден")
		return "", "", false
	}
	return datasetID, fileID, true
}

// AddFiles обрабатывает POST /api/v1/datasets/{id}/files.
// multipart/form-data: files (1..N файлов).
func (h *FilesHandler) AddFiles(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	if !isMultipart(r) {
		apierrors.ValidationError(w, "Ожидается multipart/form-data", validation.FieldError{
			Field: filesField, Rule: "multipart", Message: "ожидается multipart/form-data",
		})
		return
	}

	form, err := parseMultipart(w, r, h.limits)
	if err != nil {
		writeMultipartError(w, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	added, err := h.registry.AddFiles(r.Context(), middleware.PrincipalFromContext(r.Context()), id, uploadsFromForm(form))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponses(added))
}

// RemoveFile обрабатывает DELETE /api/v1/datasets/{id}/files/{fileId}.
func (h *FilesHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	datasetID, fileID, ok := fileIDs(w, r)
	if !ok {
		return
	}
	if err := h.registry.RemoveFile(r.Context(), middleware.PrincipalFromContext(r.Context()), datasetID, fileID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileActiveRequest — тело PATCH /api/v1/datasets/{id}/files/{fileId}.
type fileActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

// SetActive обрабатывает PATCH /api/v1/datasets/{id}/files/{fileId}.
func (h *FilesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	datasetID, fileID, ok := fileIDs(w, r)
	if !ok {
		return
	}
	var req fileActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.IsActive == nil {
		apierrors.ValidationError(w, "Поле 'isActive' обязательно", validation.FieldError{
			Field: "isActive", Rule: "required", Message: "обязательное поле",
		})
		return
	}

	rec, err := h.registry.SetFileActive(r.Context(), middleware.PrincipalFromContext(r.Context()), datasetID, fileID, *req.IsActive)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// Download обрабатывает GET /api/v1/datasets/{id}/files/{fileId}/download.
// Отдаёт байты файла с оригинальным именем. Поддерживает Range (206)
// и If-None-Match (304); ETag — SHA-256 содержимого.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	datasetID, fileID, ok := fileIDs(w, r)
	if !ok {
		return
	}

	dl, err := h.registry.Download(r.Context(), datasetID, fileID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer dl.Content.Close()

	w.Header().Set("Content-Type", dl.Record.MimeType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.Record.OriginalName}))
	w.Header().Set("ETag", `"`+dl.Record.Checksum+`"`)
	w.Header().Set("X-Content-Type-Options", "nosniff")

	http.ServeContent(w, r, dl.Record.OriginalName, dl.ModTime, dl.Content)
}

// Preview обрабатывает GET /api/v1/datasets/{id}/files/{fileId}/preview?rows=.
func (h *FilesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	datasetID, fileID, ok := fileIDs(w, r)
	if !ok {
		return
	}
	var rows *int
	if err := runtime.BindQueryParameter("form", true, false, "rows", r.URL.Query(), &rows); err != nil {
		paramError(w, "rows", err)
		return
	}
	n := 0
	if rows != nil {
		n = *rows
	}

	res, err := h.registry.Preview(r.Context(), datasetID, fileID, n)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
