// datasets.go — HTTP handlers наборов данных: создание, поиск,
// метаданные, модерация, просмотры и оценки.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/api/middleware"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/service"
)

// metadataField — поле формы с JSON-описанием набора.
const metadataField = "metadata"

// DatasetsHandler — обработчик endpoints наборов данных.
type DatasetsHandler struct {
	registry DatasetRegistry
	limits   service.Limits
	logger   *slog.Logger
}

// NewDatasetsHandler создаёт обработчик наборов.
func NewDatasetsHandler(registry DatasetRegistry, limits service.Limits, logger *slog.Logger) *DatasetsHandler {
	return &DatasetsHandler{
		registry: registry,
		limits:   limits,
		logger:   logger.With(slog.String("component", "datasets_handler")),
	}
}

// listParams — фильтры GET /api/v1/datasets.
type listParams struct {
	Q         *string
	Category  *string
	State     *string
	Year      *int
	CreatedBy *string
}

// List обрабатывает GET /api/v1/datasets.
// Фильтры: q, category, state, year, createdBy; пагинация: limit, offset.
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	var params listParams
	query := r.URL.Query()
	binds := []struct {
		name string
		dest any
	}{
		{"q", &params.Q},
		{"category", &params.Category},
		{"state", &params.State},
		{"year", &params.Year},
		{"createdBy", &params.CreatedBy},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			paramError(w, b.name, err)
			return
		}
	}
	page, err := bindPage(r)
	if err != nil {
		paramError(w, "limit", err)
		return
	}

	filter := repository.ListFilter{}
	if params.Q != nil {
		filter.Term = *params.Q
	}
	if params.Category != nil {
		filter.Category = *params.Category
	}
	if params.State != nil {
		filter.State = *params.State
	}
	if params.Year != nil {
		filter.Year = *params.Year
	}
	if params.CreatedBy != nil {
		filter.CreatedBy = *params.CreatedBy
	}

	p := middleware.PrincipalFromContext(r.Context())
	res, err := h.registry.List(r.Context(), p, filter, page)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(res, p))
}

// Search обрабатывает GET /api/v1/datasets/search?q=.
func (h *DatasetsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var q string
	if err := runtime.BindQueryParameter("form", true, false, "q", r.URL.Query(), &q); err != nil {
		paramError(w, "q", err)
		return
	}
	h.writeSearch(w, r, func(page service.Page) (*service.SearchResult, error) {
		return h.registry.Search(r.Context(), q, page)
	})
}

// ByCategory обрабатывает GET /api/v1/datasets/category/{category}.
func (h *DatasetsHandler) ByCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	h.writeSearch(w, r, func(page service.Page) (*service.SearchResult, error) {
		return h.registry.FindByCategory(r.Context(), category, page)
	})
}

// ByState обрабатывает GET /api/v1/datasets/state/{state}.
func (h *DatasetsHandler) ByState(w http.ResponseWriter, r *http.Request) {
	state := chi.URLParam(r, "state")
	h.writeSearch(w, r, func(page service.Page) (*service.SearchResult, error) {
		return h.registry.FindByState(r.Context(), state, page)
	})
}

// ByYear обрабатывает GET /api/v1/datasets/year/{year}.
func (h *DatasetsHandler) ByYear(w http.ResponseWriter, r *http.Request) {
	var year int
	err := runtime.BindStyledParameterWithOptions("simple", "year", chi.URLParam(r, "year"), &year,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		paramError(w, "year", err)
		return
	}
	h.writeSearch(w, r, func(page service.Page) (*service.SearchResult, error) {
		return h.registry.FindByYear(r.Context(), year, page)
	})
}

func (h *DatasetsHandler) writeSearch(
	w http.ResponseWriter,
	r *http.Request,
	search func(service.Page) (*service.SearchResult, error),
) {
	page, err := bindPage(r)
	if err != nil {
		paramError(w, "limit", err)
		return
	}
	res, err := search(page)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(res, middleware.PrincipalFromContext(r.Context())))
}

// Create обрабатывает POST /api/v1/datasets.
// multipart/form-data: metadata (JSON набора) + files (0..N файлов);
// application/json: набор без файлов.
func (h *DatasetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in validation.DatasetInput
	var uploads []service.Upload

	if isMultipart(r) {
		form, err := parseMultipart(w, r, h.limits)
		if err != nil {
			writeMultipartError(w, err)
			return
		}
		defer func() { _ = form.RemoveAll() }()

		raw := form.Value[metadataField]
		if len(raw) == 0 {
			apierrors.ValidationError(w, "Поле 'metadata' обязательно", validation.FieldError{
				Field: metadataField, Rule: "required", Message: "обязательное поле",
			})
			return
		}
		if err := json.Unmarshal([]byte(raw[0]), &in); err != nil {
			apierrors.ValidationError(w, "Некорректный JSON в поле 'metadata'")
			return
		}
		uploads = uploadsFromForm(form)
	} else if err := decodeJSON(r, &in); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	p := middleware.PrincipalFromContext(r.Context())
	d, err := h.registry.Create(r.Context(), p, in, uploads)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDatasetResponse(d, p))
}

// Get обрабатывает GET /api/v1/datasets/{id}.
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	p := middleware.PrincipalFromContext(r.Context())
	d, err := h.registry.Get(r.Context(), p, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(d, p))
}

// Update обрабатывает PATCH /api/v1/datasets/{id}.
func (h *DatasetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	var patch validation.DatasetPatch
	if err := decodeJSON(r, &patch); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	p := middleware.PrincipalFromContext(r.Context())
	d, err := h.registry.UpdateMetadata(r.Context(), p, id, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(d, p))
}

// Delete обрабатывает DELETE /api/v1/datasets/{id}.
// По умолчанию набор деактивируется; ?hard=true — физическое удаление
// вместе с файлами (только администратор).
func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	var hard bool
	if err := runtime.BindQueryParameter("form", true, false, "hard", r.URL.Query(), &hard); err != nil {
		paramError(w, "hard", err)
		return
	}

	p := middleware.PrincipalFromContext(r.Context())
	if hard {
		err = h.registry.HardDelete(r.Context(), p, id)
	} else {
		err = h.registry.Deactivate(r.Context(), p, id)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// View обрабатывает POST /api/v1/datasets/{id}/view.
func (h *DatasetsHandler) View(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	d, err := h.registry.View(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Statistics)
}

// ratingRequest — тело POST /api/v1/datasets/{id}/rating.
type ratingRequest struct {
	Rating *float64 `json:"rating"`
}

// Rate обрабатывает POST /api/v1/datasets/{id}/rating.
func (h *DatasetsHandler) Rate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	var req ratingRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Rating == nil {
		apierrors.ValidationError(w, "Поле 'rating' обязательно", validation.FieldError{
			Field: "rating", Rule: "required", Message: "обязательное поле",
		})
		return
	}

	d, err := h.registry.Rate(r.Context(), middleware.PrincipalFromContext(r.Context()), id, *req.Rating)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Statistics.Rating)
}

// approveRequest — тело POST /api/v1/datasets/{id}/approve.
type approveRequest struct {
	DataQuality string `json:"dataQuality"`
}

// Approve обрабатывает POST /api/v1/datasets/{id}/approve (только администратор).
func (h *DatasetsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		apierrors.NotFound(w, "Набор не найден")
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	p := middleware.PrincipalFromContext(r.Context())
	d, err := h.registry.Approve(r.Context(), p, id, req.DataQuality)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(d, p))
}
