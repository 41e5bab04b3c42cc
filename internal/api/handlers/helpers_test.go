package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/dataportal/internal/api/middleware"
	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/service"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
	"github.com/bigkaa/dataportal/internal/storage/wal"
)

const (
	headerTestUser = "X-Test-User"
	headerTestRole = "X-Test-Role"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAPI — роутер с реальным реестром поверх Badger в памяти.
type testAPI struct {
	router   chi.Router
	registry *service.RegistryService
	store    *filestore.FileStore
}

// withTestPrincipal кладёт в контекст принципала из тестовых заголовков.
func withTestPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get(headerTestUser); user != "" {
			p := model.Principal{UserID: user, Role: r.Header.Get(headerTestRole)}
			r = r.WithContext(middleware.WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithLimits(t, service.DefaultLimits())
}

func newTestAPIWithLimits(t *testing.T, limits service.Limits) *testAPI {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	walEngine, err := wal.New(t.TempDir(), testLogger())
	require.NoError(t, err)

	repo := repository.NewBadgerRepository(db)
	preview := service.NewPreviewService(store, 16, time.Minute, testLogger())
	registry := service.NewRegistryService(repo, store, walEngine, preview, limits, testLogger())
	reconcile := service.NewReconcileService(repo, store, walEngine, testLogger())

	datasets := NewDatasetsHandler(registry, limits, testLogger())
	files := NewFilesHandler(registry, limits, testLogger())
	maintenance := NewMaintenanceHandler(reconcile, testLogger())

	r := chi.NewRouter()
	r.Use(withTestPrincipal)
	r.Route("/api/v1/datasets", func(r chi.Router) {
		r.Get("/", datasets.List)
		r.Post("/", datasets.Create)
		r.Get("/search", datasets.Search)
		r.Get("/category/{category}", datasets.ByCategory)
		r.Get("/state/{state}", datasets.ByState)
		r.Get("/year/{year}", datasets.ByYear)
		r.Get("/{id}", datasets.Get)
		r.Patch("/{id}", datasets.Update)
		r.Delete("/{id}", datasets.Delete)
		r.Post("/{id}/view", datasets.View)
		r.Post("/{id}/rating", datasets.Rate)
		r.Post("/{id}/approve", datasets.Approve)
		r.Post("/{id}/files", files.AddFiles)
		r.Delete("/{id}/files/{fileId}", files.RemoveFile)
		r.Patch("/{id}/files/{fileId}", files.SetActive)
		r.Get("/{id}/files/{fileId}/download", files.Download)
		r.Get("/{id}/files/{fileId}/preview", files.Preview)
	})
	r.Post("/api/v1/maintenance/reconcile", maintenance.Reconcile)

	return &testAPI{router: r, registry: registry, store: store}
}

// do выполняет запрос от имени принципала (пустой UserID — аноним).
func (a *testAPI) do(req *http.Request, p model.Principal) *httptest.ResponseRecorder {
	if !p.IsAnonymous() {
		req.Header.Set(headerTestUser, p.UserID)
		req.Header.Set(headerTestRole, p.Role)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) doJSON(t *testing.T, method, path string, body any, p model.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, p)
}

// formFile — файл multipart-формы.
type formFile struct {
	name    string
	content []byte
}

// multipartBody собирает форму с полем metadata (если задано) и файлами.
func multipartBody(t *testing.T, metadata any, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField(metadataField, string(raw)))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(filesField, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// createDataset создаёт набор через API и возвращает ответ.
func (a *testAPI) createDataset(t *testing.T, p model.Principal, files ...formFile) DatasetResponse {
	t.Helper()
	body, contentType := multipartBody(t, validMetadata(), files...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", body)
	req.Header.Set("Content-Type", contentType)
	rec := a.do(req, p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var d DatasetResponse
	decodeData(t, rec, &d)
	return d
}

func validMetadata() map[string]any {
	return map[string]any{
		"title":       "Rainfall Statistics",
		"description": "Monthly rainfall by district",
		"category":    "agriculture",
		"state":       "kerala",
		"year":        2020,
		"source":      map[string]any{"name": "IMD"},
		"tags":        []string{"rainfall", "climate"},
	}
}

// decodeData разбирает {"success": true, "data": ...} в dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// errorBody — тело ответа с ошибкой.
type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []struct {
		Field string `json:"field"`
		Rule  string `json:"rule"`
	} `json:"fields"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	require.False(t, body.Success)
	return body
}

var (
	owner = model.Principal{UserID: "owner-1", Role: model.RoleUser}
	other = model.Principal{UserID: "other-2", Role: model.RoleUser}
	admin = model.Principal{UserID: "admin-3", Role: model.RoleAdmin}
	anon  = model.Principal{}
)
