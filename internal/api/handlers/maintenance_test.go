package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/service"
)

// stubRunner запоминает параметры запуска и возвращает заданный результат.
type stubRunner struct {
	opts service.ReconcileOptions
	err  error
}

func (s *stubRunner) Run(_ context.Context, opts service.ReconcileOptions) (*service.ReconcileResult, error) {
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &service.ReconcileResult{Issues: []service.ReconcileIssue{}}, nil
}

func TestReconcile_Options(t *testing.T) {
	runner := &stubRunner{}
	h := NewMaintenanceHandler(runner, testLogger())
	rec := httptest.NewRecorder()

	h.Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile?deep=true&removeOrphans=true", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, runner.opts.DeepCheck)
	assert.True(t, runner.opts.RemoveOrphans)
}

func TestReconcile_InProgress(t *testing.T) {
	h := NewMaintenanceHandler(&stubRunner{err: service.ErrReconcileInProgress}, testLogger())
	rec := httptest.NewRecorder()

	h.Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apierrors.CodeReconcileInProgress, decodeError(t, rec).Code)
}

func TestReconcile_InvalidParam(t *testing.T) {
	h := NewMaintenanceHandler(&stubRunner{}, testLogger())
	rec := httptest.NewRecorder()

	h.Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile?deep=maybe", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcile_Clean(t *testing.T) {
	api := newTestAPI(t)
	api.createDataset(t, admin, formFile{name: "a.csv", content: []byte("a\n1\n")})

	rec := api.doJSON(t, http.MethodPost, "/api/v1/maintenance/reconcile?deep=true", nil, admin)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.ReconcileResult
	decodeData(t, rec, &res)
	assert.Equal(t, 1, res.FilesChecked)
	assert.Equal(t, 1, res.Summary.Ok)
	assert.Empty(t, res.Issues)
}
