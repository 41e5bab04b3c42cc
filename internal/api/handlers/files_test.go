package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/service"
)

// addFiles загружает файлы в набор через API.
func (a *testAPI) addFiles(t *testing.T, p model.Principal, datasetID string, files ...formFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, nil, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/"+datasetID+"/files", body)
	req.Header.Set("Content-Type", contentType)
	return a.do(req, p)
}

func (a *testAPI) getDataset(t *testing.T, p model.Principal, id string) DatasetResponse {
	t.Helper()
	rec := a.doJSON(t, http.MethodGet, "/api/v1/datasets/"+id, nil, p)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d DatasetResponse
	decodeData(t, rec, &d)
	return d
}

func csvContent(rows int) []byte {
	var sb strings.Builder
	sb.WriteString("district,rainfall\n")
	for i := range rows {
		fmt.Fprintf(&sb, "d%d,%d\n", i, i*10)
	}
	return []byte(sb.String())
}

func TestAddFiles(t *testing.T) {
	api := newTestAPI(t)
	d := api.createDataset(t, owner, formFile{name: "a.csv", content: []byte("a\n1\n")})

	rec := api.addFiles(t, owner, d.ID,
		formFile{name: "b.json", content: []byte(`{"k":1}`)},
		formFile{name: "c.txt", content: []byte("notes")},
	)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added []FileResponse
	decodeData(t, rec, &added)
	require.Len(t, added, 2)
	assert.EqualValues(t, "json", added[0].FileType)
	assert.EqualValues(t, "txt", added[1].FileType)

	got := api.getDataset(t, owner, d.ID)
	assert.Len(t, got.Files, 3)
	assert.Equal(t, int64(4+7+5), got.Metadata.FileSize)
}

func TestAddFiles_Errors(t *testing.T) {
	api := newTestAPI(t)
	d := api.createDataset(t, owner)

	rec := api.addFiles(t, other, d.ID, formFile{name: "b.csv", content: []byte("b\n")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.addFiles(t, owner, d.ID, formFile{name: "b.docx", content: []byte("b")})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_type", decodeError(t, rec).Fields[0].Rule)

	rec = api.doJSON(t, http.MethodPost, "/api/v1/datasets/"+d.ID+"/files", map[string]any{}, owner)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "multipart", decodeError(t, rec).Fields[0].Rule)

	files, err := api.store.ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRemoveFile(t *testing.T) {
	api := newTestAPI(t)
	d := api.createDataset(t, owner,
		formFile{name: "a.csv", content: []byte("a\n1\n")},
		formFile{name: "b.txt", content: []byte("bb")},
	)
	fileID := d.Files[0].ID
	path := "/api/v1/datasets/" + d.ID + "/files/" + fileID

	assert.Equal(t, http.StatusForbidden, api.doJSON(t, http.MethodDelete, path, nil, other).Code)
	require.Equal(t, http.StatusNoContent, api.doJSON(t, http.MethodDelete, path, nil, owner).Code)
	assert.Equal(t, http.StatusNotFound, api.doJSON(t, http.MethodDelete, path, nil, owner).Code)

	got := api.getDataset(t, owner, d.ID)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "b.txt", got.Files[0].OriginalName)
	assert.Equal(t, int64(2), got.Metadata.FileSize)

	rec := api.doJSON(t, http.MethodGet, path+"/download", nil, anon)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetActive(t *testing.T) {
	api := newTestAPI(t)
	d := api.createDataset(t, owner, formFile{name: "a.csv", content: []byte("a\n1\n")})
	path := "/api/v1/datasets/" + d.ID + "/files/" + d.Files[0].ID

	rec := api.doJSON(t, http.MethodPatch, path, map[string]any{}, owner)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "isActive", decodeError(t, rec).Fields[0].Field)

	rec = api.doJSON(t, http.MethodPatch, path, map[string]any{"isActive": false}, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var f FileResponse
	decodeData(t, rec, &f)
	assert.False(t, f.IsActive)

	// Владелец видит неактивный файл, остальные — нет
	assert.Len(t, api.getDataset(t, owner, d.ID).Files, 1)
	assert.Empty(t, api.getDataset(t, anon, d.ID).Files)
	assert.Equal(t, http.StatusNotFound, api.doJSON(t, http.MethodGet, path+"/download", nil, anon).Code)
}

func TestDownload(t *testing.T) {
	api := newTestAPI(t)
	content := []byte("month,mm\njan,12\nfeb,30\n")
	d := api.createDataset(t, owner, formFile{name: "rain fall.csv", content: content})
	path := "/api/v1/datasets/" + d.ID + "/files/" + d.Files[0].ID + "/download"

	rec := api.doJSON(t, http.MethodGet, path, nil, anon)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, `attachment; filename="rain fall.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, `"`+d.Files[0].Checksum+`"`, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	got := api.getDataset(t, anon, d.ID)
	assert.Equal(t, int64(1), got.Statistics.DownloadCount)
	assert.Equal(t, int64(1), got.Files[0].DownloadCount)
}

func TestDownload_RangeAndETag(t *testing.T) {
	api := newTestAPI(t)
	content := []byte("0123456789")
	d := api.createDataset(t, owner, formFile{name: "digits.txt", content: content})
	path := "/api/v1/datasets/" + d.ID + "/files/" + d.Files[0].ID + "/download"

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := api.do(req, anon)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("If-None-Match", `"`+d.Files[0].Checksum+`"`)
	rec = api.do(req, anon)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestPreview(t *testing.T) {
	api := newTestAPI(t)
	d := api.createDataset(t, owner,
		formFile{name: "rain.csv", content: csvContent(15)},
		formFile{name: "report.pdf", content: []byte("%PDF-1.4 report")},
	)
	base := "/api/v1/datasets/" + d.ID + "/files/"
	csvPath := base + d.Files[0].ID + "/preview"

	tests := []struct {
		name    string
		query   string
		rows    int
		hasMore bool
	}{
		{"по умолчанию", "", 10, true},
		{"3 строки", "?rows=3", 3, true},
		{"больше файла", "?rows=50", 15, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.doJSON(t, http.MethodGet, csvPath+tt.query, nil, anon)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var res service.PreviewResult
			decodeData(t, rec, &res)
			assert.Equal(t, []string{"district", "rainfall"}, res.Headers)
			assert.Len(t, res.Rows, tt.rows)
			assert.Equal(t, 15, res.TotalRows)
			assert.Equal(t, 2, res.TotalColumns)
			assert.Equal(t, tt.hasMore, res.HasMoreRows)
		})
	}

	rec := api.doJSON(t, http.MethodGet, csvPath+"?rows=abc", nil, anon)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.doJSON(t, http.MethodGet, base+d.Files[1].ID+"/preview", nil, anon)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, apierrors.CodeUnsupportedType, decodeError(t, rec).Code)

	// Предпросмотр не меняет счётчики
	got := api.getDataset(t, anon, d.ID)
	assert.Zero(t, got.Statistics.DownloadCount)
}
