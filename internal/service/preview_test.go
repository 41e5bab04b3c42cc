package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		limit       int
		wantHeaders []string
		wantRows    int
		wantTotal   int
		wantMore    bool
	}{
		{
			name:        "fewer rows than limit",
			input:       "district,population\nwayanad,817420\nidukki,1108974\n",
			limit:       10,
			wantHeaders: []string{"district", "population"},
			wantRows:    2,
			wantTotal:   2,
		},
		{
			name:        "truncated",
			input:       "a\n1\n2\n3\n4\n5\n",
			limit:       3,
			wantHeaders: []string{"a"},
			wantRows:    3,
			wantTotal:   5,
			wantMore:    true,
		},
		{
			name:        "exactly limit",
			input:       "a\n1\n2\n",
			limit:       2,
			wantHeaders: []string{"a"},
			wantRows:    2,
			wantTotal:   2,
		},
		{
			name:        "header only",
			input:       "a,b,c\n",
			limit:       5,
			wantHeaders: []string{"a", "b", "c"},
		},
		{
			name:        "empty file",
			input:       "",
			limit:       5,
			wantHeaders: []string{},
		},
		{
			name:        "utf-8 bom stripped",
			input:       "\xEF\xBB\xBFyear,value\n2011,1\n",
			limit:       5,
			wantHeaders: []string{"year", "value"},
			wantRows:    1,
			wantTotal:   1,
		},
		{
			name:        "ragged rows",
			input:       "a,b,c\n1,2\n1,2,3,4\n",
			limit:       5,
			wantHeaders: []string{"a", "b", "c"},
			wantRows:    2,
			wantTotal:   2,
		},
		{
			name:        "quoted comma and newline",
			input:       "name,note\n\"Kochi, Ernakulam\",\"line1\nline2\"\n",
			limit:       5,
			wantHeaders: []string{"name", "note"},
			wantRows:    1,
			wantTotal:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseCSV(strings.NewReader(tt.input), tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeaders, res.Headers)
			assert.Len(t, res.Rows, tt.wantRows)
			assert.Equal(t, tt.wantTotal, res.TotalRows)
			assert.Equal(t, len(tt.wantHeaders), res.TotalColumns)
			assert.Equal(t, tt.wantMore, res.HasMoreRows)
		})
	}
}

func TestParseCSV_QuotedFieldValue(t *testing.T) {
	res, err := parseCSV(strings.NewReader("name\n\"Kochi, Ernakulam\"\n"), 5)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"Kochi, Ernakulam"}}, res.Rows)
}

func TestRegistry_Preview(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	var sb strings.Builder
	sb.WriteString("district,population\n")
	for i := range 150 {
		fmt.Fprintf(&sb, "d%d,%d\n", i, i*100)
	}
	d := env.mustCreate(t,
		fileUpload("districts.csv", []byte(sb.String())),
		fileUpload("report.pdf", []byte("%PDF-1.4 report")),
	)
	csvRec, pdfRec := d.Files.All()[0], d.Files.All()[1]

	res, err := env.registry.Preview(ctx, d.ID, csvRec.ID, 0)
	req.NoError(err)
	req.Len(res.Rows, DefaultLimits().PreviewDefaultRows)
	req.Equal(150, res.TotalRows)
	req.True(res.HasMoreRows)
	req.Equal([]string{"d0", "0"}, res.Rows[0])

	res, err = env.registry.Preview(ctx, d.ID, csvRec.ID, 1000)
	req.NoError(err)
	req.Len(res.Rows, DefaultLimits().PreviewMaxRows)

	_, err = env.registry.Preview(ctx, d.ID, pdfRec.ID, 5)
	req.ErrorIs(err, ErrUnsupportedOperation)

	_, err = env.registry.Preview(ctx, d.ID, "missing", 5)
	req.ErrorIs(err, ErrNotFound)

	// Предпросмотр не меняет счётчики
	got, err := env.registry.Get(ctx, owner, d.ID)
	req.NoError(err)
	req.Zero(got.Statistics.DownloadCount)
	req.Zero(got.Statistics.ViewCount)
}

func TestPreviewService_Cache(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	d := env.mustCreate(t, fileUpload("a.csv", []byte("h\n1\n2\n")))
	rec := d.Files.All()[0]

	first, err := env.registry.preview.Preview(rec, 5)
	req.NoError(err)

	// Закэшированный результат отдаётся без чтения файла
	req.NoError(os.Remove(env.store.FullPath(rec.FilePath)))
	second, err := env.registry.preview.Preview(rec, 5)
	req.NoError(err)
	req.Same(first, second)

	env.registry.preview.Purge()
	_, err = env.registry.preview.Preview(rec, 5)
	req.ErrorIs(err, ErrNotFound)
}
