package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
	"github.com/bigkaa/dataportal/internal/storage/wal"
)

var (
	owner  = model.Principal{UserID: "owner-1", Role: model.RoleUser}
	other  = model.Principal{UserID: "other-2", Role: model.RoleUser}
	admin  = model.Principal{UserID: "admin-3", Role: model.RoleAdmin}
	nobody = model.Principal{}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingRepo — репозиторий, который по флагу отказывает при записи.
type failingRepo struct {
	repository.DatasetRepository
	failCreate atomic.Bool
	failUpdate atomic.Bool
}

var errDiskFull = errors.New("no space left on device")

func (r *failingRepo) Create(ctx context.Context, d *model.Dataset) error {
	if r.failCreate.Load() {
		return errDiskFull
	}
	return r.DatasetRepository.Create(ctx, d)
}

func (r *failingRepo) Update(ctx context.Context, d *model.Dataset) error {
	if r.failUpdate.Load() {
		return errDiskFull
	}
	return r.DatasetRepository.Update(ctx, d)
}

// testEnv — реестр поверх Badger в памяти и временных директорий.
type testEnv struct {
	registry *RegistryService
	repo     *failingRepo
	store    *filestore.FileStore
	wal      *wal.WAL
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimits(t, DefaultLimits())
}

func newTestEnvWithLimits(t *testing.T, limits Limits) *testEnv {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	walEngine, err := wal.New(t.TempDir(), testLogger())
	require.NoError(t, err)

	repo := &failingRepo{DatasetRepository: repository.NewBadgerRepository(db)}
	preview := NewPreviewService(store, 16, time.Minute, testLogger())

	return &testEnv{
		registry: NewRegistryService(repo, store, walEngine, preview, limits, testLogger()),
		repo:     repo,
		store:    store,
		wal:      walEngine,
	}
}

// filesOnDisk возвращает файлы в директории данных.
func (e *testEnv) filesOnDisk(t *testing.T) []string {
	t.Helper()
	files, err := e.store.ListFiles()
	require.NoError(t, err)
	return files
}

// mustCreate создаёт набор от имени владельца.
func (e *testEnv) mustCreate(t *testing.T, uploads ...Upload) *model.Dataset {
	t.Helper()
	d, err := e.registry.Create(context.Background(), owner, validInput(), uploads)
	require.NoError(t, err)
	return d
}

func validInput() validation.DatasetInput {
	return validation.DatasetInput{
		Title:       "Population Census",
		Description: "District-wise population of Kerala",
		Category:    "demographics",
		State:       "kerala",
		Year:        2011,
		Source:      validation.SourceInput{Name: "Census Office"},
		Tags:        []string{"Census", "population"},
	}
}

func fileUpload(name string, content []byte) Upload {
	return Upload{
		Name:        name,
		Size:        int64(len(content)),
		ContentType: "application/octet-stream",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

func sizedUpload(name string, size int) Upload {
	return fileUpload(name, bytes.Repeat([]byte("x"), size))
}

// ruleOf возвращает правила всех ошибок полей.
func rulesOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	rules := make(map[string]string, len(ve.Fields))
	for _, f := range ve.Fields {
		rules[f.Field] = f.Rule
	}
	return rules
}

func repositoryFilter(createdBy string) repository.ListFilter {
	return repository.ListFilter{CreatedBy: createdBy}
}
