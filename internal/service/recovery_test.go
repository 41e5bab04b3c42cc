package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/dataportal/internal/storage/wal"
)

// writeOrphan имитирует падение процесса после записи файла,
// но до сохранения набора.
func (e *testEnv) writeOrphan(t *testing.T, op wal.OperationType, datasetID string) string {
	t.Helper()
	tx, err := e.wal.StartTransaction(op, datasetID)
	require.NoError(t, err)
	res, err := e.store.SaveFile(bytes.NewReader([]byte("a,b\n1,2\n")), "crash.csv", owner.UserID, 1024)
	require.NoError(t, err)
	require.NoError(t, e.wal.RecordPath(tx.TransactionID, res.StoragePath))
	return res.StoragePath
}

func TestRecoverPending_RollsBackUnreferenced(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	d := env.mustCreate(t, sizedUpload("keep.csv", 10))

	orphan := env.writeOrphan(t, wal.OpFilesAdd, d.ID)
	req.Len(env.filesOnDisk(t), 2)

	res, err := env.registry.RecoverPending(context.Background())
	req.NoError(err)
	req.Equal(1, res.RolledBack)
	req.Equal(0, res.Committed)
	req.Equal(1, res.FilesRemoved)

	req.False(env.store.Exists(orphan))
	req.True(env.store.Exists(d.Files.All()[0].FilePath))

	pending, err := env.wal.PendingPaths()
	req.NoError(err)
	req.Empty(pending)
}

// Набор так и не был создан — все файлы транзакции удаляются.
func TestRecoverPending_CreateNeverPersisted(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	orphan := env.writeOrphan(t, wal.OpDatasetCreate, "never-saved")

	res, err := env.registry.RecoverPending(context.Background())
	req.NoError(err)
	req.Equal(1, res.RolledBack)
	req.False(env.store.Exists(orphan))
	req.Empty(env.filesOnDisk(t))
}

// Набор сохранён, но коммит WAL не успел — транзакция фиксируется.
func TestRecoverPending_CommitsPersisted(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	d := env.mustCreate(t, sizedUpload("a.csv", 10))
	path := d.Files.All()[0].FilePath

	tx, err := env.wal.StartTransaction(wal.OpFilesAdd, d.ID)
	req.NoError(err)
	req.NoError(env.wal.RecordPath(tx.TransactionID, path))

	res, err := env.registry.RecoverPending(context.Background())
	req.NoError(err)
	req.Equal(1, res.Committed)
	req.Equal(0, res.RolledBack)
	req.True(env.store.Exists(path))
}

func TestRecoverPending_Empty(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, sizedUpload("a.csv", 10))

	res, err := env.registry.RecoverPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, &RecoveryResult{}, res)
	require.Len(t, env.filesOnDisk(t), 1)
}
