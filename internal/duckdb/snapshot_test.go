package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

func TestSnapshotTo_CopyIsReadable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "glimpse.duckdb")
	store, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.InsertLogBatch([]*model.LogRecord{pageView("a", 1, "/home")}))

	snapshotPath := filepath.Join(t.TempDir(), "snapshots", "snapshot.duckdb")
	require.NoError(t, store.SnapshotTo(context.Background(), snapshotPath))

	info, err := os.Stat(snapshotPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	restored, err := NewStore(snapshotPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = restored.Close() })
	logs, err := restored.AllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "/home", logs[0].PageView.Path)
}

func TestSnapshotTo_InMemoryStore(t *testing.T) {
	store := newTestStore(t)
	err := store.SnapshotTo(context.Background(), filepath.Join(t.TempDir(), "snapshot.duckdb"))
	assert.ErrorIs(t, err, ErrInMemoryStore)
}
