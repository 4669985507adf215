package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

func TestRetentionCleaner_DisabledReturnsNil(t *testing.T) {
	assert.Nil(t, NewRetentionCleaner(newTestStore(t), RetentionConfig{}))
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	cleaner := NewRetentionCleaner(newTestStore(t), RetentionConfig{MaxAge: 24 * time.Hour})
	require.NotNil(t, cleaner)

	cleaner.Stop()
	cleaner.Stop()
}

func TestRetentionCleaner_StartupCleanupDropsExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.InsertLogBatch([]*model.LogRecord{
		pageView("old", now.Add(-48*time.Hour).UnixMilli(), "/old"),
		pageView("new", now.UnixMilli(), "/new"),
	}))

	cleaner := NewRetentionCleaner(store, RetentionConfig{MaxAge: 24 * time.Hour})
	require.NotNil(t, cleaner)
	defer cleaner.Stop()

	got, err := store.AllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}
