package duckdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 10; i++ {
		buf.Add(pageView(fmt.Sprintf("r%d", i), int64(i), "/"))
	}

	// Stop should flush all pending records.
	buf.Stop()

	count, err := store.TotalLogCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	buf := NewInsertBuffer(newTestStore(t))
	buf.Stop()
	buf.Stop()
}

func TestInsertBuffer_FlushWaitsForWrites(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{FlushInterval: time.Hour})
	t.Cleanup(buf.Stop)

	for i := 0; i < 3; i++ {
		buf.Add(pageView(fmt.Sprintf("r%d", i), int64(i), "/"))
	}
	buf.Flush()

	count, err := store.TotalLogCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t, StoreConfig{MaxRecords: 0})
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 16, FlushInterval: time.Hour})

	for i := 0; i < 100; i++ {
		buf.Add(pageView(fmt.Sprintf("r%d", i), int64(i), "/"))
	}
	buf.Stop()

	count, err := store.TotalLogCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t, StoreConfig{MaxRecords: 0})
	buf := NewInsertBuffer(store)

	var wg sync.WaitGroup
	const goroutines, perGoroutine = 10, 50
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				buf.Add(pageView(fmt.Sprintf("g%d-%d", g, i), time.Now().UnixMilli(), "/"))
			}
		}(g)
	}
	wg.Wait()
	buf.Stop()

	count, err := store.TotalLogCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), count)
}

func TestInsertBuffer_OnFlushReportsPersistedRecords(t *testing.T) {
	store := newTestStore(t)
	var flushed atomic.Int64
	buf := NewInsertBuffer(store, InsertBufferConfig{
		OnFlush: func(n int) { flushed.Add(int64(n)) },
	})

	for i := 0; i < 7; i++ {
		buf.Add(pageView(fmt.Sprintf("r%d", i), int64(i), "/"))
	}
	buf.Stop()

	assert.Equal(t, int64(7), flushed.Load())
}

type failingWriter struct{ calls atomic.Int64 }

func (w *failingWriter) InsertLogBatch([]*model.LogRecord) error {
	w.calls.Add(1)
	return errors.New("disk full")
}

func TestInsertBuffer_OnErrorReportsFailures(t *testing.T) {
	w := &failingWriter{}
	var gotErr atomic.Value
	buf := NewInsertBuffer(w, InsertBufferConfig{
		OnError: func(err error) { gotErr.Store(err) },
		OnFlush: func(int) { t.Error("OnFlush must not fire for a failed batch") },
	})

	buf.Add(pageView("a", 1, "/"))
	buf.Flush()
	buf.Stop()

	require.NotNil(t, gotErr.Load())
	assert.EqualError(t, gotErr.Load().(error), "disk full")
	assert.Equal(t, int64(1), w.calls.Load())
}

func TestInsertBuffer_AddAfterStopIsDropped(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)
	buf.Stop()

	buf.Add(pageView("late", 1, "/"))

	count, err := store.TotalLogCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
