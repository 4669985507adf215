package recorder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/duckdb"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// fakeStore is an in-memory LogStore + SettingsStore that counts writes.
type fakeStore struct {
	mu       sync.Mutex
	records  []model.LogRecord
	settings map[string]string
	writes   int
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: make(map[string]string)}
}

func (f *fakeStore) InsertLogBatch(records []*model.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWith != nil {
		return f.failWith
	}
	for _, r := range records {
		f.records = append(f.records, *r)
	}
	return nil
}

func (f *fakeStore) AllLogs(context.Context) ([]model.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return append([]model.LogRecord(nil), f.records...), nil
}

func (f *fakeStore) TotalLogCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.records)), nil
}

func (f *fakeStore) ClearLogs(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.records = nil
	return nil
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.settings[key]
	return v, ok, nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func newTestRecorder(t *testing.T, store *fakeStore, active bool) *Recorder {
	t.Helper()
	var seq int
	var mu sync.Mutex
	rec, err := New(Config{
		Store:         store,
		Settings:      store,
		DefaultActive: active,
		Buffer:        duckdb.InsertBufferConfig{FlushInterval: time.Hour},
		Now:           func() time.Time { return time.UnixMilli(1000) },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	require.NoError(t, err)
	t.Cleanup(rec.Close)
	return rec
}

func recordOneOfEach(r *Recorder) {
	r.RecordPageView("/home", "")
	r.RecordAPICall(model.APICall{URL: "/api", Method: "GET", StatusCode: 200})
	r.RecordComponentRender("Header", model.RenderMount, time.Millisecond)
	r.RecordError("boom", "", "test")
	r.RecordCustomEvent("click", nil)
}

func TestRecord_NoOpWhileInactive(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, false)
	hints, cancel := rec.Subscribe()
	defer cancel()

	recordOneOfEach(rec)
	rec.Flush()

	assert.Zero(t, store.writeCount(), "no storage writes while inactive")
	assert.Zero(t, rec.Generation(), "no notifications while inactive")
	select {
	case <-hints:
		t.Fatal("unexpected notification while inactive")
	default:
	}
}

func TestRecord_WritesAndNotifiesWhileActive(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, true)
	hints, cancel := rec.Subscribe()
	defer cancel()

	recordOneOfEach(rec)
	rec.Flush()

	logs, err := rec.AllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 5)

	for i, typ := range model.AllLogTypes {
		assert.Equal(t, typ, logs[i].Type)
		assert.Equal(t, int64(1000), logs[i].Timestamp)
		assert.Equal(t, fmt.Sprintf("id-%d", i+1), logs[i].ID)
	}

	select {
	case <-hints:
	default:
		t.Fatal("expected a new-log notification")
	}
	assert.NotZero(t, rec.Generation())
}

func TestRecord_UnmountHasZeroDuration(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, true)

	rec.RecordComponentRender("List", model.RenderUnmount, 25*time.Millisecond)
	rec.Flush()

	logs, err := rec.AllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Zero(t, logs[0].ComponentRender.Duration)
}

func TestRecord_DropsUnsupportedAndNilPayloads(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, true)

	rec.Record("not a payload")
	rec.Record((*model.PageView)(nil))
	rec.Flush()

	assert.Zero(t, store.writeCount())
}

func TestStartStop_IdempotentAndPersisted(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, false)

	var changes []bool
	rec.OnStateChange(func(active bool) { changes = append(changes, active) })

	rec.Start()
	rec.Start()
	assert.True(t, rec.IsActive())
	rec.Stop()
	rec.Stop()
	assert.False(t, rec.IsActive())

	assert.Equal(t, []bool{true, false}, changes)
	v, _, _ := store.GetSetting(context.Background(), model.SettingMonitoringActive)
	assert.Equal(t, "false", v)
}

func TestToggle_ReturnsNewState(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, true)

	assert.False(t, rec.Toggle())
	assert.False(t, rec.IsActive())
	assert.True(t, rec.Toggle())

	v, _, _ := store.GetSetting(context.Background(), model.SettingMonitoringActive)
	assert.Equal(t, "true", v)
}

// jitterSettings delays every write so concurrent flips interleave.
type jitterSettings struct {
	*fakeStore
	n atomic.Int64
}

func (j *jitterSettings) SetSetting(ctx context.Context, key, value string) error {
	time.Sleep(time.Duration(j.n.Add(1)%3) * time.Millisecond)
	return j.fakeStore.SetSetting(ctx, key, value)
}

func TestToggle_ConcurrentFlipsPersistFinalState(t *testing.T) {
	store := newFakeStore()
	rec, err := New(Config{
		Store:         store,
		Settings:      &jitterSettings{fakeStore: store},
		DefaultActive: true,
		Buffer:        duckdb.InsertBufferConfig{FlushInterval: time.Hour},
	})
	require.NoError(t, err)
	t.Cleanup(rec.Close)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%4 == 0 {
				rec.SetActive(i%8 == 0)
				return
			}
			rec.Toggle()
		}()
	}
	wg.Wait()

	v, ok, _ := store.GetSetting(context.Background(), model.SettingMonitoringActive)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatBool(rec.IsActive()), v)
}

func TestNew_RestoresSavedFlag(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SetSetting(context.Background(), model.SettingMonitoringActive, "false"))

	rec := newTestRecorder(t, store, true)
	assert.False(t, rec.IsActive(), "saved flag wins over the default")
}

func TestStorageFailure_IsSurfacedNotThrown(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("quota exceeded")
	rec := newTestRecorder(t, store, true)

	assert.NotPanics(t, func() {
		rec.RecordPageView("/a", "")
		rec.Flush()
	})
	assert.Contains(t, rec.DBError(), "quota exceeded")

	_, err := rec.AllLogs(context.Background())
	assert.Error(t, err)
	assert.Error(t, rec.ClearLogs(context.Background()))

	store.mu.Lock()
	store.failWith = nil
	store.mu.Unlock()
	rec.RecordPageView("/b", "")
	rec.Flush()
	assert.Empty(t, rec.DBError(), "a successful write clears the error state")
}

func TestClearLogs_PreservesSettingsAndNotifies(t *testing.T) {
	store, err := duckdb.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec, err := New(Config{Store: store, Settings: store, DefaultActive: true})
	require.NoError(t, err)
	t.Cleanup(rec.Close)
	ctx := context.Background()

	require.NoError(t, rec.SetTheme(ctx, "dark"))
	rec.RecordPageView("/home", "")
	rec.Flush()
	before := rec.Generation()

	require.NoError(t, rec.ClearLogs(ctx))

	logs, err := rec.AllLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.True(t, rec.IsActive())
	assert.Equal(t, "dark", rec.Theme(ctx))
	v, ok, err := store.GetSetting(ctx, model.SettingMonitoringActive)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
	assert.Greater(t, rec.Generation(), before)
}

func TestWaitForLogs_WakesOnWrite(t *testing.T) {
	store := newFakeStore()
	rec := newTestRecorder(t, store, true)

	done := make(chan uint64, 1)
	go func() {
		gen, err := rec.WaitForLogs(context.Background(), 0)
		if err == nil {
			done <- gen
		}
	}()

	rec.RecordPageView("/a", "")
	rec.Flush()

	select {
	case gen := <-done:
		assert.Equal(t, uint64(1), gen)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForLogs did not wake up")
	}
}

func TestWaitForLogs_HonorsContext(t *testing.T) {
	rec := newTestRecorder(t, newFakeStore(), true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := rec.WaitForLogs(ctx, rec.Generation())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
