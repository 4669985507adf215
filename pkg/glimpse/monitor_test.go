package glimpse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/socketrpc"
)

// steppedClock advances 10ms per reading so records keep call order.
func steppedClock() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(10 * time.Millisecond)
		return t
	}
}

func newTestMonitor(t *testing.T, cfg Config, opts ...Option) *Monitor {
	t.Helper()
	opts = append([]Option{WithClock(steppedClock())}, opts...)
	mon, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close() })
	return mon
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/fail" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func logTypes(logs []LogRecord) []LogType {
	out := make([]LogType, len(logs))
	for i, l := range logs {
		out[i] = l.Type
	}
	return out
}

func TestMonitor_RecordsHostActivity(t *testing.T) {
	upstream := newUpstream(t)
	client := &http.Client{}
	mon := newTestMonitor(t, DefaultConfig(),
		WithHTTPClient(client),
		WithHistory(NewMemoryHistory("/home")))
	require.NoError(t, mon.Start())

	mon.History().PushState(nil, "", "/profile")
	resp, err := client.Get(upstream.URL + "/api/users?page=2")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"ok":true}`, string(body), "host still sees the response")

	done := mon.BeginRender("Profile", RenderMount)
	done()
	mon.AddCustomEvent("checkout", map[string]any{"items": 2})
	mon.Flush()

	ctx := context.Background()
	logs, err := mon.Logs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []LogType{TypePageView, TypePageView, TypeAPICall, TypeComponentRender, TypeCustomEvent}, logTypes(logs))
	assert.Equal(t, "/profile", logs[1].PageView.Path)
	assert.Equal(t, "/home", logs[1].PageView.Referrer)
	assert.Equal(t, "GET", logs[2].APICall.Method)
	assert.Equal(t, http.StatusOK, logs[2].APICall.StatusCode)
	assert.Contains(t, logs[2].APICall.URL, "/api/users?page=2")

	insights, err := mon.Insights(ctx)
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "/profile", insights[0].Path)
	assert.Equal(t, 1, insights[0].APICalls)
	assert.Equal(t, 1, insights[0].ComponentRenders)
	assert.Equal(t, 1, insights[0].CustomEvents)

	sum, err := mon.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Total)
}

func TestMonitor_FetchRecordsFailures(t *testing.T) {
	upstream := newUpstream(t)
	mon := newTestMonitor(t, DefaultConfig())
	require.NoError(t, mon.Start())

	resp, err := mon.Fetch(context.Background(), upstream.URL+"/api/fail", &RequestInit{Method: "post", Body: `{"id":1}`})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	_, err = mon.Fetch(context.Background(), "http://127.0.0.1:1/unreachable", nil)
	require.Error(t, err)
	mon.Flush()

	logs, err := mon.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "POST", logs[0].APICall.Method)
	assert.Equal(t, `{"id":1}`, logs[0].APICall.RequestBody)
	assert.Equal(t, http.StatusInternalServerError, logs[0].APICall.StatusCode)
	assert.Equal(t, 0, logs[1].APICall.StatusCode)
	assert.NotEmpty(t, logs[1].APICall.Error)
}

func TestMonitor_WrappedFetchOverInstrumentedClient(t *testing.T) {
	upstream := newUpstream(t)
	client := &http.Client{}
	mon := newTestMonitor(t, DefaultConfig(), WithHTTPClient(client))
	require.NoError(t, mon.Start())

	fetch := mon.WrapFetch(NewFetch(client))
	resp, err := fetch(context.Background(), upstream.URL+"/api/items", nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	mon.Flush()

	logs, err := mon.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1, "one call, one record")
	assert.Equal(t, TypeAPICall, logs[0].Type)
	assert.JSONEq(t, `{"ok":true}`, logs[0].APICall.ResponseBody)
}

func TestMonitor_InactiveRecordsNothing(t *testing.T) {
	upstream := newUpstream(t)
	client := &http.Client{}
	cfg := DefaultConfig()
	cfg.DefaultActive = false
	mon := newTestMonitor(t, cfg, WithHTTPClient(client), WithHistory(NewMemoryHistory("/home")))
	require.NoError(t, mon.Attach())
	assert.False(t, mon.IsActive())

	mon.History().PushState(nil, "", "/profile")
	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	resp.Body.Close()
	func() {
		defer func() { _ = recover() }()
		defer mon.Recover()
		panic("ignored")
	}()
	mon.AddCustomEvent("ignored", nil)
	mon.Flush()

	logs, err := mon.Logs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, logs)

	mon.History().PushState(nil, "", "/settings")
	require.NoError(t, mon.Start())
	mon.History().PushState(nil, "", "/about")
	mon.Flush()
	logs, err = mon.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "/about", logs[0].PageView.Path)
	assert.Equal(t, "/settings", logs[0].PageView.Referrer, "path tracking continues while inactive")
}

func TestMonitor_RecoverRecordsAndRepanics(t *testing.T) {
	mon := newTestMonitor(t, DefaultConfig())

	assert.PanicsWithValue(t, "kaboom", func() {
		defer mon.Recover()
		panic("kaboom")
	})
	mon.Go(func() error { return errors.New("late failure") })
	mon.Wait()
	mon.ReportError(errors.New("handled"), "checkout")
	mon.Flush()

	logs, err := mon.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "kaboom", logs[0].Error.Message)
	assert.True(t, strings.HasPrefix(logs[0].Error.Source, "global_error:monitor_test.go:"), logs[0].Error.Source)
	assert.Equal(t, "late failure", logs[1].Error.Message)
	assert.Equal(t, "unhandled_rejection", logs[1].Error.Source)
	assert.Equal(t, "checkout", logs[2].Error.Source)
}

func TestMonitor_ClearKeepsSettings(t *testing.T) {
	ctx := context.Background()
	mon := newTestMonitor(t, DefaultConfig())
	require.NoError(t, mon.SetTheme(ctx, "dark"))
	mon.Stop()
	require.NoError(t, mon.Start())
	mon.AddCustomEvent("a", nil)
	mon.Flush()

	require.NoError(t, mon.ClearLogs(ctx))

	logs, err := mon.Logs(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, "dark", mon.Theme(ctx))
	assert.True(t, mon.IsActive())
}

func TestMonitor_ActiveFlagSurvivesRestart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "glimpse.duckdb")

	first, err := New(cfg)
	require.NoError(t, err)
	first.Stop()
	first.AddCustomEvent("dropped", nil)
	require.NoError(t, first.Close())

	second := newTestMonitor(t, cfg)
	assert.False(t, second.IsActive(), "saved flag wins over DefaultActive")
	assert.True(t, second.Toggle())
}

func TestMonitor_CloseRestoresClients(t *testing.T) {
	client := &http.Client{}
	hist := NewMemoryHistory("/home")
	mon, err := New(DefaultConfig(), WithHTTPClient(client), WithHistory(hist))
	require.NoError(t, err)
	require.NoError(t, mon.Start())
	require.NoError(t, mon.Attach(), "attach is idempotent")
	assert.NotNil(t, client.Transport)
	assert.NotSame(t, hist, mon.History())

	require.NoError(t, mon.Close())
	assert.Nil(t, client.Transport)
	assert.Same(t, hist, mon.History())
	assert.ErrorIs(t, mon.Attach(), ErrClosed)
	require.NoError(t, mon.Close())
}

func TestMonitor_FrozenHistoryIsSkipped(t *testing.T) {
	hist := NewMemoryHistory("/home")
	hist.Freeze()
	mon := newTestMonitor(t, DefaultConfig(), WithHistory(hist))
	require.NoError(t, mon.Start(), "interception failures do not fail start")
	assert.Same(t, hist, mon.History())

	_, err := mon.WrapHistory(hist)
	assert.ErrorIs(t, err, ErrInterceptUnavailable)
}

func TestMonitor_ServesDashboards(t *testing.T) {
	dir, err := os.MkdirTemp("", "glimpse")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.SocketPath = filepath.Join(dir, "glimpse.sock")
	mon := newTestMonitor(t, cfg)
	require.NoError(t, mon.Start())
	mon.AddCustomEvent("hello", nil)
	mon.Flush()

	require.NotEmpty(t, mon.HTTPAddr())
	resp, err := http.Get("http://" + mon.HTTPAddr() + "/api/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, 1, sum.CustomEvents)

	client, err := socketrpc.Dial(mon.SocketPath())
	require.NoError(t, err)
	defer client.Close()
	logs, err := client.AllLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hello", logs[0].CustomEvent.EventName)
}

func TestMonitor_WaitForLogs(t *testing.T) {
	mon := newTestMonitor(t, DefaultConfig())
	since := mon.Status().Generation

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go mon.AddCustomEvent("ping", nil)
	gen, err := mon.WaitForLogs(ctx, since)
	require.NoError(t, err)
	assert.Greater(t, gen, since)
}
