// Package glimpse embeds in-application monitoring into a Go host. A
// Monitor observes the host's navigation, outgoing HTTP calls, component
// renders and failures, keeps them in a local DuckDB store, and serves
// them to the glimpse dashboard.
//
//	mon, err := glimpse.New(glimpse.DefaultConfig(),
//		glimpse.WithHTTPClient(http.DefaultClient),
//		glimpse.WithHistory(hist))
//	if err != nil { ... }
//	defer mon.Close()
//	if err := mon.Start(); err != nil { ... }
package glimpse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/analytics"
	"github.com/tinytelemetry/glimpse/internal/backup"
	"github.com/tinytelemetry/glimpse/internal/duckdb"
	"github.com/tinytelemetry/glimpse/internal/failure"
	"github.com/tinytelemetry/glimpse/internal/httpserver"
	"github.com/tinytelemetry/glimpse/internal/intercept"
	"github.com/tinytelemetry/glimpse/internal/recorder"
	"github.com/tinytelemetry/glimpse/internal/socketrpc"
)

// ErrClosed is returned by operations on a closed Monitor.
var ErrClosed = errors.New("glimpse: monitor closed")

// Option customizes a Monitor.
type Option func(*options)

type options struct {
	log     logr.Logger
	clients []*http.Client
	history History
	now     func() time.Time
}

// WithLogger sets the diagnostic logger. The default discards.
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHTTPClient registers clients whose transports are intercepted on
// Attach.
func WithHTTPClient(clients ...*http.Client) Option {
	return func(o *options) { o.clients = append(o.clients, clients...) }
}

// WithHistory registers the host's navigation history, wrapped on Attach.
// Route pushes through Monitor.History afterwards.
func WithHistory(h History) Option {
	return func(o *options) { o.history = h }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Monitor is one embedded monitoring instance. Create it with New; nothing
// in the host is wrapped until Attach or Start.
type Monitor struct {
	cfg  Config
	opts options
	log  logr.Logger

	store    *duckdb.Store
	rec      *recorder.Recorder
	network  *intercept.Network
	renders  *intercept.RenderTimer
	failures *failure.Observer
	client   *http.Client
	fetch    FetchFunc

	mu        sync.Mutex
	attached  bool
	closed    bool
	navs      []*intercept.Navigation
	history   History
	socket    *socketrpc.Server
	http      *httpserver.Server
	snapshots *backup.Manager
	retention *duckdb.RetentionCleaner
}

// New opens the store and builds the monitoring pipeline. The active flag
// is restored from the settings store, falling back to cfg.DefaultActive.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	o := options{log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log.GetSink() == nil {
		o.log = logr.Discard()
	}
	log := o.log.WithName("glimpse")

	store, err := duckdb.NewStore(cfg.DBPath, duckdb.StoreConfig{
		QueryTimeout: cfg.QueryTimeout,
		MaxRecords:   cfg.MaxRecords,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rec, err := recorder.New(recorder.Config{
		Store:         store,
		Settings:      store,
		Buffer:        duckdb.InsertBufferConfig{FlushInterval: cfg.FlushInterval},
		Logger:        log,
		DefaultActive: cfg.DefaultActive,
		Now:           o.now,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create recorder: %w", err)
	}

	network := intercept.NewNetwork(rec, intercept.NetworkConfig{
		MaxBodySnapshot: cfg.MaxBodySnapshot,
		Logger:          log,
	})
	m := &Monitor{
		cfg:      cfg,
		opts:     o,
		log:      log,
		store:    store,
		rec:      rec,
		network:  network,
		renders:  intercept.NewRenderTimer(rec),
		failures: failure.New(rec, log),
		client:   &http.Client{Transport: network.Transport(nil)},
		history:  o.history,
	}
	// Fetch goes through its own uninstrumented client so a call is never
	// recorded twice when the host also registered http.DefaultClient.
	m.fetch = network.WrapFetch(intercept.NewFetch(&http.Client{Transport: http.DefaultTransport}))
	return m, nil
}

// Attach wraps the registered clients and history and starts the
// configured dashboard servers. It leaves the active flag as restored.
// Interception failures are logged and skipped; only server start-up
// errors are returned. Repeated calls are no-ops.
func (m *Monitor) Attach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.attached {
		return nil
	}

	for _, c := range m.opts.clients {
		if err := m.network.Install(c); err != nil {
			m.log.Info("network interception unavailable", "error", err.Error())
		}
	}
	if m.opts.history != nil {
		nav, err := intercept.NewNavigation(m.rec, m.opts.history)
		if err != nil {
			m.log.Info("navigation interception unavailable", "error", err.Error())
		} else {
			m.navs = append(m.navs, nav)
			m.history = nav
		}
	}

	if err := m.startServersLocked(); err != nil {
		m.stopServersLocked()
		return err
	}
	m.attached = true
	return nil
}

func (m *Monitor) startServersLocked() error {
	if m.cfg.SocketPath != "" {
		m.socket = socketrpc.NewServer(m.cfg.SocketPath, m.rec, m.log)
		if err := m.socket.Start(); err != nil {
			m.socket = nil
			return fmt.Errorf("start socket server: %w", err)
		}
	}
	if m.cfg.HTTPAddr != "" {
		m.http = httpserver.NewServer(httpserver.Config{
			Addr:             m.cfg.HTTPAddr,
			Query:            m.store,
			NavigationBucket: m.cfg.NavigationBucket,
			Logger:           m.log,
		}, m.rec)
		if err := m.http.Start(); err != nil {
			m.http = nil
			return fmt.Errorf("start http server: %w", err)
		}
	}
	m.retention = duckdb.NewRetentionCleaner(m.store, duckdb.RetentionConfig{
		MaxAge: m.cfg.MaxAge,
		Logger: m.log,
	})
	snaps, err := backup.NewManager(m.store, backup.Config{
		Enabled:  m.cfg.Snapshots.Enabled,
		Interval: m.cfg.Snapshots.Interval,
		Dir:      m.cfg.Snapshots.Dir,
		KeepLast: m.cfg.Snapshots.KeepLast,
	}, m.log)
	if err != nil {
		return fmt.Errorf("start snapshots: %w", err)
	}
	if snaps != nil {
		snaps.Run()
		m.snapshots = snaps
	}
	return nil
}

func (m *Monitor) stopServersLocked() {
	if m.retention != nil {
		m.retention.Stop()
		m.retention = nil
	}
	if m.snapshots != nil {
		m.snapshots.Stop()
		m.snapshots = nil
	}
	if m.http != nil {
		if err := m.http.Stop(); err != nil {
			m.log.Error(err, "http server shutdown")
		}
		m.http = nil
	}
	if m.socket != nil {
		m.socket.Stop()
		m.socket = nil
	}
}

// Start attaches if needed and turns monitoring on.
func (m *Monitor) Start() error {
	if err := m.Attach(); err != nil {
		return err
	}
	m.rec.Start()
	return nil
}

// Stop turns monitoring off. Interceptors stay in place and pass calls
// straight through.
func (m *Monitor) Stop() { m.rec.Stop() }

// Toggle flips monitoring and returns the new state.
func (m *Monitor) Toggle() bool { return m.rec.Toggle() }

// IsActive reports whether events are being recorded.
func (m *Monitor) IsActive() bool { return m.rec.IsActive() }

// Instrument intercepts one more client. It returns an error wrapping
// ErrInterceptUnavailable when the client cannot be wrapped.
func (m *Monitor) Instrument(client *http.Client) error {
	if err := m.network.Install(client); err != nil {
		m.log.Info("network interception unavailable", "error", err.Error())
		return err
	}
	return nil
}

// HTTPClient returns a client whose every round trip is recorded.
func (m *Monitor) HTTPClient() *http.Client { return m.client }

// Fetch performs one recorded request. target is a URL string, *url.URL,
// fmt.Stringer or *http.Request.
func (m *Monitor) Fetch(ctx context.Context, target any, init *RequestInit) (*http.Response, error) {
	return m.fetch(ctx, target, init)
}

// WrapFetch returns fn wrapped so each call produces one ApiCall record.
func (m *Monitor) WrapFetch(fn FetchFunc) FetchFunc {
	return m.network.WrapFetch(fn)
}

// WrapHistory wraps h and returns the History the host should push
// through. The current location is recorded as a page view.
func (m *Monitor) WrapHistory(h History) (History, error) {
	nav, err := intercept.NewNavigation(m.rec, h)
	if err != nil {
		m.log.Info("navigation interception unavailable", "error", err.Error())
		return h, err
	}
	m.mu.Lock()
	m.navs = append(m.navs, nav)
	m.mu.Unlock()
	return nav, nil
}

// History returns the wrapped WithHistory history once attached, or the
// unwrapped one before that.
func (m *Monitor) History() History {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

// BeginRender starts timing a component render; call the returned func
// when it completes.
func (m *Monitor) BeginRender(name string, event RenderEvent) func() {
	return m.renders.Begin(name, event)
}

// Unmount records a component unmount.
func (m *Monitor) Unmount(name string) { m.renders.Unmount(name) }

// TrackModel wraps a Bubble Tea model so its Init and Update calls are
// recorded as mount and update renders.
func (m *Monitor) TrackModel(name string, model tea.Model) tea.Model {
	return intercept.TrackModel(m.rec, name, model)
}

// Recover records a panic and re-panics. Defer it directly:
//
//	defer mon.Recover()
func (m *Monitor) Recover() {
	if r := recover(); r != nil {
		m.failures.Repanic(r)
	}
}

// Go runs fn on a goroutine. A returned error is recorded as an unhandled
// rejection and a panic is recorded and swallowed.
func (m *Monitor) Go(fn func() error) { m.failures.Go(fn) }

// Wait blocks until all goroutines started with Go have returned.
func (m *Monitor) Wait() { m.failures.Wait() }

// ReportRejection records reason as an unhandled asynchronous failure.
func (m *Monitor) ReportRejection(reason any) { m.failures.ReportRejection(reason) }

// ReportError records a handled error under source.
func (m *Monitor) ReportError(err error, source string) { m.failures.Report(err, source) }

// AddCustomEvent records an application-defined event.
func (m *Monitor) AddCustomEvent(name string, details map[string]any) {
	m.rec.AddCustomEvent(name, details)
}

// Logs returns every stored record sorted by timestamp.
func (m *Monitor) Logs(ctx context.Context) ([]LogRecord, error) {
	logs, err := m.rec.AllLogs(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.SortByTimestamp(logs), nil
}

// ClearLogs deletes every record. Settings are kept.
func (m *Monitor) ClearLogs(ctx context.Context) error { return m.rec.ClearLogs(ctx) }

// Insights derives per-path insights from the stored records.
func (m *Monitor) Insights(ctx context.Context) ([]PageInsight, error) {
	logs, err := m.rec.AllLogs(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.DeriveInsights(logs), nil
}

// Summary counts the stored records by type.
func (m *Monitor) Summary(ctx context.Context) (Summary, error) {
	logs, err := m.rec.AllLogs(ctx)
	if err != nil {
		return Summary{}, err
	}
	return analytics.Summarize(logs), nil
}

// Subscribe returns a coalescing "new log" channel and its cancel func.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) { return m.rec.Subscribe() }

// WaitForLogs blocks until stored data changes after generation since.
func (m *Monitor) WaitForLogs(ctx context.Context, since uint64) (uint64, error) {
	return m.rec.WaitForLogs(ctx, since)
}

// Status reports the active flag, data generation and storage health.
func (m *Monitor) Status() Status { return m.rec.Status() }

// Theme returns the saved dashboard theme.
func (m *Monitor) Theme(ctx context.Context) string { return m.rec.Theme(ctx) }

// SetTheme saves the dashboard theme.
func (m *Monitor) SetTheme(ctx context.Context, theme string) error {
	return m.rec.SetTheme(ctx, theme)
}

// Flush blocks until every record observed so far is written.
func (m *Monitor) Flush() { m.rec.Flush() }

// SocketPath returns the socket RPC path when that server is running.
func (m *Monitor) SocketPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socket == nil {
		return ""
	}
	return m.cfg.SocketPath
}

// HTTPAddr returns the bound HTTP API address when that server is running.
func (m *Monitor) HTTPAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.http == nil {
		return ""
	}
	return m.http.Addr()
}

// Close restores every wrapped primitive, stops the servers, flushes
// pending records and closes the store.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.network.UninstallAll()
	for _, nav := range m.navs {
		nav.Close()
	}
	m.navs = nil
	m.history = m.opts.history
	m.stopServersLocked()
	m.mu.Unlock()

	m.rec.Close()
	return m.store.Close()
}
