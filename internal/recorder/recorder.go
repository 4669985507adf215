// Package recorder is the single write path for observed events. It owns
// the monitoring-active flag, stamps ids and timestamps, hands records to
// the async insert buffer, and broadcasts "new log" hints once they land.
package recorder

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/tinytelemetry/glimpse/internal/duckdb"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// Config wires a Recorder to its stores.
type Config struct {
	Store    model.LogStore
	Settings model.SettingsStore
	Buffer   duckdb.InsertBufferConfig
	Logger   logr.Logger

	// DefaultActive is used when the settings store has no saved flag.
	DefaultActive bool

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Recorder is the logging facade. All observation funnels through it.
type Recorder struct {
	store    model.LogStore
	settings model.SettingsStore
	buffer   *duckdb.InsertBuffer
	bcast    *Broadcaster
	log      logr.Logger
	now      func() time.Time
	newID    func() string

	// stateMu orders flag flips with their persisted copy.
	stateMu sync.Mutex
	active  atomic.Bool
	dbErr   atomic.Pointer[string]

	listenersMu sync.Mutex
	listeners   []func(active bool)
}

var _ model.DashboardAPI = (*Recorder)(nil)

// New creates a Recorder. The active flag starts from the settings store,
// falling back to cfg.DefaultActive. Nothing is recorded until the flag is on.
func New(cfg Config) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("recorder: nil store")
	}
	r := &Recorder{
		store:    cfg.Store,
		settings: cfg.Settings,
		bcast:    NewBroadcaster(),
		log:      logr.Discard(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if cfg.Logger.GetSink() != nil {
		r.log = cfg.Logger.WithName("recorder")
	}
	if cfg.Now != nil {
		r.now = cfg.Now
	}
	if cfg.NewID != nil {
		r.newID = cfg.NewID
	}

	bufCfg := cfg.Buffer
	bufCfg.Logger = r.log
	bufCfg.OnFlush = r.onFlush
	bufCfg.OnError = r.onWriteError
	r.buffer = duckdb.NewInsertBuffer(cfg.Store, bufCfg)

	active, saved := r.loadActive(cfg.DefaultActive)
	r.active.Store(active)
	if !saved {
		r.persistActive(active)
	}
	return r, nil
}

// loadActive reads the saved flag. saved is false when the default was used.
func (r *Recorder) loadActive(def bool) (active, saved bool) {
	if r.settings == nil {
		return def, true
	}
	v, ok, err := r.settings.GetSetting(context.Background(), model.SettingMonitoringActive)
	if err != nil {
		r.setDBError(err)
		return def, true
	}
	if !ok {
		return def, false
	}
	active, err = strconv.ParseBool(v)
	if err != nil {
		r.log.Info("ignoring malformed saved flag", "value", v)
		return def, false
	}
	return active, true
}

// Close flushes buffered records and stops the insert buffer.
func (r *Recorder) Close() {
	r.buffer.Stop()
}

// Flush blocks until every record handed to the recorder so far has been
// written (or failed).
func (r *Recorder) Flush() {
	r.buffer.Flush()
}

// IsActive reports whether observation is on.
func (r *Recorder) IsActive() bool {
	return r.active.Load()
}

// Start turns observation on. Repeated calls are no-ops.
func (r *Recorder) Start() { r.SetActive(true) }

// Stop turns observation off. Repeated calls are no-ops.
func (r *Recorder) Stop() { r.SetActive(false) }

// Toggle flips the active flag and returns the new state.
func (r *Recorder) Toggle() bool {
	r.stateMu.Lock()
	next := !r.active.Load()
	r.active.Store(next)
	r.persistActive(next)
	r.stateMu.Unlock()

	r.stateChanged(next)
	return next
}

// SetActive sets the flag and persists it. Listeners fire only on change.
func (r *Recorder) SetActive(active bool) {
	r.stateMu.Lock()
	if r.active.Load() == active {
		r.stateMu.Unlock()
		return
	}
	r.active.Store(active)
	r.persistActive(active)
	r.stateMu.Unlock()

	r.stateChanged(active)
}

func (r *Recorder) stateChanged(active bool) {
	r.listenersMu.Lock()
	listeners := append([]func(bool){}, r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(active)
	}
	r.log.V(1).Info("monitoring state changed", "active", active)
}

func (r *Recorder) persistActive(active bool) {
	if r.settings == nil {
		return
	}
	if err := r.settings.SetSetting(context.Background(), model.SettingMonitoringActive, strconv.FormatBool(active)); err != nil {
		r.setDBError(err)
	}
}

// OnStateChange registers fn to run after every active-flag change.
func (r *Recorder) OnStateChange(fn func(active bool)) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Theme returns the saved theme preference.
func (r *Recorder) Theme(ctx context.Context) string {
	if r.settings == nil {
		return model.DefaultTheme
	}
	v, ok, err := r.settings.GetSetting(ctx, model.SettingTheme)
	if err != nil {
		r.setDBError(err)
		return model.DefaultTheme
	}
	if !ok || v == "" {
		return model.DefaultTheme
	}
	return v
}

// SetTheme saves the theme preference.
func (r *Recorder) SetTheme(ctx context.Context, theme string) error {
	if r.settings == nil {
		return nil
	}
	if err := r.settings.SetSetting(ctx, model.SettingTheme, theme); err != nil {
		r.setDBError(err)
		return err
	}
	return nil
}

// Record composes a record for payload and hands it to the store. It is a
// no-op while inactive. payload must be one of the model payload types
// (value or pointer); anything else is logged and dropped.
func (r *Recorder) Record(payload any) {
	if !r.active.Load() {
		return
	}
	rec := &model.LogRecord{
		ID:        r.newID(),
		Timestamp: r.now().UnixMilli(),
	}
	switch p := payload.(type) {
	case model.PageView:
		rec.Type, rec.PageView = model.TypePageView, &p
	case *model.PageView:
		rec.Type, rec.PageView = model.TypePageView, p
	case model.APICall:
		rec.Type, rec.APICall = model.TypeAPICall, &p
	case *model.APICall:
		rec.Type, rec.APICall = model.TypeAPICall, p
	case model.ComponentRender:
		rec.Type, rec.ComponentRender = model.TypeComponentRender, &p
	case *model.ComponentRender:
		rec.Type, rec.ComponentRender = model.TypeComponentRender, p
	case model.ErrorEvent:
		rec.Type, rec.Error = model.TypeError, &p
	case *model.ErrorEvent:
		rec.Type, rec.Error = model.TypeError, p
	case model.CustomEvent:
		rec.Type, rec.CustomEvent = model.TypeCustomEvent, &p
	case *model.CustomEvent:
		rec.Type, rec.CustomEvent = model.TypeCustomEvent, p
	default:
		r.log.Info("dropping unsupported payload", "type", fmt.Sprintf("%T", payload))
		return
	}
	if rec.Payload() == nil {
		return
	}
	r.buffer.Add(rec)
}

// RecordPageView records a navigation to path.
func (r *Recorder) RecordPageView(path, referrer string) {
	r.Record(model.PageView{Path: path, Referrer: referrer})
}

// RecordAPICall records one settled network call.
func (r *Recorder) RecordAPICall(call model.APICall) {
	r.Record(call)
}

// RecordComponentRender records a component lifecycle event.
func (r *Recorder) RecordComponentRender(name string, event model.RenderEvent, duration time.Duration) {
	ms := float64(duration) / float64(time.Millisecond)
	if event == model.RenderUnmount {
		ms = 0
	}
	r.Record(model.ComponentRender{ComponentName: name, EventType: event, Duration: ms})
}

// RecordError records a failure.
func (r *Recorder) RecordError(message, stack, source string) {
	r.Record(model.ErrorEvent{Message: message, Stack: stack, Source: source})
}

// RecordCustomEvent records an application-defined event.
func (r *Recorder) RecordCustomEvent(name string, details map[string]any) {
	r.Record(model.CustomEvent{EventName: name, Details: details})
}

// AddCustomEvent is the dashboard's "add synthetic log" command.
func (r *Recorder) AddCustomEvent(name string, details map[string]any) {
	r.RecordCustomEvent(name, details)
}

// AllLogs returns every stored record. Order is unspecified.
func (r *Recorder) AllLogs(ctx context.Context) ([]model.LogRecord, error) {
	logs, err := r.store.AllLogs(ctx)
	if err != nil {
		r.setDBError(err)
		return nil, err
	}
	return logs, nil
}

// ClearLogs deletes every event record. Settings are untouched.
func (r *Recorder) ClearLogs(ctx context.Context) error {
	// Pending records were observed before the clear; drop them with the rest.
	r.buffer.Flush()
	if err := r.store.ClearLogs(ctx); err != nil {
		r.setDBError(err)
		return err
	}
	r.bcast.Notify()
	return nil
}

// Subscribe returns a coalescing "new log" hint channel.
func (r *Recorder) Subscribe() (<-chan struct{}, func()) {
	return r.bcast.Subscribe()
}

// Generation returns a counter that moves whenever stored data changes.
func (r *Recorder) Generation() uint64 {
	return r.bcast.Generation()
}

// WaitForLogs blocks until the data generation moves past since.
func (r *Recorder) WaitForLogs(ctx context.Context, since uint64) (uint64, error) {
	return r.bcast.Wait(ctx, since)
}

// DBError returns the last storage failure, or "" when storage is healthy.
func (r *Recorder) DBError() string {
	if p := r.dbErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Status snapshots the control state for dashboards.
func (r *Recorder) Status() model.Status {
	return model.Status{
		Active:     r.IsActive(),
		Generation: r.Generation(),
		DBError:    r.DBError(),
	}
}

func (r *Recorder) setDBError(err error) {
	msg := "database error: " + err.Error()
	r.dbErr.Store(&msg)
	r.log.Error(err, "storage failure")
}

func (r *Recorder) onFlush(int) {
	r.dbErr.Store(nil)
	r.bcast.Notify()
}

func (r *Recorder) onWriteError(err error) {
	r.setDBError(err)
}
