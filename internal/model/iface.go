package model

import "context"

// LogWriter provides append-oriented write operations for observed records.
type LogWriter interface {
	InsertLogBatch(records []*LogRecord) error
}

// LogReader provides the read side of the event store. Iteration order is
// not a contract; callers sort by Timestamp.
type LogReader interface {
	AllLogs(ctx context.Context) ([]LogRecord, error)
	TotalLogCount(ctx context.Context) (int64, error)
}

// LogStore is the full event store contract: get-all, add, clear.
type LogStore interface {
	LogWriter
	LogReader
	ClearLogs(ctx context.Context) error
}

// SettingsStore is a small scalar key-value store independent of the
// event store. Clearing logs never touches it.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// DashboardAPI is the read and control contract consumed by dashboards
// (TUI over socket RPC, HTTP API).
type DashboardAPI interface {
	AllLogs(ctx context.Context) ([]LogRecord, error)
	ClearLogs(ctx context.Context) error
	Start()
	Stop()
	Toggle() bool
	IsActive() bool
	AddCustomEvent(name string, details map[string]any)
	Generation() uint64
	WaitForLogs(ctx context.Context, since uint64) (uint64, error)
	DBError() string
	Status() Status
}
