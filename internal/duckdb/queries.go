package duckdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tinytelemetry/glimpse/internal/model"
)

// AllLogs returns every stored record in insertion order. Insertion order is
// not a contract across concurrent writers; callers sort by Timestamp.
func (s *Store) AllLogs(ctx context.Context) ([]model.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, type, payload FROM logs ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]model.LogRecord, 0)
	for rows.Next() {
		var (
			r       model.LogRecord
			typ     string
			payload string
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &typ, &payload); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		r.Type = model.LogType(typ)
		if err := decodePayload(&r, []byte(payload)); err != nil {
			return nil, fmt.Errorf("decode log %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalLogCount returns the number of stored records.
func (s *Store) TotalLogCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count)
	return count, err
}

// ClearLogs deletes every event record. The settings table is untouched.
func (s *Store) ClearLogs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return nil
}

func encodePayload(r *model.LogRecord) ([]byte, error) {
	if !r.Type.Valid() {
		return nil, fmt.Errorf("unknown log type %q", r.Type)
	}
	p := r.Payload()
	if p == nil {
		return nil, fmt.Errorf("missing %s payload", r.Type)
	}
	return json.Marshal(p)
}

func decodePayload(r *model.LogRecord, data []byte) error {
	var dest any
	switch r.Type {
	case model.TypePageView:
		r.PageView = &model.PageView{}
		dest = r.PageView
	case model.TypeAPICall:
		r.APICall = &model.APICall{}
		dest = r.APICall
	case model.TypeComponentRender:
		r.ComponentRender = &model.ComponentRender{}
		dest = r.ComponentRender
	case model.TypeError:
		r.Error = &model.ErrorEvent{}
		dest = r.Error
	case model.TypeCustomEvent:
		r.CustomEvent = &model.CustomEvent{}
		dest = r.CustomEvent
	default:
		return fmt.Errorf("unknown log type %q", r.Type)
	}
	return json.Unmarshal(data, dest)
}
