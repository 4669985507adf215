package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

const (
	defaultBatchSize     = 256
	defaultFlushInterval = 50 * time.Millisecond
)

// InsertBuffer batches log records and flushes them to DuckDB asynchronously.
// Add() never blocks on DuckDB writes - records are sent to a flush goroutine.
type InsertBuffer struct {
	writer        model.LogWriter
	log           logr.Logger
	onFlush       func(n int)
	onError       func(err error)
	mu            sync.Mutex
	pending       []*model.LogRecord
	inflight      int
	idle          *sync.Cond
	flushChan     chan []*model.LogRecord
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Logger         logr.Logger
	// OnFlush is called after a batch of n records has been persisted.
	OnFlush func(n int)
	// OnError is called when a batch could not be persisted.
	OnError func(err error)
}

// NewInsertBuffer creates a new insert buffer that flushes to writer.
func NewInsertBuffer(writer model.LogWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := defaultBatchSize
	flushInterval := defaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	log := logr.Discard()
	var onFlush func(int)
	var onError func(error)
	if len(conf) > 0 {
		c := conf[0]
		if c.BatchSize > 0 {
			batchSize = c.BatchSize
		}
		if c.FlushInterval > 0 {
			flushInterval = c.FlushInterval
		}
		if c.FlushQueueSize > 0 {
			flushQueueSize = c.FlushQueueSize
		}
		if c.Logger.GetSink() != nil {
			log = c.Logger
		}
		onFlush = c.OnFlush
		onError = c.OnError
	}

	b := &InsertBuffer{
		writer:        writer,
		log:           log.WithName("insert-buffer"),
		onFlush:       onFlush,
		onError:       onError,
		pending:       make([]*model.LogRecord, 0, batchSize),
		flushChan:     make(chan []*model.LogRecord, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		b.log.Info("backpressure: flush channel full, flushing inline", "inlineFlushes", count)
	}
}

// takePending detaches the pending slice and marks it in flight.
func (b *InsertBuffer) takePending() []*model.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]*model.LogRecord, 0, b.maxBatch)
	b.inflight++
	return batch
}

// drainPending moves pending records to the flush channel without blocking on DuckDB.
func (b *InsertBuffer) drainPending() {
	batch := b.takePending()
	if batch == nil {
		return
	}
	b.dispatch(batch)
}

func (b *InsertBuffer) dispatch(batch []*model.LogRecord) {
	// If the channel is full DuckDB is falling behind; flush synchronously.
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		b.flushBatch(batch)
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// Add queues a record for batch insertion. This never blocks on DuckDB IO.
// Records added after Stop are dropped.
func (b *InsertBuffer) Add(record *model.LogRecord) {
	select {
	case <-b.done:
		b.log.V(1).Info("dropping record after stop", "id", record.ID)
		return
	default:
	}

	b.mu.Lock()
	b.pending = append(b.pending, record)
	shouldFlush := len(b.pending) >= b.maxBatch
	b.mu.Unlock()

	if shouldFlush {
		b.drainPending()
	}
}

// Flush persists every record added so far and waits for the writes to
// settle, successfully or not.
func (b *InsertBuffer) Flush() {
	if batch := b.takePending(); batch != nil {
		b.flushBatch(batch)
	}
	b.mu.Lock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.mu.Unlock()
}

// Stop flushes remaining records and waits for all writes to complete.
// It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// The tick loop performs the final drain before flushChan closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

func (b *InsertBuffer) flushBatch(batch []*model.LogRecord) {
	defer func() {
		b.mu.Lock()
		b.inflight--
		if b.inflight == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}()

	if err := b.writer.InsertLogBatch(batch); err != nil {
		b.log.Error(err, "flush failed", "records", len(batch))
		if b.onError != nil {
			b.onError(err)
		}
		return
	}
	if b.onFlush != nil {
		b.onFlush(len(batch))
	}
}

// InsertLogBatch appends a batch of records in a single transaction and then
// enforces the retention cap. If the batch fails it is retried
// record-by-record to salvage as many records as possible; the error is
// returned only when nothing could be written.
func (s *Store) InsertLogBatch(records []*model.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, records)
	if err == nil {
		return nil
	}

	var failed int
	var lastErr error
	for _, r := range records {
		if rerr := s.insertBatchTx(ctx, []*model.LogRecord{r}); rerr != nil {
			failed++
			lastErr = rerr
			s.log.Error(rerr, "dropping record", "id", r.ID, "type", r.Type)
		}
	}
	if failed == len(records) {
		return fmt.Errorf("insert batch: %w", lastErr)
	}
	if failed > 0 {
		s.log.Info("batch partially failed", "dropped", failed, "total", len(records))
	}
	return nil
}

// insertBatchTx inserts records and evicts overflow in a single transaction.
func (s *Store) insertBatchTx(ctx context.Context, records []*model.LogRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs (id, timestamp, type, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		payload, err := encodePayload(r)
		if err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Timestamp, string(r.Type), string(payload)); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := s.evictOverflow(ctx, tx); err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// evictOverflow deletes the oldest records (by timestamp, then insertion
// order) until the table holds at most maxRecords rows.
func (s *Store) evictOverflow(ctx context.Context, tx *sql.Tx) error {
	if s.maxRecords <= 0 {
		return nil
	}
	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		return err
	}
	excess := count - int64(s.maxRecords)
	if excess <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM logs WHERE id IN (
			SELECT id FROM logs ORDER BY timestamp ASC, seq ASC LIMIT ?
		)`, excess)
	return err
}
