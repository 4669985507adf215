package duckdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// RetentionConfig holds configuration for the age-based retention cleaner.
// The count cap is enforced on every write; this cleaner additionally drops
// records older than MaxAge.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
	Logger   logr.Logger
}

// RetentionCleaner periodically deletes records older than the configured age.
type RetentionCleaner struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	log      logr.Logger
	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner creates a retention cleaner. Returns nil when MaxAge
// is 0 (disabled).
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.MaxAge <= 0 {
		return nil
	}
	interval := conf.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	log := logr.Discard()
	if conf.Logger.GetSink() != nil {
		log = conf.Logger
	}

	rc := &RetentionCleaner{
		store:    store,
		maxAge:   conf.MaxAge,
		interval: interval,
		log:      log.WithName("retention"),
		now:      time.Now,
		done:     make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := rc.now().Add(-rc.maxAge)
	rows, err := rc.store.DeleteBefore(context.Background(), cutoff)
	if err != nil {
		rc.log.Error(err, "cleanup failed")
		return
	}
	if rows > 0 {
		rc.log.Info("deleted expired records", "rows", rows, "maxAge", rc.maxAge.String())
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}

// DeleteBefore removes records whose timestamp is older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	return res.RowsAffected()
}
