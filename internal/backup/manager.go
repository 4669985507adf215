// Package backup takes periodic local snapshots of the on-disk event store
// and keeps the newest few.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const (
	defaultInterval = time.Hour
	defaultKeepLast = 24

	filePrefix = "glimpse-"
	fileSuffix = ".duckdb"
	// stampLayout sorts lexically in chronological order.
	stampLayout = "20060102-150405.000"
)

// Config controls periodic snapshots.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Dir      string        `mapstructure:"dir"`
	KeepLast int           `mapstructure:"keep-last"`
}

// Snapshotter is the minimal store contract the Manager needs.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(ctx context.Context, dstPath string) error
}

// Manager runs periodic local snapshots.
type Manager struct {
	store Snapshotter
	cfg   Config
	log   logr.Logger
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager validates cfg and takes a first snapshot. It returns nil when
// snapshots are disabled. Call Run to start the periodic loop.
func NewManager(store Snapshotter, cfg Config, log logr.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, fmt.Errorf("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("backup: dir is required when snapshots are enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:  store,
		cfg:    cfg,
		log:    log.WithName("backup"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := m.RunOnce(ctx); err != nil {
		m.log.Error(err, "startup snapshot failed")
	}
	return m, nil
}

// Run starts the periodic loop. Stop ends it.
func (m *Manager) Run() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
				m.log.Error(err, "periodic snapshot failed")
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// RunOnce writes one snapshot and prunes old ones.
func (m *Manager) RunOnce(ctx context.Context) error {
	path := filepath.Join(m.cfg.Dir, filePrefix+m.now().UTC().Format(stampLayout)+fileSuffix)
	if err := m.store.SnapshotTo(ctx, path); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	m.log.V(1).Info("snapshot written", "path", path)

	if err := pruneSnapshots(m.cfg.Dir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Snapshots lists the retained snapshot files, newest first.
func (m *Manager) Snapshots() ([]string, error) {
	return listSnapshots(m.cfg.Dir)
}

// Stop terminates the periodic loop and cancels any in-flight snapshot.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func listSnapshots(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

func pruneSnapshots(dir string, keepLast int) error {
	matches, err := listSnapshots(dir)
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}
	for _, old := range matches[keepLast:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
