package glimpse

import (
	"time"

	"github.com/tinytelemetry/glimpse/internal/intercept"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// Config holds everything a Monitor needs. Field tags match the keys of
// the glimpse config file so hosts can unmarshal it with viper.
type Config struct {
	// DBPath is the DuckDB file. Empty keeps records in memory only.
	DBPath string `mapstructure:"db-path"`
	// MaxRecords caps stored records; the oldest are evicted first.
	// Zero or negative disables the cap.
	MaxRecords int `mapstructure:"max-records"`
	// MaxAge also drops records older than this, checked hourly. Zero
	// keeps records until the cap evicts them.
	MaxAge time.Duration `mapstructure:"max-age"`
	// DefaultActive is the monitoring flag used when none has been saved.
	DefaultActive bool `mapstructure:"default-active"`
	// MaxBodySnapshot caps request and response body snapshots in bytes.
	MaxBodySnapshot int           `mapstructure:"max-body-snapshot"`
	FlushInterval   time.Duration `mapstructure:"flush-interval"`
	QueryTimeout    time.Duration `mapstructure:"query-timeout"`

	// SocketPath enables the dashboard socket RPC server when set.
	SocketPath string `mapstructure:"socket-path"`
	// HTTPAddr enables the dashboard HTTP API when set.
	HTTPAddr string `mapstructure:"http-addr"`
	// NavigationBucket is the HTTP API's default navigation chart bucket.
	NavigationBucket time.Duration `mapstructure:"navigation-bucket"`

	Snapshots SnapshotConfig `mapstructure:"snapshots"`
}

// SnapshotConfig controls periodic copies of the DuckDB file.
type SnapshotConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Dir      string        `mapstructure:"dir"`
	KeepLast int           `mapstructure:"keep-last"`
}

// DefaultConfig returns an in-memory configuration with the standard
// retention cap, monitoring on by default, and no dashboard servers.
func DefaultConfig() Config {
	return Config{
		MaxRecords:       model.DefaultMaxRecords,
		DefaultActive:    true,
		MaxBodySnapshot:  intercept.DefaultMaxBodySnapshot,
		FlushInterval:    50 * time.Millisecond,
		QueryTimeout:     30 * time.Second,
		NavigationBucket: time.Minute,
	}
}
