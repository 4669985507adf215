package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/glimpse/internal/socketrpc"
	"github.com/tinytelemetry/glimpse/pkg/glimpse"
)

const (
	defaultHTTPAddr         = "127.0.0.1:3000"
	defaultSnapshotInterval = time.Hour
	defaultSnapshotKeep     = 24
)

// demoConfig is the monitor configuration plus the demo host's own knobs.
type demoConfig struct {
	glimpse.Config `mapstructure:",squash"`

	Scenario     string `mapstructure:"scenario"`
	UpstreamAddr string `mapstructure:"upstream-addr"`
	LogDir       string `mapstructure:"log-dir"`
	Verbose      bool   `mapstructure:"verbose"`
	ConfigPath   string `mapstructure:"-"`
}

func loadConfig(configPath string) (demoConfig, error) {
	var cfg demoConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	defaults := glimpse.DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("GLIMPSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "glimpse", "glimpse.duckdb"))
	v.SetDefault("max-records", defaults.MaxRecords)
	v.SetDefault("max-age", defaults.MaxAge)
	v.SetDefault("default-active", defaults.DefaultActive)
	v.SetDefault("max-body-snapshot", defaults.MaxBodySnapshot)
	v.SetDefault("flush-interval", defaults.FlushInterval)
	v.SetDefault("query-timeout", defaults.QueryTimeout)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("http-addr", defaultHTTPAddr)
	v.SetDefault("navigation-bucket", defaults.NavigationBucket)
	v.SetDefault("snapshots.enabled", false)
	v.SetDefault("snapshots.interval", defaultSnapshotInterval)
	v.SetDefault("snapshots.dir", filepath.Join(home, ".local", "share", "glimpse", "snapshots"))
	v.SetDefault("snapshots.keep-last", defaultSnapshotKeep)
	v.SetDefault("scenario", "")
	v.SetDefault("upstream-addr", "127.0.0.1:0")
	v.SetDefault("log-dir", "")
	v.SetDefault("verbose", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "glimpse", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	for _, p := range []*string{&cfg.DBPath, &cfg.SocketPath, &cfg.Snapshots.Dir, &cfg.Scenario, &cfg.LogDir} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}
	if cfg.MaxBodySnapshot <= 0 {
		return cfg, fmt.Errorf("invalid max-body-snapshot: %d", cfg.MaxBodySnapshot)
	}
	return cfg, nil
}
