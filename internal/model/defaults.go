package model

import "time"

// Shared defaults used by the embedding API and both binaries.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultMaxRecords     = 5000
	DefaultTheme          = "default"
)

// Settings keys.
const (
	SettingMonitoringActive = "monitoring_active"
	SettingTheme            = "theme"
)
