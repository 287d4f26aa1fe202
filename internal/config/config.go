// Package config loads and hot-swaps the recognized option set from an
// optional $DATA_DIR/config.toml, via viper. Background loops snapshot
// their sub-config at the top of each tick: a mid-tick Reload takes effect
// on the next tick, never the current one.
package config

import (
	"sync"

	"github.com/spf13/viper"

	"github.com/TokenRollAI/engram/internal/logging"
)

// CaptureMode selects how ScreenCapture picks which pixels to grab.
type CaptureMode string

const (
	PrimaryMonitor CaptureMode = "primary_monitor"
	FocusedMonitor CaptureMode = "focused_monitor"
	ActiveWindow   CaptureMode = "active_window"
)

// Config is the full recognized option set.
type Config struct {
	CaptureIntervalMs   int64       `mapstructure:"capture_interval_ms"`
	IdleThresholdMs     int64       `mapstructure:"idle_threshold_ms"`
	SimilarityThreshold int         `mapstructure:"similarity_threshold"`
	CaptureMode         CaptureMode `mapstructure:"capture_mode"`

	HotDataDays  int `mapstructure:"hot_data_days"`
	WarmDataDays int `mapstructure:"warm_data_days"`

	SummaryIntervalMin    int   `mapstructure:"summary_interval_min"`
	SessionGapThresholdMs int64 `mapstructure:"session_gap_threshold_ms"`

	VlmTaskIntervalMs int64 `mapstructure:"vlm_task_interval_ms"`
	VlmBatchSize      int   `mapstructure:"batch_size"`
	VlmConcurrency    int   `mapstructure:"concurrency"`
	VlmEnabled        bool  `mapstructure:"enabled"`

	Session SessionConfig `mapstructure:"session"`

	VlmEndpoint     string  `mapstructure:"vlm_endpoint"`
	VlmModel        string  `mapstructure:"vlm_model"`
	VlmAPIKey       string  `mapstructure:"vlm_api_key"`
	VlmMaxTokens    int     `mapstructure:"vlm_max_tokens"`
	VlmTemperature  float64 `mapstructure:"vlm_temperature"`

	EmbeddingEndpoint string `mapstructure:"embedding_endpoint"`
	EmbeddingModel    string `mapstructure:"embedding_model"`
	EmbeddingAPIKey   string `mapstructure:"embedding_api_key"`

	DailySummaryUTCHour int `mapstructure:"daily_summary_utc_hour"`
}

// SessionConfig is the `session.*` recognized option group.
type SessionConfig struct {
	ActiveWindowMs       int64   `mapstructure:"active_window_ms"`
	MaxActiveSessions    int     `mapstructure:"max_active_sessions"`
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
}

func defaults() Config {
	return Config{
		CaptureIntervalMs:        2000,
		IdleThresholdMs:          30_000,
		SimilarityThreshold:      5,
		CaptureMode:              PrimaryMonitor,
		HotDataDays:              7,
		WarmDataDays:             30,
		SummaryIntervalMin:       15,
		SessionGapThresholdMs:    300_000,
		VlmTaskIntervalMs:        5000,
		VlmBatchSize:             10,
		VlmConcurrency:           3,
		VlmEnabled:               true,
		Session: SessionConfig{
			ActiveWindowMs:      300_000,
			MaxActiveSessions:   8,
			SimilarityThreshold: 0.72,
		},
		VlmMaxTokens:             512,
		VlmTemperature:           0.3,
		DailySummaryUTCHour:      23,
	}
}

// Manager holds the live config behind a RWMutex and the viper instance
// used to re-read config.toml on Reload.
type Manager struct {
	mu   sync.RWMutex
	cur  Config
	v    *viper.Viper
	path string
}

// Load reads config.toml at path (if present; absence is not an error — the
// recognized defaults apply) and returns a Manager holding the result.
func Load(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	d := defaults()
	v.SetDefault("capture_interval_ms", d.CaptureIntervalMs)
	v.SetDefault("idle_threshold_ms", d.IdleThresholdMs)
	v.SetDefault("similarity_threshold", d.SimilarityThreshold)
	v.SetDefault("capture_mode", string(d.CaptureMode))
	v.SetDefault("hot_data_days", d.HotDataDays)
	v.SetDefault("warm_data_days", d.WarmDataDays)
	v.SetDefault("summary_interval_min", d.SummaryIntervalMin)
	v.SetDefault("session_gap_threshold_ms", d.SessionGapThresholdMs)
	v.SetDefault("vlm_task_interval_ms", d.VlmTaskIntervalMs)
	v.SetDefault("batch_size", d.VlmBatchSize)
	v.SetDefault("concurrency", d.VlmConcurrency)
	v.SetDefault("enabled", d.VlmEnabled)
	v.SetDefault("session.active_window_ms", d.Session.ActiveWindowMs)
	v.SetDefault("session.max_active_sessions", d.Session.MaxActiveSessions)
	v.SetDefault("session.similarity_threshold", d.Session.SimilarityThreshold)
	v.SetDefault("vlm_max_tokens", d.VlmMaxTokens)
	v.SetDefault("vlm_temperature", d.VlmTemperature)
	v.SetDefault("daily_summary_utc_hour", d.DailySummaryUTCHour)

	m := &Manager{v: v, path: path}
	if err := m.reloadLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads config.toml from disk and swaps the live config. A config
// file that doesn't exist (yet) is not an error; the previous values (or
// defaults) are kept.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadLocked()
}

func (m *Manager) reloadLocked() error {
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logging.Warn("config", "could not read %s: %v (using defaults)", m.path, err)
		}
	}
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return err
	}
	m.cur = cfg
	return nil
}

// Snapshot returns a copy of the current config. Background loops call
// this once at the top of each tick.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}
