// Package config loads and resolves the plugin configuration. Defaults are
// applied once at load time; the rest of the code receives a fully-resolved
// Config and never re-derives them.
package config

import (
	"time"
)

// Config is the fully-resolved plugin configuration.
type Config struct {
	// Workspace is the local directory whose memory files are synced.
	Workspace string `json:"workspace" mapstructure:"workspace"`

	// AgentID identifies the owning agent in multi-agent workspaces.
	AgentID string `json:"agent_id" mapstructure:"agent_id"`

	Remote  RemoteConfig  `json:"remote" mapstructure:"remote"`
	Scan    ScanConfig    `json:"scan" mapstructure:"scan"`
	Sync    SyncConfig    `json:"sync" mapstructure:"sync"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// RemoteConfig holds context-database connection settings.
type RemoteConfig struct {
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	BaseURI        string `json:"base_uri" mapstructure:"base_uri"`
	Token          string `json:"token" mapstructure:"token"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the per-call remote timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ScanConfig describes which workspace files are eligible for sync.
type ScanConfig struct {
	RootFiles  []string `json:"root_files" mapstructure:"root_files"`
	MemoryDir  string   `json:"memory_dir" mapstructure:"memory_dir"`
	SkillsDir  string   `json:"skills_dir" mapstructure:"skills_dir"`
	SkillFile  string   `json:"skill_file" mapstructure:"skill_file"`
	ExtraPaths []string `json:"extra_paths" mapstructure:"extra_paths"`
}

// SyncConfig holds reconciliation settings.
type SyncConfig struct {
	IndexConfigPath          string `json:"index_config_path" mapstructure:"index_config_path"`
	WaitForProcessing        bool   `json:"wait_for_processing" mapstructure:"wait_for_processing"`
	ProcessingTimeoutSeconds int    `json:"processing_timeout_seconds" mapstructure:"processing_timeout_seconds"`
	AdoptRemoteContent       bool   `json:"adopt_remote_content" mapstructure:"adopt_remote_content"`
	WatchFiles               bool   `json:"watch_files" mapstructure:"watch_files"`
	AutoSyncCron             string `json:"auto_sync_cron" mapstructure:"auto_sync_cron"`
}

// ProcessingTimeout returns the queue-drain wait bound.
func (s SyncConfig) ProcessingTimeout() time.Duration {
	return time.Duration(s.ProcessingTimeoutSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		AgentID: "default",
		Remote: RemoteConfig{
			BaseURL:        "http://127.0.0.1:7133",
			TimeoutSeconds: 30,
		},
		Scan: ScanConfig{
			RootFiles: []string{"MEMORY.md", "AGENTS.md"},
			MemoryDir: "memory",
			SkillsDir: "skills",
			SkillFile: "SKILL.md",
		},
		Sync: SyncConfig{
			WaitForProcessing:        true,
			ProcessingTimeoutSeconds: 120,
			AdoptRemoteContent:       true,
			WatchFiles:               false,
		},
		Logging: LoggingConfig{
			Level:   "info",
			MaxSize: 100,
			MaxAge:  7,
		},
	}
}
