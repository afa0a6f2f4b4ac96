// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"time"
)

// Config represents the application configuration
type Config struct {
	Version string `yaml:"-" mapstructure:"-"`

	Master   InstanceConfig   `yaml:"master" mapstructure:"master"`
	Children []InstanceConfig `yaml:"children" mapstructure:"children"`
	Sync     SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Daemon   DaemonConfig     `yaml:"daemon" mapstructure:"daemon"`

	LogLevel      string `yaml:"log_level" mapstructure:"log_level"`
	LogPath       string `yaml:"log_path" mapstructure:"log_path"`
	LogMaxSize    int    `yaml:"log_max_size" mapstructure:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups" mapstructure:"log_max_backups"`

	MetricsEnabled        bool   `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	MetricsHost           string `yaml:"metrics_host" mapstructure:"metrics_host"`
	MetricsPort           int    `yaml:"metrics_port" mapstructure:"metrics_port"`
	MetricsBasicAuthUsers string `yaml:"metrics_basic_auth_users" mapstructure:"metrics_basic_auth_users"`
}

// InstanceConfig describes how to reach one qBittorrent instance.
type InstanceConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	Host           string `yaml:"host" mapstructure:"host"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	BasicUsername  string `yaml:"basic_username" mapstructure:"basic_username"`
	BasicPassword  string `yaml:"basic_password" mapstructure:"basic_password"`
	TLSSkipVerify  bool   `yaml:"tls_skip_verify" mapstructure:"tls_skip_verify"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

func (i InstanceConfig) Timeout() time.Duration {
	if i.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// Redacted returns a copy safe to log.
func (i InstanceConfig) Redacted() InstanceConfig {
	i.Password = RedactString(i.Password)
	i.BasicPassword = RedactString(i.BasicPassword)
	return i
}

type SyncConfig struct {
	MinSeedingTimeMinutes int  `yaml:"min_seeding_time_minutes" mapstructure:"min_seeding_time_minutes"`
	DryRun                bool `yaml:"dry_run" mapstructure:"dry_run"`
	// DeleteFiles also removes payload data when a child torrent is deleted.
	// Storage is shared with the master, so this is off unless asked for.
	DeleteFiles           bool   `yaml:"delete_files" mapstructure:"delete_files"`
	SkipHashCheck         bool   `yaml:"skip_hash_check" mapstructure:"skip_hash_check"`
	SyncFileSelections    bool   `yaml:"sync_file_selections" mapstructure:"sync_file_selections"`
	TreatStoppedAsRemoved bool   `yaml:"treat_stopped_as_removed" mapstructure:"treat_stopped_as_removed"`
	Exclude               string `yaml:"exclude" mapstructure:"exclude"`
	Concurrency           int    `yaml:"concurrency" mapstructure:"concurrency"`
	ConnectRetries        int    `yaml:"connect_retries" mapstructure:"connect_retries"`
}

func (s SyncConfig) MinSeeding() time.Duration {
	return time.Duration(s.MinSeedingTimeMinutes) * time.Minute
}

type DaemonConfig struct {
	RunIntervalMinutes int `yaml:"run_interval_minutes" mapstructure:"run_interval_minutes"`
}

func (d DaemonConfig) Interval() time.Duration {
	return time.Duration(d.RunIntervalMinutes) * time.Minute
}

// ChildNames returns the configured child names in order.
func (c *Config) ChildNames() []string {
	names := make([]string, 0, len(c.Children))
	for _, child := range c.Children {
		names = append(names, child.Name)
	}
	return names
}

// Instances returns the master followed by all children.
func (c *Config) Instances() []InstanceConfig {
	out := make([]InstanceConfig, 0, len(c.Children)+1)
	out = append(out, c.Master)
	return append(out, c.Children...)
}
