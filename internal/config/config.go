// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/qbtsync/internal/domain"
	"github.com/autobrr/qbtsync/internal/reconcile"
)

var envPrefix = "QBTSYNC__"

const DefaultConfigPath = "config.yaml"

// ConfigError reports a configuration that cannot be loaded or is invalid.
// It is always fatal and raised before any network call.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Overrides are command line settings that take precedence over the file and
// the environment, including after a reload.
type Overrides struct {
	DryRun  *bool
	Verbose bool
	LogPath string
}

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	path    string
	version string
	verbose bool

	mu          sync.RWMutex
	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

// New loads, validates and returns the configuration at path. Every failure
// is a *ConfigError.
func New(path string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		path:    path,
		version: version,
	}

	c.defaults()

	if err := c.load(); err != nil {
		return nil, err
	}

	if err := c.loadFromEnv(); err != nil {
		return nil, err
	}

	cfg, err := c.decode()
	if err != nil {
		return nil, err
	}
	c.Config = cfg

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("sync.min_seeding_time_minutes", 10)
	c.viper.SetDefault("sync.dry_run", false)
	c.viper.SetDefault("sync.delete_files", false)
	c.viper.SetDefault("sync.skip_hash_check", true)
	c.viper.SetDefault("sync.sync_file_selections", true)
	c.viper.SetDefault("sync.treat_stopped_as_removed", false)
	c.viper.SetDefault("sync.exclude", "")
	c.viper.SetDefault("sync.concurrency", 4)
	c.viper.SetDefault("sync.connect_retries", 3)
	c.viper.SetDefault("daemon.run_interval_minutes", 30)
	c.viper.SetDefault("log_level", "INFO")
	c.viper.SetDefault("log_path", "")
	c.viper.SetDefault("log_max_size", 50)
	c.viper.SetDefault("log_max_backups", 3)
	c.viper.SetDefault("metrics_enabled", false)
	c.viper.SetDefault("metrics_host", "127.0.0.1")
	c.viper.SetDefault("metrics_port", 9075)
	c.viper.SetDefault("metrics_basic_auth_users", "")
}

func (c *AppConfig) load() error {
	c.viper.SetConfigType("yaml")
	c.viper.SetConfigFile(c.path)

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Path: c.path, Err: fmt.Errorf("file not found, create one with `qbtsync generate-config --config %s`", c.path)}
		}
		return &ConfigError{Path: c.path, Err: fmt.Errorf("failed to read config: %w", err)}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() error {
	// Bind explicit keys only; AutomaticEnv would pick up unrelated variables.
	c.viper.BindEnv("log_level", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("log_path", envPrefix+"LOG_PATH")
	c.viper.BindEnv("log_max_size", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("log_max_backups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("metrics_enabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metrics_host", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metrics_port", envPrefix+"METRICS_PORT")
	c.viper.BindEnv("metrics_basic_auth_users", envPrefix+"METRICS_BASIC_AUTH_USERS")

	c.viper.BindEnv("sync.min_seeding_time_minutes", envPrefix+"MIN_SEEDING_TIME_MINUTES")
	c.viper.BindEnv("sync.dry_run", envPrefix+"DRY_RUN")
	c.viper.BindEnv("sync.delete_files", envPrefix+"DELETE_FILES")
	c.viper.BindEnv("sync.skip_hash_check", envPrefix+"SKIP_HASH_CHECK")
	c.viper.BindEnv("sync.sync_file_selections", envPrefix+"SYNC_FILE_SELECTIONS")
	c.viper.BindEnv("sync.treat_stopped_as_removed", envPrefix+"TREAT_STOPPED_AS_REMOVED")
	c.viper.BindEnv("sync.exclude", envPrefix+"EXCLUDE")
	c.viper.BindEnv("sync.concurrency", envPrefix+"CONCURRENCY")
	c.viper.BindEnv("daemon.run_interval_minutes", envPrefix+"RUN_INTERVAL_MINUTES")

	c.viper.BindEnv("master.host", envPrefix+"MASTER_HOST")
	c.viper.BindEnv("master.username", envPrefix+"MASTER_USERNAME")
	if err := c.bindOrReadFromFile("master.password", envPrefix+"MASTER_PASSWORD"); err != nil {
		return err
	}
	return c.bindOrReadFromFile("master.basic_password", envPrefix+"MASTER_BASIC_PASSWORD")
}

// bindOrReadFromFile binds envVar to key, or reads the value from the file
// named by envVar_FILE when that is set.
func (c *AppConfig) bindOrReadFromFile(key string, envVar string) error {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return &ConfigError{Path: c.path, Err: fmt.Errorf("could not read %s: %w", envVarFile, err)}
		}
		c.viper.Set(key, strings.TrimSpace(string(content)))
		return nil
	}

	c.viper.BindEnv(key, envVar)
	return nil
}

// decode unmarshals the current viper state into a fresh config and validates it.
func (c *AppConfig) decode() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Path: c.path, Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}
	cfg.Version = c.version

	if err := Validate(cfg); err != nil {
		return nil, &ConfigError{Path: c.path, Err: err}
	}
	return cfg, nil
}

// Validate fills in default instance names and checks the config for
// problems that would make a pass impossible.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Master.Name == "" {
		cfg.Master.Name = "master"
	}
	if cfg.Master.Host == "" {
		errs = append(errs, errors.New("master.host is required"))
	}
	if cfg.Master.Username == "" {
		errs = append(errs, errors.New("master.username is required"))
	}
	if cfg.Master.Password == "" {
		errs = append(errs, errors.New("master.password is required"))
	}

	if len(cfg.Children) == 0 {
		errs = append(errs, errors.New("at least one child is required"))
	}

	seen := map[string]struct{}{cfg.Master.Name: {}}
	for i := range cfg.Children {
		child := &cfg.Children[i]
		if child.Name == "" {
			child.Name = fmt.Sprintf("child-%d", i+1)
		}
		if child.Host == "" {
			errs = append(errs, fmt.Errorf("children[%d] (%s): host is required", i, child.Name))
		}
		if _, dup := seen[child.Name]; dup {
			errs = append(errs, fmt.Errorf("children[%d]: duplicate instance name %q", i, child.Name))
		}
		seen[child.Name] = struct{}{}
	}

	if cfg.Sync.MinSeedingTimeMinutes < 0 {
		errs = append(errs, errors.New("sync.min_seeding_time_minutes must not be negative"))
	}
	if cfg.Sync.Concurrency < 1 {
		errs = append(errs, errors.New("sync.concurrency must be at least 1"))
	}
	if cfg.Sync.ConnectRetries < 0 {
		errs = append(errs, errors.New("sync.connect_retries must not be negative"))
	}
	if cfg.Daemon.RunIntervalMinutes < 1 {
		errs = append(errs, errors.New("daemon.run_interval_minutes must be at least 1"))
	}
	if _, err := reconcile.CompileExclude(cfg.Sync.Exclude); err != nil {
		errs = append(errs, fmt.Errorf("invalid sync.exclude: %w", err))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level %q", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

// ApplyOverrides layers command line settings on top of the loaded config.
func (c *AppConfig) ApplyOverrides(o Overrides) error {
	if o.DryRun != nil {
		c.viper.Set("sync.dry_run", *o.DryRun)
	}
	if o.LogPath != "" {
		c.viper.Set("log_path", o.LogPath)
	}
	c.verbose = o.Verbose

	cfg, err := c.decode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.Config = cfg
	c.mu.Unlock()
	return nil
}

// Current returns a copy of the active configuration.
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// Path returns the config file in use.
func (c *AppConfig) Path() string {
	return c.path
}

// Watch reloads the config when the file changes. Invalid edits are logged
// and ignored, keeping the last good config.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)
		c.reload()
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) reload() {
	cfg, err := c.decode()
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload configuration, keeping previous settings")
		return
	}

	c.mu.Lock()
	previous := c.Config
	c.Config = cfg
	c.mu.Unlock()

	if instancesChanged(previous, cfg) {
		log.Warn().Msg("Instance list changed; restart qbtsync to apply connection changes")
	}

	c.ApplyLogConfig()
	c.notifyListeners()
}

func instancesChanged(a, b *domain.Config) bool {
	if a.Master != b.Master || len(a.Children) != len(b.Children) {
		return true
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			return true
		}
	}
	return false
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Current()
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.yaml - generated by qbtsync {{ .version }}

# The instance every child is reconciled against.
master:
  name: master
  host: "http://localhost:8080"
  username: admin
  password: ""
  # basic_username: ""
  # basic_password: ""
  # tls_skip_verify: false
  # timeout_seconds: 60

# Instances that mirror the master. Names default to child-1, child-2, ...
children:
  - name: child-1
    host: "http://localhost:8081"
    username: admin
    password: ""

sync:
  # Master torrents must have seeded this long before they are mirrored.
  min_seeding_time_minutes: {{ .minSeeding }}
  # Report planned changes without applying them.
  dry_run: false
  # Also delete payload data when removing torrents from a child.
  # Storage is shared with the master, so leave this off unless you know better.
  delete_files: false
  skip_hash_check: {{ .skipHashCheck }}
  # Mirror per-file wanted/unwanted selection.
  sync_file_selections: {{ .syncFileSelections }}
  # Remove child copies of torrents that are stopped on the master.
  treat_stopped_as_removed: false
  # Expression selecting master torrents that are never mirrored.
  # Fields: Hash, Name, Category, SavePath, DownloadPath, State, SeedingMinutes, Progress
  # exclude: 'Category == "private"'
  # Children reconciled in parallel.
  concurrency: {{ .concurrency }}
  connect_retries: {{ .connectRetries }}

daemon:
  run_interval_minutes: {{ .interval }}

# Options: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
log_level: "{{ .logLevel }}"
# log_path: "log/qbtsync.log"
# log_max_size: {{ .logMaxSize }}
# log_max_backups: {{ .logMaxBackups }}

# Prometheus metrics, served in daemon mode only.
# metrics_enabled: false
# metrics_host: "127.0.0.1"
# metrics_port: {{ .metricsPort }}
# metrics_basic_auth_users: "user:password"
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	data := map[string]any{
		"version":            c.version,
		"minSeeding":         c.viper.GetInt("sync.min_seeding_time_minutes"),
		"skipHashCheck":      c.viper.GetBool("sync.skip_hash_check"),
		"syncFileSelections": c.viper.GetBool("sync.sync_file_selections"),
		"concurrency":        c.viper.GetInt("sync.concurrency"),
		"connectRetries":     c.viper.GetInt("sync.connect_retries"),
		"interval":           c.viper.GetInt("daemon.run_interval_minutes"),
		"logLevel":           c.viper.GetString("log_level"),
		"logMaxSize":         c.viper.GetInt("log_max_size"),
		"logMaxBackups":      c.viper.GetInt("log_max_backups"),
		"metricsPort":        c.viper.GetInt("metrics_port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// WriteDefaultConfig writes a commented starter config to path. It refuses
// to overwrite an existing file.
func WriteDefaultConfig(path string, version string) error {
	c := &AppConfig{
		viper:   viper.New(),
		version: version,
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := c.Current()
	level := cfg.LogLevel
	if c.verbose {
		level = "debug"
	}
	setLogLevel(level)

	writer := c.baseLogWriter()

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) || term.IsTerminal(int(os.Stderr.Fd())) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}
