package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
)

type Config struct {
	Applications map[string]ApplicationConfig `yaml:"applications"`
	NodeGroups   map[string][]string          `yaml:"node_groups"`
	Rsync        RsyncConfig                  `yaml:"rsync"`
	Storage      StorageConfig                `yaml:"storage"`
	Database     DatabaseConfig               `yaml:"database"`
	Server       ServerConfig                 `yaml:"server"`
	Logging      LoggingConfig                `yaml:"logging"`

	mu       sync.RWMutex
	watchers []chan<- struct{}
}

// ApplicationConfig names the remote log locations for one application.
type ApplicationConfig struct {
	LogPaths []string `yaml:"log_paths"`
}

type RsyncConfig struct {
	MaxParallel        int             `yaml:"max_parallel"`
	RetryCount         int             `yaml:"retry_count"`
	RetryDelay         time.Duration   `yaml:"retry_delay"`
	Timeout            time.Duration   `yaml:"timeout"`
	ListTimeout        time.Duration   `yaml:"list_timeout"`
	SSHUser            string          `yaml:"ssh_user"`
	SSHPort            int             `yaml:"ssh_port"`
	SSHKeyFile         string          `yaml:"ssh_key_file"`
	StrictHostKeyCheck bool            `yaml:"strict_host_key_checking"`
	Gateways           []GatewayConfig `yaml:"gateways"`
	Flags              []string        `yaml:"flags"`
}

type GatewayConfig struct {
	Host string `yaml:"host"`
	User string `yaml:"user"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	BaseDir      string `yaml:"base_dir"`
	ArchiveDir   string `yaml:"archive_dir"`
	FailureLog   string `yaml:"failure_log"`
	MinFreeBytes int64  `yaml:"min_free_bytes"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// Load loads configuration from file with environment variable expansion.
// The first successful load starts a watcher that hot-reloads on change.
func Load(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		globalConfig, err = loadConfig(configPath)
		if err == nil && globalConfig != nil {
			go globalConfig.watchConfig(configPath)
		}
	})
	return globalConfig, err
}

func loadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Rsync.MaxParallel == 0 {
		c.Rsync.MaxParallel = 5
	}
	if c.Rsync.RetryCount == 0 {
		c.Rsync.RetryCount = 3
	}
	if c.Rsync.RetryDelay == 0 {
		c.Rsync.RetryDelay = 5 * time.Second
	}
	if c.Rsync.Timeout == 0 {
		c.Rsync.Timeout = 5 * time.Minute
	}
	if c.Rsync.ListTimeout == 0 {
		c.Rsync.ListTimeout = 30 * time.Second
	}
	if c.Rsync.SSHUser == "" {
		c.Rsync.SSHUser = "root"
	}
	if c.Rsync.SSHPort == 0 {
		c.Rsync.SSHPort = 22
	}
	if len(c.Rsync.Flags) == 0 {
		c.Rsync.Flags = []string{"-a", "--progress"}
	}
	for i := range c.Rsync.Gateways {
		if c.Rsync.Gateways[i].User == "" {
			c.Rsync.Gateways[i].User = c.Rsync.SSHUser
		}
		if c.Rsync.Gateways[i].Port == 0 {
			c.Rsync.Gateways[i].Port = 22
		}
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = "logs"
	}
	if c.Storage.ArchiveDir == "" {
		c.Storage.ArchiveDir = filepath.Join(c.Storage.BaseDir, "archives")
	}
	if c.Storage.FailureLog == "" {
		c.Storage.FailureLog = filepath.Join(c.Storage.BaseDir, "failures.log")
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8470
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Rsync.MaxParallel <= 0 {
		return fmt.Errorf("rsync.max_parallel must be greater than 0")
	}
	if c.Rsync.RetryCount <= 0 {
		return fmt.Errorf("rsync.retry_count must be greater than 0")
	}
	if c.Rsync.SSHPort <= 0 || c.Rsync.SSHPort > 65535 {
		return fmt.Errorf("invalid rsync.ssh_port: %d", c.Rsync.SSHPort)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for name, app := range c.Applications {
		if len(app.LogPaths) == 0 {
			return fmt.Errorf("application %q has no log_paths", name)
		}
	}

	for group, apps := range c.NodeGroups {
		for _, app := range apps {
			if _, ok := c.Applications[app]; !ok {
				return fmt.Errorf("node group %q references unknown application %q", group, app)
			}
		}
	}

	return nil
}

func (c *Config) ensureDirectories() error {
	dirs := []string{
		c.Storage.BaseDir,
		c.Storage.ArchiveDir,
		filepath.Dir(c.Storage.FailureLog),
	}

	if c.Database.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplicationsForGroup returns the applications collected from members of a
// node group. The pseudo-group "_all_nodes" applies to every host.
func (c *Config) ApplicationsForGroup(group string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.NodeGroups[group]
}

// LogPathsForApplication returns the remote paths configured for an
// application, or nil if the application is unknown.
func (c *Config) LogPathsForApplication(app string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Applications[app].LogPaths
}

// AppStoragePath returns the local destination for one (host, application)
// pair: <base>/<host>/<application>.
func (c *Config) AppStoragePath(host, app string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(c.Storage.BaseDir, host, app)
}

// WatchForChanges registers a channel notified whenever the config file is
// reloaded.
func (c *Config) WatchForChanges() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	c.watchers = append(c.watchers, ch)
	return ch
}

func (c *Config) watchConfig(configPath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		return
	}
	defer watcher.Close()

	configDir := filepath.Dir(configPath)
	if err := watcher.Add(configDir); err != nil {
		slog.Error("failed to watch config directory", "error", err, "path", configDir)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) == filepath.Base(configPath) &&
				(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				slog.Info("config file changed, reloading", "file", configPath)

				// Small delay to ensure the write is complete.
				time.Sleep(100 * time.Millisecond)

				if err := c.reload(configPath); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					c.notifyWatchers()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (c *Config) reload(configPath string) error {
	newConfig, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Applications = newConfig.Applications
	c.NodeGroups = newConfig.NodeGroups
	c.Rsync = newConfig.Rsync
	c.Storage = newConfig.Storage
	c.Database = newConfig.Database
	c.Server = newConfig.Server
	c.Logging = newConfig.Logging

	slog.Info("configuration reloaded successfully")
	return nil
}

func (c *Config) notifyWatchers() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, watcher := range c.watchers {
		select {
		case watcher <- struct{}{}:
		default:
		}
	}
}

func (c *Config) GetRsync() RsyncConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rsync
}

func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}
