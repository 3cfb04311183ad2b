package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "chatroute"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "CHATROUTE_DATA_DIR"
	// DefaultHistoryLimit is the number of exchanges kept per open conversation.
	DefaultHistoryLimit = 200
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// LogFormatText selects the colored console handler.
	LogFormatText = "text"
	// LogFormatJSON selects the JSON handler.
	LogFormatJSON = "json"
	// DefaultDiscoveryService is the mDNS service type announced on the LAN.
	DefaultDiscoveryService = "_chatroute._tcp"
	// DefaultDiscoveryPort is advertised in the mDNS record when none is configured.
	DefaultDiscoveryPort = 9460
	// DefaultBrokerExchange is the topic exchange shared with the engine.
	DefaultBrokerExchange = "chatroute"
	// DefaultBrokerWorkers is the number of concurrent event handlers.
	DefaultBrokerWorkers = 4
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ClientConfig contains persistent local-client settings. Environment
// variables override the file values at load time but are never written back.
type ClientConfig struct {
	AccountID          string          `json:"account_id" env:"CHATROUTE_ACCOUNT_ID"`
	DisplayName        string          `json:"display_name" env:"CHATROUTE_DISPLAY_NAME"`
	FilesDir           string          `json:"files_dir" env:"CHATROUTE_FILES_DIR"`
	AutoAcceptMaxBytes int64           `json:"auto_accept_max_bytes" env:"CHATROUTE_AUTO_ACCEPT_MAX_BYTES"`
	HistoryLimit       int             `json:"history_limit" env:"CHATROUTE_HISTORY_LIMIT"`
	LogLevel           string          `json:"log_level" env:"CHATROUTE_LOG_LEVEL"`
	LogFormat          string          `json:"log_format" env:"CHATROUTE_LOG_FORMAT"`
	Discovery          DiscoveryConfig `json:"discovery"`
	Broker             BrokerConfig    `json:"broker"`
}

// DiscoveryConfig controls LAN presence over mDNS.
type DiscoveryConfig struct {
	Enabled bool   `json:"enabled" env:"CHATROUTE_DISCOVERY_ENABLED"`
	Service string `json:"service" env:"CHATROUTE_DISCOVERY_SERVICE"`
	Port    int    `json:"port" env:"CHATROUTE_DISCOVERY_PORT"`
}

// BrokerConfig locates the message broker the engine talks through.
// An empty URL disables the bridge.
type BrokerConfig struct {
	URL        string `json:"url" env:"CHATROUTE_BROKER_URL"`
	Exchange   string `json:"exchange" env:"CHATROUTE_BROKER_EXCHANGE"`
	EventQueue string `json:"event_queue" env:"CHATROUTE_BROKER_EVENT_QUEUE"`
	Workers    int    `json:"workers" env:"CHATROUTE_BROKER_WORKERS"`
	Prefetch   int    `json:"prefetch" env:"CHATROUTE_BROKER_PREFETCH"`
}

// Enabled reports whether a broker URL is configured.
func (b BrokerConfig) Enabled() bool {
	return strings.TrimSpace(b.URL) != ""
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CHATROUTE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "files"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// ApplyEnv overrides cfg with any CHATROUTE_* variables that are set.
func ApplyEnv(cfg *ClientConfig) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadOrCreate ensures directories and config exist, applies environment
// overrides, and returns the result with the config file path.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	normalizeDefaults(cfg, dataDir)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

// Validate checks values that normalization cannot repair.
func (c *ClientConfig) Validate() error {
	if c.AutoAcceptMaxBytes < 0 {
		return fmt.Errorf("auto_accept_max_bytes must be >= 0, got %d", c.AutoAcceptMaxBytes)
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	if c.Discovery.Port < 0 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery port out of range: %d", c.Discovery.Port)
	}
	return nil
}

func defaultConfig(dataDir string) *ClientConfig {
	cfg := &ClientConfig{}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func defaultDisplayName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "chatroute client"
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false
	set := func(field *string, value string) {
		if *field == "" {
			*field = value
			updated = true
		}
	}

	set(&cfg.AccountID, uuid.NewString())
	set(&cfg.DisplayName, defaultDisplayName())
	set(&cfg.FilesDir, filepath.Join(dataDir, "files"))
	set(&cfg.LogLevel, DefaultLogLevel)
	set(&cfg.LogFormat, LogFormatText)
	set(&cfg.Discovery.Service, DefaultDiscoveryService)
	set(&cfg.Broker.Exchange, DefaultBrokerExchange)
	set(&cfg.Broker.EventQueue, "chatroute.events."+cfg.AccountID)

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
		updated = true
	}
	if cfg.Discovery.Port <= 0 {
		cfg.Discovery.Port = DefaultDiscoveryPort
		updated = true
	}
	if cfg.Broker.Workers <= 0 {
		cfg.Broker.Workers = DefaultBrokerWorkers
		updated = true
	}
	if cfg.Broker.Prefetch < cfg.Broker.Workers {
		cfg.Broker.Prefetch = cfg.Broker.Workers
		updated = true
	}

	return updated
}
