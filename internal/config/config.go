// Package config loads and saves the uploader configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/seqlab/run-uploader/internal/constants"
)

// Config is the uploader configuration.
//
// Config file location:
//   - Windows: %APPDATA%\run-uploader\uploader.conf
//   - Unix: ~/.config/run-uploader/uploader.conf
//
// INI format:
//
//	[server]
//	base_url = https://irida.example.org/api
//	client_id = uploader
//	client_secret = secret
//	username = admin
//	password = password1
//
//	[uploader]
//	watch_directory = /data/miseq
//	poll_interval_seconds = 30
//	sheet_name = SampleSheet.csv
//	sequence_subdir = Data/Intensities/BaseCalls
//	max_concurrent_runs = 2
//	use_fsnotify = true
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 0
//	user =
//	password =
//	no_proxy = localhost,127.0.0.1
//
//	[logging]
//	file =
//	verbose = false
type Config struct {
	Server   ServerConfig
	Uploader UploaderConfig
	Proxy    ProxyConfig
	Logging  LoggingConfig
}

// ServerConfig holds the remote service endpoint and credentials.
type ServerConfig struct {
	// BaseURL is the API root, e.g. https://host/api.
	BaseURL      string `ini:"base_url"`
	ClientID     string `ini:"client_id"`
	ClientSecret string `ini:"client_secret"`
	Username     string `ini:"username"`
	Password     string `ini:"password"`
}

// UploaderConfig controls discovery and the watcher.
type UploaderConfig struct {
	WatchDirectory string `ini:"watch_directory"`

	// PollIntervalSeconds is the watcher poll interval.
	// Minimum: 5, Default: 30
	PollIntervalSeconds int `ini:"poll_interval_seconds"`

	SheetName      string `ini:"sheet_name"`
	SequenceSubdir string `ini:"sequence_subdir"`

	// MaxConcurrentRuns bounds how many runs upload at once.
	// Minimum: 1, Maximum: 8, Default: 2
	MaxConcurrentRuns int `ini:"max_concurrent_runs"`

	// UseFsnotify wakes the watcher early on filesystem events.
	UseFsnotify bool `ini:"use_fsnotify"`
}

// ProxyConfig selects how HTTP traffic reaches the server.
type ProxyConfig struct {
	// Mode is one of no-proxy, system, basic, ntlm.
	Mode     string `ini:"mode"`
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`

	// NoProxy is a comma-separated bypass list (hosts, domains, CIDRs).
	NoProxy string `ini:"no_proxy"`

	// Warmup sends one request through the proxy before first use.
	Warmup bool `ini:"warmup"`
}

// LoggingConfig controls the log sinks.
type LoggingConfig struct {
	// File, when set, receives a rotated copy of the log.
	File    string `ini:"file"`
	Verbose bool   `ini:"verbose"`
}

// Proxy modes.
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// Validation errors
var (
	ErrMissingBaseURL        = errors.New("server base_url is required")
	ErrInvalidBaseURL        = errors.New("server base_url must start with http:// or https://")
	ErrMissingCredentials    = errors.New("server username and password are required")
	ErrMissingClientID       = errors.New("server client_id is required")
	ErrInvalidPollInterval   = errors.New("poll_interval_seconds must be at least 5")
	ErrInvalidMaxConcurrent  = errors.New("max_concurrent_runs must be between 1 and 8")
	ErrInvalidProxyMode      = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost      = errors.New("proxy host is required for basic and ntlm modes")
	ErrMissingWatchDirectory = errors.New("uploader watch_directory is required")
	errMissingHome           = errors.New("failed to determine home directory")
)

// DefaultConfigPath returns the default location of uploader.conf.
func DefaultConfigPath() (string, error) {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "run-uploader", "uploader.conf"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errMissingHome, err)
	}
	return filepath.Join(home, ".config", "run-uploader", "uploader.conf"), nil
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Uploader: UploaderConfig{
			PollIntervalSeconds: int(constants.DefaultPollInterval / time.Second),
			SheetName:           constants.SheetFileName,
			SequenceSubdir:      constants.SequenceSubdir,
			MaxConcurrentRuns:   constants.DefaultMaxConcurrentRuns,
			UseFsnotify:         true,
		},
		Proxy: ProxyConfig{
			Mode: ProxyModeNone,
		},
	}
}

// Load reads path into a config seeded with defaults.
// If path is empty, uses the default path.
// A missing file yields the defaults and no error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	server := f.Section("server")
	cfg.Server.BaseURL = strings.TrimRight(server.Key("base_url").String(), "/")
	cfg.Server.ClientID = server.Key("client_id").String()
	cfg.Server.ClientSecret = server.Key("client_secret").String()
	cfg.Server.Username = server.Key("username").String()
	cfg.Server.Password = server.Key("password").String()

	up := f.Section("uploader")
	cfg.Uploader.WatchDirectory = up.Key("watch_directory").String()
	cfg.Uploader.PollIntervalSeconds = up.Key("poll_interval_seconds").MustInt(cfg.Uploader.PollIntervalSeconds)
	cfg.Uploader.SheetName = up.Key("sheet_name").MustString(cfg.Uploader.SheetName)
	cfg.Uploader.SequenceSubdir = up.Key("sequence_subdir").MustString(cfg.Uploader.SequenceSubdir)
	cfg.Uploader.MaxConcurrentRuns = up.Key("max_concurrent_runs").MustInt(cfg.Uploader.MaxConcurrentRuns)
	cfg.Uploader.UseFsnotify = up.Key("use_fsnotify").MustBool(cfg.Uploader.UseFsnotify)

	proxy := f.Section("proxy")
	cfg.Proxy.Mode = strings.ToLower(proxy.Key("mode").MustString(ProxyModeNone))
	cfg.Proxy.Host = proxy.Key("host").String()
	cfg.Proxy.Port = proxy.Key("port").MustInt(0)
	cfg.Proxy.User = proxy.Key("user").String()
	cfg.Proxy.Password = proxy.Key("password").String()
	cfg.Proxy.NoProxy = proxy.Key("no_proxy").String()
	cfg.Proxy.Warmup = proxy.Key("warmup").MustBool(false)

	logging := f.Section("logging")
	cfg.Logging.File = logging.Key("file").String()
	cfg.Logging.Verbose = logging.Key("verbose").MustBool(false)

	return cfg, nil
}

// Save writes cfg to path with owner-only permissions.
// If path is empty, uses the default path.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()
	sections := []struct {
		name string
		v    interface{}
	}{
		{"server", &cfg.Server},
		{"uploader", &cfg.Uploader},
		{"proxy", &cfg.Proxy},
		{"logging", &cfg.Logging},
	}
	for _, s := range sections {
		sec, err := f.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := sec.ReflectFrom(s.v); err != nil {
			return fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks the settings every command needs.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Uploader.PollIntervalSeconds < int(constants.MinPollInterval/time.Second):
		return ErrInvalidPollInterval
	case cfg.Uploader.MaxConcurrentRuns < 1 || cfg.Uploader.MaxConcurrentRuns > constants.MaxMaxConcurrentRuns:
		return ErrInvalidMaxConcurrent
	}

	switch cfg.Proxy.Mode {
	case "", ProxyModeNone, ProxyModeSystem:
	case ProxyModeBasic, ProxyModeNTLM:
		if cfg.Proxy.Host == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// ValidateServer checks the settings needed to talk to the server.
func (cfg *Config) ValidateServer() error {
	switch {
	case cfg.Server.BaseURL == "":
		return ErrMissingBaseURL
	case !strings.HasPrefix(cfg.Server.BaseURL, "http://") && !strings.HasPrefix(cfg.Server.BaseURL, "https://"):
		return ErrInvalidBaseURL
	case cfg.Server.ClientID == "":
		return ErrMissingClientID
	case cfg.Server.Username == "" || cfg.Server.Password == "":
		return ErrMissingCredentials
	}
	return nil
}

// ValidateWatch checks the settings the watcher needs.
func (cfg *Config) ValidateWatch() error {
	if cfg.Uploader.WatchDirectory == "" {
		return ErrMissingWatchDirectory
	}
	return nil
}

// PollInterval returns the watcher interval as a duration.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Uploader.PollIntervalSeconds) * time.Second
}

// Redacted returns a copy with secrets masked, for display.
func (cfg *Config) Redacted() *Config {
	c := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Server.ClientSecret = mask(c.Server.ClientSecret)
	c.Server.Password = mask(c.Server.Password)
	c.Proxy.Password = mask(c.Proxy.Password)
	return &c
}
