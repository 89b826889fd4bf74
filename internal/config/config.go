// Package config loads the command line tool configuration: a YAML file with
// defaults, overridden by environment variables. Flags override both and are
// applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/jtang613/pdbreader/internal/logging"
	"github.com/jtang613/pdbreader/internal/retry"
	"github.com/jtang613/pdbreader/pkg/symsrv"
)

// NTSymbolPath is the search path variable shared with the Windows debuggers.
// It is used when no search path is configured.
const NTSymbolPath = "_NT_SYMBOL_PATH"

// Config is the tool configuration.
type Config struct {
	// SymbolServer is the upstream store used when SearchPath is empty.
	SymbolServer string `yaml:"symbol_server" env:"PDBREADER_SYMBOL_SERVER"`
	// CacheDir is the local downstream store.
	CacheDir string `yaml:"cache_dir" env:"PDBREADER_CACHE_DIR"`
	// SearchPath overrides the srv*CacheDir*SymbolServer default.
	SearchPath string         `yaml:"search_path" env:"PDBREADER_SEARCH_PATH"`
	Log        LogConfig      `yaml:"log"`
	Download   DownloadConfig `yaml:"download"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"PDBREADER_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PDBREADER_LOG_PRETTY"`
}

// DownloadConfig configures symbol server downloads.
type DownloadConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"PDBREADER_DOWNLOAD_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"PDBREADER_DOWNLOAD_MAX_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"PDBREADER_DOWNLOAD_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"PDBREADER_DOWNLOAD_MAX_BACKOFF"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SymbolServer: symsrv.DefaultServer,
		CacheDir:     symsrv.DefaultCacheDir(),
		Log: LogConfig{
			Level:  "warn",
			Pretty: true,
		},
		Download: DownloadConfig{
			Timeout:        5 * time.Minute,
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
	}
}

// DefaultPath returns the configuration file looked up when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pdbreader", "config.yaml")
}

// Load reads the configuration at path on fs and applies environment
// overrides. An empty path means DefaultPath, which may be absent; an explicit
// path must exist.
func Load(fsys afero.Fs, path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := afero.ReadFile(fsys, path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if cfg.SearchPath == "" {
		cfg.SearchPath = os.Getenv(NTSymbolPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Download.Timeout < 0 {
		errs = append(errs, errors.New("download.timeout must not be negative"))
	}
	if c.Download.MaxRetries < 1 {
		errs = append(errs, errors.New("download.max_retries must be at least 1"))
	}
	if c.Download.InitialBackoff < 0 || c.Download.MaxBackoff < 0 {
		errs = append(errs, errors.New("download backoff must not be negative"))
	}
	if c.SearchPath == "" && c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir is required without search_path"))
	}
	return errors.Join(errs...)
}

// EffectiveSearchPath returns SearchPath, or srv*CacheDir*SymbolServer.
func (c *Config) EffectiveSearchPath() string {
	if c.SearchPath != "" {
		return c.SearchPath
	}
	return symsrv.ServerSearchPath(c.CacheDir, c.SymbolServer)
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// Retry returns the download backoff schedule.
func (c *Config) Retry() retry.Config {
	return retry.Config{
		MaxRetries:     c.Download.MaxRetries,
		InitialBackoff: c.Download.InitialBackoff,
		MaxBackoff:     c.Download.MaxBackoff,
		Jitter:         0.1,
	}
}
