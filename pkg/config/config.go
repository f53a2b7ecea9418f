// Package config provides configuration file support for runlog.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runlog-project/runlog/pkg/errclass"
	"github.com/runlog-project/runlog/pkg/fsutil"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/webhook"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "RUNLOG_CONFIG"

const (
	DefaultFilenamePattern = "${SCRIPT}_${AUDIT_NAME}_${DATE}"
	// DefaultDateFormat renders as yyMMdd_HHmmss.
	DefaultDateFormat = "060102_150405"
)

// Config represents the runlog configuration.
type Config struct {
	OutputDir       string         `yaml:"output_dir" json:"output_dir"`
	FilenamePattern string         `yaml:"filename_pattern" json:"filename_pattern"`
	DateFormat      string         `yaml:"date_format" json:"date_format"` // Go reference layout
	ArchiveDir      string         `yaml:"archive_dir" json:"archive_dir"`
	Logging         LoggingConfig  `yaml:"logging" json:"logging"`
	Webhooks        webhook.Config `yaml:"webhooks" json:"webhooks"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json, text
}

// HomeDir returns ~/.runlog, falling back to ./.runlog without a home.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".runlog"
	}
	return filepath.Join(home, ".runlog")
}

// Default returns the default configuration.
func Default() *Config {
	base := HomeDir()
	return &Config{
		OutputDir:       filepath.Join(base, "logs"),
		FilenamePattern: DefaultFilenamePattern,
		DateFormat:      DefaultDateFormat,
		ArchiveDir:      filepath.Join(base, "archive"),
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "json",
		},
		Webhooks: webhook.DefaultConfig(),
	}
}

// ResolvePath picks the config file: explicit flag, then $RUNLOG_CONFIG,
// then ~/.runlog/config.yaml.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// Load reads the config file at path on top of the defaults.
// Returns default config if file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.OutputDir = expandHome(cfg.OutputDir)
	cfg.ArchiveDir = expandHome(cfg.ArchiveDir)
	if cfg.FilenamePattern == "" {
		cfg.FilenamePattern = DefaultFilenamePattern
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = DefaultDateFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return errclass.ErrConfigInvalid.WithMessage("output_dir must not be empty")
	}
	if strings.ContainsAny(c.FilenamePattern, `/\`) || strings.Contains(c.FilenamePattern, "..") {
		return errclass.ErrConfigInvalid.WithMessagef("filename_pattern must be a single file name: %q", c.FilenamePattern)
	}
	// A layout without any reference tokens formats to itself; an empty
	// result would leave ${DATE} blank.
	if time.UnixMilli(0).Format(c.DateFormat) == "" {
		return errclass.ErrConfigInvalid.WithMessage("date_format must not be empty")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errclass.ErrConfigInvalid.WithMessage(err.Error())
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return errclass.ErrConfigInvalid.WithMessage(err.Error())
	}
	for i, hook := range c.Webhooks.Hooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errclass.ErrConfigInvalid.WithMessagef("webhooks.hooks[%d]: invalid url %q", i, hook.URL)
		}
	}
	if c.Webhooks.MaxRetries < 0 {
		return errclass.ErrConfigInvalid.WithMessage("webhooks.max_retries must not be negative")
	}
	return nil
}

// NewLogger builds a logger from the logging section. Call Validate first.
func (c *Config) NewLogger() *logging.Logger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	format, _ := logging.ParseFormat(c.Logging.Format)
	l := logging.NewLogger(level)
	l.SetFormat(format)
	return l
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
