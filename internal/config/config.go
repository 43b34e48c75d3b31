// Package config holds the settings of a dupwatch process.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/dupwatch/internal/logging"
	"github.com/openmined/dupwatch/internal/resolver"
	"github.com/openmined/dupwatch/internal/utils"
)

const (
	SourceNotify = "notify"
	SourcePoll   = "poll"

	catalogFileName = "catalog.db"
	logFileName     = "dupwatch.log"
)

var (
	home, _            = os.UserHomeDir()
	DefaultDataDir     = filepath.Join(home, ".dupwatch")
	DefaultWatchDir    = filepath.Join(home, "Downloads")
	DefaultConfigPath  = filepath.Join(DefaultDataDir, "config.json")
	ErrMissingWatchDir = errors.New("watch dir does not exist")
)

type Config struct {
	WatchDir    string `json:"watch_dir"`
	DataDir     string `json:"data_dir"`
	CatalogPath string `json:"catalog_path"`
	LogFile     string `json:"log_file"`
	LogLevel    string `json:"log_level"`
	Recursive   bool   `json:"recursive"`
	EventSource string `json:"event_source"`

	PollInterval         time.Duration `json:"poll_interval"`
	TickInterval         time.Duration `json:"tick_interval"`
	HousekeepingInterval time.Duration `json:"housekeeping_interval"`
	StaleAfter           time.Duration `json:"stale_after"`

	ConflictMode string        `json:"conflict_mode"`
	HashRetries  int           `json:"hash_retries"`
	HashBackoff  time.Duration `json:"hash_backoff"`

	Ignore  []string `json:"ignore"`
	Include []string `json:"include"`

	Path string `json:"-"`
}

// Default returns a config with every value filled.
func Default() *Config {
	return &Config{
		WatchDir:             DefaultWatchDir,
		DataDir:              DefaultDataDir,
		LogLevel:             "info",
		Recursive:            false,
		EventSource:          SourceNotify,
		PollInterval:         2 * time.Second,
		TickInterval:         time.Second,
		HousekeepingInterval: time.Hour,
		StaleAfter:           time.Hour,
		ConflictMode:         string(resolver.ModePrompt),
		HashRetries:          3,
		HashBackoff:          time.Second,
	}
}

// CheckWatchDir fails when the watch dir is missing. Only the watcher
// needs it.
func (c *Config) CheckWatchDir() error {
	if !utils.DirExists(c.WatchDir) {
		return fmt.Errorf("%w: %s", ErrMissingWatchDir, c.WatchDir)
	}
	return nil
}

// Validate resolves paths and derives the catalog and log locations from
// the data dir when unset.
func (c *Config) Validate() error {
	var err error

	if c.WatchDir, err = utils.ResolvePath(c.WatchDir); err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}

	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.DataDir, catalogFileName)
	}
	if c.CatalogPath, err = utils.ResolvePath(c.CatalogPath); err != nil {
		return fmt.Errorf("catalog path: %w", err)
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "logs", logFileName)
	}
	if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.EventSource {
	case SourceNotify, SourcePoll:
	case "":
		c.EventSource = SourceNotify
	default:
		return fmt.Errorf("event source %q: want %s or %s", c.EventSource, SourceNotify, SourcePoll)
	}

	mode, err := resolver.ParseMode(c.ConflictMode)
	if err != nil {
		return err
	}
	c.ConflictMode = string(mode)

	for name, d := range map[string]time.Duration{
		"poll interval":         c.PollInterval,
		"tick interval":         c.TickInterval,
		"housekeeping interval": c.HousekeepingInterval,
		"stale after":           c.StaleAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.HashRetries < 1 {
		return fmt.Errorf("hash retries must be at least 1, got %d", c.HashRetries)
	}
	if c.HashBackoff < 0 {
		return fmt.Errorf("hash backoff must not be negative, got %s", c.HashBackoff)
	}

	for _, pattern := range c.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("include pattern %q is invalid", pattern)
		}
	}

	return nil
}
