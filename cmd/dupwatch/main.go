package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmined/dupwatch/internal/config"
	"github.com/openmined/dupwatch/internal/logging"
	"github.com/openmined/dupwatch/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "DUPWATCH"
	configFileName = "config"
)

// flag name -> config key
var flagKeys = map[string]string{
	"data-dir":      "data_dir",
	"catalog":       "catalog_path",
	"log-level":     "log_level",
	"log-file":      "log_file",
	"watch-dir":     "watch_dir",
	"recursive":     "recursive",
	"source":        "event_source",
	"poll-interval": "poll_interval",
	"tick-interval": "tick_interval",
	"conflict":      "conflict_mode",
	"hash-retries":  "hash_retries",
	"ignore":        "ignore",
	"include":       "include",
}

func newRootCmd() *cobra.Command {
	defaults := config.Default()

	rootCmd := &cobra.Command{
		Use:     "dupwatch",
		Short:   "Catalog finished downloads and catch duplicates",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.CheckWatchDir(); err != nil {
				return err
			}

			// all good now, show header
			cmd.SilenceUsage = true
			showHeader(cmd.OutOrStdout(), cfg)

			closer, err := setupLogging(cmd, cfg, true)
			if err != nil {
				return err
			}
			defer closer.Close()

			defer slog.Info("Bye!")
			if err := runWatcher(cmd.Context(), cfg); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watcher", "error", err)
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("watch-dir", "w", defaults.WatchDir, "Directory to watch for downloads")
	rootCmd.Flags().BoolP("recursive", "r", defaults.Recursive, "Watch subdirectories too")
	rootCmd.Flags().String("source", defaults.EventSource, "Event source: notify or poll")
	rootCmd.Flags().Duration("poll-interval", defaults.PollInterval, "Directory scan interval for the poll source")
	rootCmd.Flags().Duration("tick-interval", defaults.TickInterval, "How often pending files are observed")
	rootCmd.Flags().String("conflict", defaults.ConflictMode, "Duplicate handling: prompt, keep or delete")
	rootCmd.Flags().Int("hash-retries", defaults.HashRetries, "Attempts to checksum a locked file")
	rootCmd.Flags().StringSlice("ignore", nil, "Extra ignore rules (gitignore syntax)")
	rootCmd.Flags().StringSlice("include", nil, "Only watch paths matching these globs")

	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Config file")
	rootCmd.PersistentFlags().StringP("data-dir", "d", defaults.DataDir, "Data directory (catalog, logs, lock)")
	rootCmd.PersistentFlags().String("catalog", "", "Catalog database path (default <data-dir>/catalog.db)")
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default <data-dir>/logs/dupwatch.log)")

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, DUPWATCH_* env vars and
// changed flags, then validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	setDefaults(v, config.Default())

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(config.DefaultDataDir)
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for name, key := range flagKeys {
		bindFlag(v, key, cmd.Flag(name))
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := &config.Config{
		Path:                 v.ConfigFileUsed(),
		WatchDir:             v.GetString("watch_dir"),
		DataDir:              v.GetString("data_dir"),
		CatalogPath:          v.GetString("catalog_path"),
		LogFile:              v.GetString("log_file"),
		LogLevel:             v.GetString("log_level"),
		Recursive:            v.GetBool("recursive"),
		EventSource:          v.GetString("event_source"),
		PollInterval:         v.GetDuration("poll_interval"),
		TickInterval:         v.GetDuration("tick_interval"),
		HousekeepingInterval: v.GetDuration("housekeeping_interval"),
		StaleAfter:           v.GetDuration("stale_after"),
		ConflictMode:         v.GetString("conflict_mode"),
		HashRetries:          v.GetInt("hash_retries"),
		HashBackoff:          v.GetDuration("hash_backoff"),
		Ignore:               v.GetStringSlice("ignore"),
		Include:              v.GetStringSlice("include"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("watch_dir", d.WatchDir)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("recursive", d.Recursive)
	v.SetDefault("event_source", d.EventSource)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("tick_interval", d.TickInterval)
	v.SetDefault("housekeeping_interval", d.HousekeepingInterval)
	v.SetDefault("stale_after", d.StaleAfter)
	v.SetDefault("conflict_mode", d.ConflictMode)
	v.SetDefault("hash_retries", d.HashRetries)
	v.SetDefault("hash_backoff", d.HashBackoff)
}

// bindFlag ties key to flag; subcommands do not carry every flag.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	if err := v.BindPFlag(key, flag); err != nil {
		slog.Warn("bind flag", "flag", flag.Name, "error", err)
	}
}

// setupLogging installs the logger. Only the watcher keeps a log file.
func setupLogging(cmd *cobra.Command, cfg *config.Config, withFile bool) (io.Closer, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := logging.Options{Level: level, Console: cmd.ErrOrStderr()}
	if withFile {
		opts.File = cfg.LogFile
	}
	_, closer, err := logging.Setup(opts)
	return closer, err
}

func showHeader(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, cyan.Bold(true).Render(dupwatchArt))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%s\n", gray.Render("Watch    "), green.Render(cfg.WatchDir))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Catalog  "), green.Render(cfg.CatalogPath))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Logs     "), green.Render(cfg.LogFile))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Conflict "), green.Render(cfg.ConflictMode))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Started  "), green.Render(time.Now().Format(time.DateTime)))
	fmt.Fprintln(w)
}
