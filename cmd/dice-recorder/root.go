package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dice-recorder/recorder"
)

// rootOptions holds the global flags. A flag only overrides the file and
// environment layers when it was set explicitly.
type rootOptions struct {
	ConfigPath string
	EnvFiles   []string
	Debug      bool

	APIURL        string
	DBDriver      string
	DBDSN         string
	IDScheme      string
	Interval      time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(&rootOptions{})
}

func buildRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dice-recorder",
		Short: "Record dice game results from an upstream API",
		Long: `dice-recorder polls an upstream game-history API, stores every session once,
and serves statistics and exports over the stored history.

Configuration layers, lowest to highest: built-in defaults, the YAML file
(--config), .env files and DICE_* environment variables, explicit flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "", "YAML config file path")
	pf.StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv file(s) to load; missing files are skipped")
	pf.BoolVar(&opts.Debug, "debug", false, "enable debug logs")
	pf.StringVar(&opts.APIURL, "api-url", "", "upstream history URL (overrides upstream.api_url)")
	pf.StringVar(&opts.DBDriver, "db-driver", "", "database driver: sqlite or postgres (overrides database.driver)")
	pf.StringVar(&opts.DBDSN, "db-dsn", "", "database DSN (overrides database.dsn)")
	pf.StringVar(&opts.IDScheme, "id-scheme", "", "identifier scheme: integer or dated (overrides records.id_scheme)")
	pf.DurationVar(&opts.Interval, "interval", 0, "time between ingestion cycles (overrides schedule.interval)")
	pf.IntVar(&opts.MaxAttempts, "max-attempts", 0, "attempts per cycle (overrides schedule.max_attempts)")
	pf.DurationVar(&opts.RetryInterval, "retry-interval", 0, "wait between failed attempts (overrides schedule.retry_interval)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newFetchCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newLookupCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newDeleteRangeCommand(opts))

	return cmd
}

// loadConfig builds the layered configuration for cmd.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (recorder.Config, error) {
	cfg := recorder.DefaultConfig()
	if opts.ConfigPath != "" {
		fileCfg, err := recorder.LoadConfig(opts.ConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = fileCfg
	}
	if _, err := recorder.LoadDotEnv(opts.EnvFiles...); err != nil {
		return cfg, err
	}
	if err := recorder.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = opts.Debug
	}
	if flags.Changed("api-url") {
		cfg.Upstream.APIURL = opts.APIURL
	}
	if flags.Changed("db-driver") {
		cfg.Database.Driver = opts.DBDriver
	}
	if flags.Changed("db-dsn") {
		cfg.Database.DSN = opts.DBDSN
	}
	if flags.Changed("id-scheme") {
		cfg.Records.IDScheme = opts.IDScheme
	}
	if flags.Changed("interval") {
		cfg.Schedule.Interval = opts.Interval
	}
	if flags.Changed("max-attempts") {
		cfg.Schedule.MaxAttempts = opts.MaxAttempts
	}
	if flags.Changed("retry-interval") {
		cfg.Schedule.RetryInterval = opts.RetryInterval
	}
	return cfg, nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app is the wiring shared by every subcommand.
type app struct {
	cfg   recorder.Config
	log   *slog.Logger
	store *recorder.Store
}

// openApp loads configuration and opens the store. Commands that talk to the
// upstream pass needUpstream so the upstream section is validated too.
func openApp(ctx context.Context, cmd *cobra.Command, opts *rootOptions, needUpstream bool) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if needUpstream {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateStorage()
	}
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Debug)
	scheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}
	store, err := recorder.OpenStore(ctx, cfg.Database, scheme, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: logger, store: store}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) newRunner(metrics *recorder.Metrics) (*recorder.Runner, error) {
	fetcher, err := recorder.NewHTTPFetcher(a.cfg.Upstream)
	if err != nil {
		return nil, err
	}
	parser := recorder.NewParser(a.cfg.ParserConfig(a.store.Scheme()))
	return recorder.NewRunner(a.cfg.RunnerConfig(), fetcher, parser, a.store, a.log, metrics)
}
