// Command telemetrics-pipeline extracts completed F1 sessions from OpenF1,
// transforms them into frontend documents and upserts them into Postgres.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/telemetrics/telemetrics/internal/config"
	"github.com/telemetrics/telemetrics/internal/extractor"
	"github.com/telemetrics/telemetrics/internal/mlfeatures"
	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/pipeline"
	"github.com/telemetrics/telemetrics/internal/ratelimit"
	"github.com/telemetrics/telemetrics/internal/storage"
	"github.com/telemetrics/telemetrics/internal/telemetry"
	"github.com/telemetrics/telemetrics/internal/uploader"
	"github.com/telemetrics/telemetrics/internal/upstream/cache"
	"github.com/telemetrics/telemetrics/internal/upstream/openf1"
	"github.com/telemetrics/telemetrics/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// firstTelemetryYear is the first season with car telemetry upstream.
const firstTelemetryYear = 2018

func main() {
	os.Exit(run0())
}

func run0() int {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(logger, &level, os.Stdout).ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// scopeFlags narrow a run. Zero values leave the configured scope alone.
type scopeFlags struct {
	year      int
	startYear int
	endYear   int
	grandPrix string
	session   string
}

func (f *scopeFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.year, "year", 0, "process a single season")
	fs.IntVar(&f.startYear, "start-year", 0, "first season (overrides TELEMETRICS_START_YEAR)")
	fs.IntVar(&f.endYear, "end-year", 0, "last season (overrides TELEMETRICS_END_YEAR)")
	fs.StringVar(&f.grandPrix, "gp", "", "only grand prix whose name contains this (case-insensitive)")
	fs.StringVar(&f.session, "session", "", "only this session type (R, Q, S, SQ, FP1, FP2, FP3 or full name)")
}

// apply narrows cfg and returns the run options.
func (f *scopeFlags) apply(cfg *config.Config) (pipeline.RunOptions, error) {
	if f.year != 0 {
		cfg.StartYear, cfg.EndYear = f.year, f.year
	}
	if f.startYear != 0 {
		cfg.StartYear = f.startYear
	}
	if f.endYear != 0 {
		cfg.EndYear = f.endYear
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.RunOptions{}, err
	}

	ro := pipeline.RunOptions{Years: cfg.Years(), GrandPrix: f.grandPrix}
	if f.session != "" {
		st, err := model.ParseSessionType(f.session)
		if err != nil {
			return pipeline.RunOptions{}, err
		}
		ro.Session = st
	}
	return ro, nil
}

func newRootCommand(logger *slog.Logger, level *slog.LevelVar, stdout io.Writer) *cobra.Command {
	var scope scopeFlags
	root := &cobra.Command{
		Use:   "telemetrics-pipeline",
		Short: "Extract, transform and store F1 session documents",
		Long: `Processes every (season, grand prix, session) in scope: loads the
session from OpenF1, builds the seven frontend documents, writes a JSON
backup and upserts the populated documents into Postgres.

Version: ` + version + "\n",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(level)
			if err != nil {
				return err
			}
			ro, err := scope.apply(&cfg)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, ro, logger)
		},
	}
	scope.register(root.Flags())
	root.AddCommand(newRunsCommand(logger, level, stdout), newDatasetCommand(logger, level, stdout))
	return root
}

func loadConfig(level *slog.LevelVar) (config.Config, error) {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	level.Set(cfg.SlogLevel())
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}

func runPipeline(ctx context.Context, cfg config.Config, ro pipeline.RunOptions, logger *slog.Logger) error {
	slog.Info("telemetrics pipeline starting", "version", version, "years", ro.Years)
	if len(ro.Years) > 0 && ro.Years[0] < firstTelemetryYear {
		logger.Warn("car telemetry is not published before 2018; track dominance will have no segments",
			"start_year", ro.Years[0])
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName + "-pipeline",
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())
	db.RegisterPoolMetrics()

	var responses openf1.ResponseCache
	if cfg.CachePath != "" {
		c, err := cache.Open(ctx, cfg.CachePath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		responses = c
		logger.Info("response cache: enabled", "path", cfg.CachePath)
	} else {
		logger.Info("response cache: disabled")
	}

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	client := openf1.New(openf1.Options{
		BaseURL:      cfg.OpenF1BaseURL,
		Timeout:      cfg.HTTPTimeout,
		Limiter:      limiter,
		Cache:        responses,
		FreshWindow:  cfg.CacheFreshWindow,
		RecentMaxAge: cfg.CacheRecentMaxAge,
	}, logger)

	p := pipeline.New(client, uploader.New(db, logger), pipeline.Options{
		SessionTypes: cfg.SessionTypes,
		DataDir:      cfg.DataDir,
		Extractor:    extractor.Options{MaxRetries: cfg.LoadRetries, RetryDelay: cfg.LoadRetryDelay},
		Recorder:     db,
	}, logger)

	p.Run(ctx, ro)
	slog.Info("telemetrics pipeline stopped")
	return nil
}

func newRunsCommand(logger *slog.Logger, level *slog.LevelVar, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(level)
			if err != nil {
				return err
			}
			db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close(context.Background())

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			for _, r := range runs {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newDatasetCommand(logger *slog.Logger, level *slog.LevelVar, stdout io.Writer) *cobra.Command {
	var (
		from, to   int
		includeDNF bool
	)
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Write race results joined with qualifying as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(level)
			if err != nil {
				return err
			}
			if from == 0 {
				from = cfg.StartYear
			}
			if to == 0 {
				to = cfg.EndYear
			}
			db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close(context.Background())

			ds, err := mlfeatures.New(db, !includeDNF, logger).HistoricalRaces(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			rows := ds.Merged
			if len(rows) == 0 {
				rows = ds.RaceResults
			}
			return writeDataset(stdout, rows)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first season (default TELEMETRICS_START_YEAR)")
	cmd.Flags().IntVar(&to, "to", 0, "last season (default TELEMETRICS_END_YEAR)")
	cmd.Flags().BoolVar(&includeDNF, "include-dnf", false, "keep drivers without a finishing time")
	return cmd
}

var datasetHeader = []string{
	"year", "grand_prix", "driver", "team", "grid_position", "qualifying_position",
	"qualifying_time", "position", "race_time", "points", "status",
}

func writeDataset(w io.Writer, rows []mlfeatures.RaceResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(datasetHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.Itoa(r.Year),
			r.GrandPrix,
			r.DriverAbbr,
			r.Team,
			optInt(r.GridPosition),
			optInt(r.QualifyingPos),
			optFloat(r.QualifyingTime),
			optInt(r.Position),
			optFloat(r.RaceTimeSeconds),
			strconv.FormatFloat(r.Points, 'f', -1, 64),
			r.Status,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
