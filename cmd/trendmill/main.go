package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/internal/ingest"
	"github.com/trendmill/trendmill/internal/metrics"
	"github.com/trendmill/trendmill/internal/notify"
	"github.com/trendmill/trendmill/internal/pages"
	"github.com/trendmill/trendmill/internal/pipeline"
	"github.com/trendmill/trendmill/internal/publish"
	"github.com/trendmill/trendmill/internal/schedule"
	"github.com/trendmill/trendmill/internal/scoring"
	"github.com/trendmill/trendmill/internal/store"
	"github.com/trendmill/trendmill/internal/trends"
	"github.com/trendmill/trendmill/pkg/types"
)

const defaultConfigPath = "config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var code int
	switch cmd {
	case "run":
		code = cmdRun(args)
	case "schedule":
		code = cmdSchedule(args)
	case "fetch":
		code = cmdFetch(args)
	case "score":
		code = cmdScore(args)
	case "pages":
		code = cmdPages(args)
	case "publish":
		code = cmdPublish(args)
	case "check":
		code = cmdCheck(args)
	case "backup":
		code = cmdBackup(args)
	case "help", "-h", "-help", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "trendmill: unknown command %q\n\n", cmd)
		printUsage()
		code = 2
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `trendmill scores short-lived social keywords nightly and publishes a
static momentum site.

Usage:

  trendmill <command> [flags]

Commands:

  run       execute one full pipeline run (ingest, score, build, publish)
  schedule  run the pipeline on a cron schedule until interrupted
  fetch     refresh the trends cache for current candidates, no scoring
  score     ingest and score candidates into snapshots, no site build
  pages     rebuild the staged site from stored snapshots
  publish   policy-scan, fix up, and atomically swap the staged site live
  check     scan a rendered tree for forbidden terms
  backup    write an online copy of the database

All commands take -config (default config.yaml). Run
"trendmill <command> -h" for command flags.
`)
}

// loadAndInit loads the config file and installs the configured logger.
// Errors before this point go to stderr directly.
func loadAndInit(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// parseDate resolves a -date flag value; empty means today (UTC).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return types.DateOf(time.Now()), nil
	}
	d, err := time.Parse(types.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// app is the assembled composition root for one pipeline run.
type app struct {
	store *store.Store
	pipe  *pipeline.Pipeline
}

func buildApp(cfg *config.Config) (*app, error) {
	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	builder, err := pages.New(cfg.Pages)
	if err != nil {
		st.Close()
		return nil, err
	}
	publisher, err := publish.New(cfg.Publish)
	if err != nil {
		st.Close()
		return nil, err
	}

	gate := trends.NewGate(cfg.Trends.MinDelay)
	cache := trends.NewCache(st, trends.NewClient(cfg.Trends, gate), cfg.Trends.CacheTTL)

	pipe := pipeline.New(cfg, pipeline.Deps{
		Store:     st,
		Source:    ingest.NewSource(cfg.Ingest),
		Series:    cache,
		Builder:   builder,
		Publisher: publisher,
		Notifier:  notify.New(cfg.Notify),
		Metrics:   metrics.New(cfg.Metrics),
	})
	return &app{store: st, pipe: pipe}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "err", err)
	}
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dateStr := fs.String("date", "", "run date YYYY-MM-DD (default today)")
	limit := fs.Int("limit", 0, "max keywords this run (0 = configured default)")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(cfg)
	if err != nil {
		slog.Error("run: assembling pipeline failed", "err", err)
		return 1
	}
	defer a.Close()

	rep := a.pipe.Run(ctx, date, *limit)
	printReport(os.Stdout, rep)
	if rep.State == types.StateFailed {
		return 1
	}
	return 0
}

func cmdSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}
	slog.Info("trendmill schedule starting",
		"config", *configPath, "cron", cfg.Schedule.Cron, "timezone", cfg.Schedule.Timezone)

	// Each scheduled run assembles a fresh stack from the latest config
	// snapshot, so watched settings reach the next run without a restart.
	job := func(ctx context.Context, cur *config.Config) {
		a, err := buildApp(cur)
		if err != nil {
			slog.Error("schedule: assembling pipeline failed", "err", err)
			return
		}
		defer a.Close()
		a.pipe.Run(ctx, time.Now(), 0)
	}

	sched, err := schedule.New(cfg, job)
	if err != nil {
		slog.Error("schedule: setup failed", "err", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := config.Watch(ctx, *configPath, sched.UpdateConfig); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	sched.Run(ctx)
	slog.Info("trendmill schedule shutting down")
	return 0
}

func cmdFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	limit := fs.Int("limit", 0, "max keywords (0 = configured default)")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		slog.Error("fetch: open store failed", "err", err)
		return 1
	}
	defer st.Close()

	keywords, err := resolveCandidates(ctx, cfg, st, *limit)
	if err != nil {
		slog.Error("fetch: resolving keywords failed", "err", err)
		return 1
	}

	gate := trends.NewGate(cfg.Trends.MinDelay)
	cache := trends.NewCache(st, trends.NewClient(cfg.Trends, gate), cfg.Trends.CacheTTL)

	refreshed, failed := 0, 0
	for _, kw := range keywords {
		if _, err := cache.GetOrFetch(ctx, kw, cfg.Trends.Geo, cfg.Trends.Timeframe); err != nil {
			slog.Warn("fetch: keyword failed", "keyword", kw.Text, "err", err)
			failed++
			continue
		}
		refreshed++
	}
	fmt.Printf("refreshed %d of %d series (%d failed)\n", refreshed, len(keywords), failed)
	return 0
}

func cmdScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dateStr := fs.String("date", "", "score date YYYY-MM-DD (default today)")
	limit := fs.Int("limit", 0, "max keywords (0 = configured default)")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		slog.Error("score: open store failed", "err", err)
		return 1
	}
	defer st.Close()

	keywords, err := resolveCandidates(ctx, cfg, st, *limit)
	if err != nil {
		slog.Error("score: resolving keywords failed", "err", err)
		return 1
	}

	gate := trends.NewGate(cfg.Trends.MinDelay)
	cache := trends.NewCache(st, trends.NewClient(cfg.Trends, gate), cfg.Trends.CacheTTL)

	scored, failed := 0, 0
	for _, kw := range keywords {
		series, err := cache.GetOrFetch(ctx, kw, cfg.Trends.Geo, cfg.Trends.Timeframe)
		if err != nil {
			slog.Warn("score: fetch failed", "keyword", kw.Text, "err", err)
			failed++
			continue
		}
		m, err := scoring.Score(series)
		if err != nil {
			slog.Warn("score: scoring failed", "keyword", kw.Text, "err", err)
			failed++
			continue
		}
		if _, err := st.InsertSnapshot(ctx, types.DailySnapshot{
			KeywordID:    kw.ID,
			Date:         date,
			Momentum:     m.Momentum,
			Raw:          m.Raw,
			Lift:         m.Lift,
			Acceleration: m.Acceleration,
			Novelty:      m.Novelty,
			Noise:        m.Noise,
		}); err != nil {
			slog.Warn("score: snapshot write failed", "keyword", kw.Text, "err", err)
			failed++
			continue
		}
		scored++
	}
	fmt.Printf("scored %d of %d keywords for %s (%d failed)\n",
		scored, len(keywords), date.Format(types.DateLayout), failed)
	return 0
}

// resolveCandidates pulls candidates from the configured source and resolves
// them into stored keywords, capped at limit.
func resolveCandidates(ctx context.Context, cfg *config.Config, st *store.Store, limit int) ([]types.Keyword, error) {
	if limit <= 0 {
		limit = cfg.Ingest.Limit
	}
	cands, err := ingest.NewSource(cfg.Ingest).Candidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	return pipeline.ResolveKeywords(ctx, st, types.DateOf(time.Now()), cands, limit)
}

func cmdPages(args []string) int {
	fs := flag.NewFlagSet("pages", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dateStr := fs.String("date", "", "snapshot date YYYY-MM-DD (default today)")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}
	date, err := parseDate(*dateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		slog.Error("pages: open store failed", "err", err)
		return 1
	}
	defer st.Close()

	rows, err := st.SnapshotsForDate(ctx, date, cfg.Trends.Geo, cfg.Trends.Timeframe)
	if err != nil {
		slog.Error("pages: loading snapshots failed", "err", err)
		return 1
	}
	if len(rows) == 0 {
		fmt.Fprintf(os.Stderr, "trendmill: no snapshots for %s\n", date.Format(types.DateLayout))
		return 1
	}

	builder, err := pages.New(cfg.Pages)
	if err != nil {
		slog.Error("pages: builder setup failed", "err", err)
		return 1
	}
	if err := builder.Build(rows); err != nil {
		slog.Error("pages: build failed", "err", err)
		return 1
	}
	fmt.Printf("staged %d keyword pages into %s\n", len(rows), cfg.Pages.StagingDir)
	return 0
}

func cmdPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}

	violations, err := pages.Scan(cfg.Pages.StagingDir, cfg.Pages.ForbiddenTerms)
	if err != nil {
		slog.Error("publish: policy scan failed", "err", err)
		return 1
	}
	if len(violations) > 0 {
		printViolations(os.Stdout, violations)
		return 1
	}

	publisher, err := publish.New(cfg.Publish)
	if err != nil {
		slog.Error("publish: setup failed", "err", err)
		return 1
	}
	if err := publisher.Fixup(cfg.Pages.StagingDir); err != nil {
		slog.Error("publish: fixup failed", "err", err)
		return 1
	}
	if err := publisher.Publish(cfg.Pages.StagingDir, cfg.Publish.LiveDir); err != nil {
		slog.Error("publish: swap failed", "err", err)
		return 1
	}
	fmt.Printf("published %s -> %s\n", cfg.Pages.StagingDir, cfg.Publish.LiveDir)
	return 0
}

func cmdCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dir := fs.String("dir", "", "directory to scan (default staging dir)")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}
	if *dir == "" {
		*dir = cfg.Pages.StagingDir
	}

	violations, err := pages.Scan(*dir, cfg.Pages.ForbiddenTerms)
	if err != nil {
		slog.Error("check: policy scan failed", "err", err)
		return 1
	}
	if len(violations) > 0 {
		printViolations(os.Stdout, violations)
		return 1
	}
	fmt.Printf("%s is clean\n", *dir)
	return 0
}

func cmdBackup(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	out := fs.String("out", "", "backup file path (default backups/trendmill_<timestamp>.db)")
	fs.Parse(args)

	cfg, err := loadAndInit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trendmill: load config: %v\n", err)
		return 1
	}
	if *out == "" {
		stamp := time.Now().UTC().Format("20060102_150405")
		*out = filepath.Join("backups", fmt.Sprintf("trendmill_%s.db", stamp))
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		slog.Error("backup: open store failed", "err", err)
		return 1
	}
	defer st.Close()

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("backup: create target directory failed", "err", err)
			return 1
		}
	}
	if err := st.Backup(ctx, *out); err != nil {
		slog.Error("backup: failed", "err", err)
		return 1
	}
	fmt.Printf("backup written to %s\n", *out)
	return 0
}
