// Package schedule runs the pipeline as a cron daemon. Overlap is rejected,
// never queued: a tick that fires while the previous run is still going is
// skipped. Config changes picked up by the watcher apply to subsequent runs;
// the run in flight keeps the snapshot it started with.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trendmill/trendmill/internal/config"
)

// Job is one pipeline invocation with the config snapshot for that run.
type Job func(ctx context.Context, cfg *config.Config)

// Scheduler owns the cron loop for the nightly run.
type Scheduler struct {
	cron *cron.Cron
	spec string
	loc  *time.Location
	job  Job

	cfg atomic.Pointer[config.Config]
}

// New builds a Scheduler from cfg. The cron expression and timezone are
// fixed for the daemon's lifetime; everything else can be swapped between
// runs with UpdateConfig.
func New(cfg *config.Config, job Job) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid timezone %q: %w", cfg.Schedule.Timezone, err)
	}

	s := &Scheduler{
		spec: cfg.Schedule.Cron,
		loc:  loc,
		job:  job,
	}
	s.cfg.Store(cfg)

	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(slogAdapter{level: slog.LevelDebug}),
		cron.WithChain(cron.SkipIfStillRunning(slogAdapter{level: slog.LevelWarn})),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule.Cron, s.tick); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", cfg.Schedule.Cron, err)
	}
	return s, nil
}

// UpdateConfig swaps the config snapshot used by subsequent runs. The cron
// expression and timezone stay as loaded at startup; changing those needs a
// restart.
func (s *Scheduler) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
	slog.Info("schedule: config updated for subsequent runs")
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for an in-flight run to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()

	startLog := []any{"cron", s.spec, "timezone", s.loc.String()}
	if entries := s.cron.Entries(); len(entries) > 0 {
		startLog = append(startLog, "next_run", entries[0].Next)
	}
	slog.Info("schedule: daemon started", startLog...)

	<-ctx.Done()
	slog.Info("schedule: shutting down, waiting for in-flight run")
	<-s.cron.Stop().Done()
	slog.Info("schedule: stopped")
}

func (s *Scheduler) tick() {
	cfg := s.cfg.Load()
	slog.Info("schedule: starting scheduled run")
	start := time.Now()

	// The run gets its own context: shutdown stops new ticks but never
	// cancels a run partway through a swap or a snapshot write.
	s.job(context.Background(), cfg)

	slog.Info("schedule: scheduled run finished", "took", time.Since(start))
}

// slogAdapter routes robfig/cron logging onto slog. Info lines go to the
// chosen level so the skip-if-still-running warning can stand out while
// cron's own chatter stays at debug. Errors always log as errors.
type slogAdapter struct {
	level slog.Level
}

func (a slogAdapter) Info(msg string, kv ...interface{}) {
	slog.Log(context.Background(), a.level, "schedule: "+msg, kv...)
}

func (a slogAdapter) Error(err error, msg string, kv ...interface{}) {
	slog.Error("schedule: "+msg, append(kv, "err", err)...)
}
