package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/internal/pages"
	"github.com/trendmill/trendmill/internal/scoring"
	"github.com/trendmill/trendmill/pkg/types"
)

// KeywordSource provides raw candidate keywords for a run.
type KeywordSource interface {
	Candidates(ctx context.Context, limit int) ([]types.Candidate, error)
}

// SeriesProvider returns the weekly interest series for a keyword, cached
// or freshly fetched.
type SeriesProvider interface {
	GetOrFetch(ctx context.Context, kw types.Keyword, geo, timeframe string) ([]float64, error)
}

// KeywordUpserter is the store slice keyword resolution needs.
type KeywordUpserter interface {
	UpsertKeyword(ctx context.Context, text string, kind types.KeywordKind, seen time.Time) (types.Keyword, error)
}

// Store is the persistence slice the orchestrator needs.
type Store interface {
	KeywordUpserter
	InsertSnapshot(ctx context.Context, snap types.DailySnapshot) (bool, error)
	SnapshotsForDate(ctx context.Context, date time.Time, geo, timeframe string) ([]types.PageRow, error)
}

// SiteBuilder renders the scored rows into the staging directory.
type SiteBuilder interface {
	Build(rows []types.PageRow) error
}

// Publisher fixes up and swaps the staged tree live.
type Publisher interface {
	Fixup(dir string) error
	Publish(staged, live string) error
}

// Notifier posts terminal run reports. Implementations decide for
// themselves which reports to deliver.
type Notifier interface {
	Notify(ctx context.Context, rep *types.RunReport)
}

// MetricsExporter records the finished report on monitoring sinks.
type MetricsExporter interface {
	Export(rep *types.RunReport) error
}

// Deps bundles the orchestrator's collaborators. Notifier and Metrics may
// be nil.
type Deps struct {
	Store     Store
	Source    KeywordSource
	Series    SeriesProvider
	Builder   SiteBuilder
	Publisher Publisher
	Notifier  Notifier
	Metrics   MetricsExporter
}

// Pipeline runs the nightly keyword momentum job.
type Pipeline struct {
	cfg  *config.Config
	deps Deps

	scan  func(dir string, terms []string) ([]pages.Violation, error) // injectable for tests
	now   func() time.Time                                            // injectable for tests
	newID func() string                                               // injectable for tests
}

// New wires a Pipeline over cfg and deps.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		deps:  deps,
		scan:  pages.Scan,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// outcome is the tagged result of one keyword iteration. A nil err is Ok;
// anything else is Err with the stage that produced it.
type outcome struct {
	keyword string
	stage   string
	err     error
}

// Run executes one pipeline run for date. It never returns an error: every
// result, fatal ones included, lands in the report. The report is also
// handed to the notifier and metrics writer before Run returns.
//
// limit caps the number of keywords processed; limit <= 0 means the
// configured default.
func (p *Pipeline) Run(ctx context.Context, date time.Time, limit int) *types.RunReport {
	day := types.DateOf(date)
	rep := &types.RunReport{
		RunID:     p.newID(),
		Date:      day.Format(types.DateLayout),
		State:     types.StateIngesting,
		StartedAt: p.now(),
	}
	log := slog.With("run_id", rep.RunID, "date", rep.Date)

	defer func() {
		rep.Duration = p.now().Sub(rep.StartedAt)
		p.finish(ctx, rep, log)
	}()

	if limit <= 0 {
		limit = p.cfg.Ingest.Limit
	}
	log.Info("pipeline: run started", "limit", limit)

	candidates, err := p.deps.Source.Candidates(ctx, limit)
	if err != nil {
		p.fail(rep, log, "no keyword source", err)
		return rep
	}

	keywords, err := ResolveKeywords(ctx, p.deps.Store, day, candidates, limit)
	if err != nil {
		p.fail(rep, log, "store unreachable", err)
		return rep
	}
	rep.KeywordsFetched = len(keywords)
	log.Info("pipeline: keywords resolved",
		"candidates", len(candidates), "keywords", len(keywords))

	rep.State = types.StateScoring
	for _, kw := range keywords {
		if ctx.Err() != nil {
			p.fail(rep, log, "run cancelled", ctx.Err())
			return rep
		}
		p.fold(rep, log, p.processKeyword(ctx, day, kw))
	}

	if rep.KeywordsScored == 0 {
		// Degraded, not crashed: nothing to publish, but nothing broke
		// either. The previous site stays live.
		rep.State = types.StateDone
		rep.Success = false
		log.Warn("pipeline: no keywords scored, skipping publish")
		return rep
	}

	rep.State = types.StatePublishing
	if err := p.publishSite(ctx, day, log); err != nil {
		p.fail(rep, log, "publish step failed", err)
		return rep
	}
	rep.Published = true

	rep.State = types.StateDone
	rep.Success = true
	return rep
}

// ResolveKeywords normalizes and dedupes candidates in order, then upserts
// each survivor into st with day as the seen date, stopping at limit.
// Candidates that normalize to the empty string are dropped. The first
// store error aborts resolution. The fetch and score commands resolve
// through here as well as the nightly run.
func ResolveKeywords(ctx context.Context, st KeywordUpserter, day time.Time, cands []types.Candidate, limit int) ([]types.Keyword, error) {
	seen := make(map[string]bool, len(cands))
	out := make([]types.Keyword, 0, min(len(cands), limit))
	for _, c := range cands {
		text := types.Normalize(c.Text)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true

		kw, err := st.UpsertKeyword(ctx, text, c.Kind, day)
		if err != nil {
			return nil, fmt.Errorf("upsert keyword %q: %w", text, err)
		}
		out = append(out, kw)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// processKeyword runs the fetch → score → snapshot steps for one keyword
// and returns its tagged outcome. Errors never escape the iteration.
func (p *Pipeline) processKeyword(ctx context.Context, day time.Time, kw types.Keyword) outcome {
	series, err := p.deps.Series.GetOrFetch(ctx, kw, p.cfg.Trends.Geo, p.cfg.Trends.Timeframe)
	if err != nil {
		return outcome{keyword: kw.Text, stage: types.StageFetch, err: err}
	}

	m, err := scoring.Score(series)
	if err != nil {
		return outcome{keyword: kw.Text, stage: types.StageScore, err: err}
	}

	inserted, err := p.deps.Store.InsertSnapshot(ctx, types.DailySnapshot{
		KeywordID:    kw.ID,
		Date:         day,
		Momentum:     m.Momentum,
		Raw:          m.Raw,
		Lift:         m.Lift,
		Acceleration: m.Acceleration,
		Novelty:      m.Novelty,
		Noise:        m.Noise,
	})
	if err != nil {
		return outcome{keyword: kw.Text, stage: types.StageStore, err: err}
	}
	if !inserted {
		slog.Debug("pipeline: snapshot already present", "keyword", kw.Text, "date", day.Format(types.DateLayout))
	}
	return outcome{keyword: kw.Text}
}

// fold merges one tagged outcome into the report.
func (p *Pipeline) fold(rep *types.RunReport, log *slog.Logger, o outcome) {
	if o.err == nil {
		rep.KeywordsScored++
		return
	}
	rep.KeywordsFailed++
	rep.Errors = append(rep.Errors, types.KeywordError{
		Keyword: o.keyword,
		Stage:   o.stage,
		Message: o.err.Error(),
	})
	log.Warn("pipeline: keyword failed",
		"keyword", o.keyword, "stage", o.stage, "err", o.err)
}

// publishSite loads the day's rows, renders the staged tree, runs the
// content policy scan, applies ownership fix-up, and swaps the tree live.
// Any error here is fatal to the run; snapshot writes remain valid.
func (p *Pipeline) publishSite(ctx context.Context, day time.Time, log *slog.Logger) error {
	rows, err := p.deps.Store.SnapshotsForDate(ctx, day, p.cfg.Trends.Geo, p.cfg.Trends.Timeframe)
	if err != nil {
		return fmt.Errorf("load page rows: %w", err)
	}
	if err := p.deps.Builder.Build(rows); err != nil {
		return fmt.Errorf("stage site: %w", err)
	}

	violations, err := p.scan(p.cfg.Pages.StagingDir, p.cfg.Pages.ForbiddenTerms)
	if err != nil {
		return fmt.Errorf("policy scan: %w", err)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Error("pipeline: forbidden term in staged page",
				"file", v.File, "line", v.Line, "term", v.Term)
		}
		return fmt.Errorf("policy scan: %d forbidden term occurrence(s) in staged pages", len(violations))
	}

	if err := p.deps.Publisher.Fixup(p.cfg.Pages.StagingDir); err != nil {
		return fmt.Errorf("fix up staged tree: %w", err)
	}
	return p.deps.Publisher.Publish(p.cfg.Pages.StagingDir, p.cfg.Publish.LiveDir)
}

// fail records a fatal, run-level error and moves the run to failed.
func (p *Pipeline) fail(rep *types.RunReport, log *slog.Logger, msg string, err error) {
	rep.State = types.StateFailed
	rep.Success = false
	rep.Errors = append(rep.Errors, types.KeywordError{
		Stage:   types.StageRun,
		Message: fmt.Sprintf("%s: %v", msg, err),
	})
	log.Error("pipeline: "+msg, "err", err)
}

// finish stamps the terminal log line and hands the report to the notifier
// and metrics writer. Neither can change the outcome; their errors are only
// logged.
func (p *Pipeline) finish(ctx context.Context, rep *types.RunReport, log *slog.Logger) {
	level := slog.LevelInfo
	switch {
	case rep.State == types.StateFailed:
		level = slog.LevelError
	case !rep.Success:
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "pipeline: run finished",
		"state", rep.State,
		"success", rep.Success,
		"fetched", rep.KeywordsFetched,
		"scored", rep.KeywordsScored,
		"failed", rep.KeywordsFailed,
		"published", rep.Published,
		"took", rep.Duration,
	)

	if p.deps.Notifier != nil {
		p.deps.Notifier.Notify(ctx, rep)
	}
	if p.deps.Metrics != nil {
		if err := p.deps.Metrics.Export(rep); err != nil {
			log.Error("pipeline: metrics export failed", "err", err)
		}
	}
}
