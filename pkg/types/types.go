package types

import "time"

// KeywordKind classifies where a candidate keyword came from.
type KeywordKind string

// Keyword kinds accepted by ingestion.
const (
	KindKeyword KeywordKind = "keyword"
	KindHashtag KeywordKind = "hashtag"
	KindSound   KeywordKind = "sound"
)

// Valid reports whether k is one of the known keyword kinds.
func (k KeywordKind) Valid() bool {
	switch k {
	case KindKeyword, KindHashtag, KindSound:
		return true
	}
	return false
}

// Candidate is a raw keyword sighting as returned by an ingestion source,
// before normalization and deduplication.
type Candidate struct {
	Text string
	Kind KeywordKind
}

// Keyword is a tracked keyword. Text is normalized and unique; FirstSeen is
// set on creation and LastSeen updated on every sighting.
type Keyword struct {
	ID        int64
	Text      string
	Kind      KeywordKind
	FirstSeen time.Time
	LastSeen  time.Time
}

// TrendsCacheEntry is one cached weekly interest series for a
// (keyword, geo, timeframe) triple. Series is ordered oldest first, newest
// last. Entries are replaced wholesale on refetch, never merged.
type TrendsCacheEntry struct {
	KeywordID int64
	Geo       string
	Timeframe string
	Series    []float64
	FetchedAt time.Time
}

// DailySnapshot is one scored observation of a keyword on a given date.
// Unique per (keyword, date) and append-only once written.
type DailySnapshot struct {
	KeywordID    int64
	Date         time.Time
	Momentum     int // always in [1,100]
	Raw          float64
	Lift         float64
	Acceleration float64
	Novelty      float64
	Noise        float64
}

// PageRow is the joined snapshot + keyword + series record the page builder
// consumes, one per rendered keyword page.
type PageRow struct {
	Keyword  Keyword
	Snapshot DailySnapshot
	Series   []float64
}

// RunState names the orchestrator's position in the nightly state machine.
type RunState string

// Run states, in order of progression. A run terminates in StateDone or
// StateFailed.
const (
	StateIngesting  RunState = "ingesting"
	StateScoring    RunState = "scoring"
	StatePublishing RunState = "publishing"
	StateDone       RunState = "done"
	StateFailed     RunState = "failed"
)

// Stages recorded on tagged error outcomes. StageRun marks a fatal,
// run-level failure rather than a per-keyword one.
const (
	StageFetch = "fetch"
	StageScore = "score"
	StageStore = "store"
	StageRun   = "run"
)

// KeywordError is one failure recorded in the run report. Per-keyword
// entries (fetch/score/store stages) never abort the run; a run-stage entry
// records the fatal error that did.
type KeywordError struct {
	Keyword string `json:"keyword,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// RunReport is the sole artifact a pipeline run surfaces. It is transient,
// owned by the orchestrator for exactly one run, and handed to the CLI,
// notifier, and metrics writer after the terminal state is reached.
//
// Success=false with State=done means the run degraded (nothing scored, so
// nothing published) rather than crashed; only State=failed is an error exit.
type RunReport struct {
	RunID           string         `json:"run_id"`
	Date            string         `json:"date"` // YYYY-MM-DD
	State           RunState       `json:"state"`
	Success         bool           `json:"success"`
	KeywordsFetched int            `json:"keywords_fetched"`
	KeywordsScored  int            `json:"keywords_scored"`
	KeywordsFailed  int            `json:"keywords_failed"`
	Errors          []KeywordError `json:"errors,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"duration"`
	Published       bool           `json:"published"`
}

// DateLayout is the canonical YYYY-MM-DD form used for snapshot dates, run
// reports, and CLI flags.
const DateLayout = "2006-01-02"

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
