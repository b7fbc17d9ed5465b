// Package metrics records run outcomes on a private Prometheus registry and
// exports them after each run. A nightly batch job has no scrape endpoint to
// serve, so the two sinks are a node-exporter textfile (written atomically)
// and an optional pushgateway.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/pkg/types"
)

// Writer owns the run gauges and the configured export sinks.
type Writer struct {
	textfilePath string
	pushURL      string
	job          string

	registry *prometheus.Registry

	fetched   prometheus.Gauge
	scored    prometheus.Gauge
	failed    prometheus.Gauge
	duration  prometheus.Gauge
	success   prometheus.Gauge
	published prometheus.Gauge
	lastRun   prometheus.Gauge
}

// New builds a Writer from config. With both sinks left empty, Export is a
// no-op.
func New(cfg config.MetricsConfig) *Writer {
	w := &Writer{
		textfilePath: cfg.TextfilePath,
		pushURL:      cfg.PushgatewayURL,
		job:          cfg.Job,
		registry:     prometheus.NewRegistry(),
		fetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_run_keywords_fetched",
			Help: "Candidate keywords fetched in the last run.",
		}),
		scored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_run_keywords_scored",
			Help: "Keywords scored and snapshotted in the last run.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_run_keywords_failed",
			Help: "Keywords that failed fetch, scoring, or storage in the last run.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_run_duration_seconds",
			Help: "Wall-clock duration of the last run.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_run_success",
			Help: "1 if the last run succeeded, 0 otherwise.",
		}),
		published: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_run_published",
			Help: "1 if the last run swapped a new site live, 0 otherwise.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendmill_last_run_timestamp_seconds",
			Help: "Unix time the last run started.",
		}),
	}
	w.registry.MustRegister(
		w.fetched, w.scored, w.failed,
		w.duration, w.success, w.published, w.lastRun,
	)
	return w
}

// Export records rep on the gauges and writes every configured sink. Sink
// failures are joined and returned for logging; by the time metrics are
// written the run outcome is already final, so the caller must not treat an
// export error as a run failure.
func (w *Writer) Export(rep *types.RunReport) error {
	if w == nil || (w.textfilePath == "" && w.pushURL == "") {
		return nil
	}
	w.record(rep)

	var errs []error
	if w.textfilePath != "" {
		if err := w.writeTextfile(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: textfile: %w", err))
		} else {
			slog.Debug("metrics: textfile written", "path", w.textfilePath)
		}
	}
	if w.pushURL != "" {
		if err := w.pushToGateway(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: pushgateway: %w", err))
		} else {
			slog.Debug("metrics: pushed to gateway", "url", w.pushURL, "job", w.job)
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) record(rep *types.RunReport) {
	w.fetched.Set(float64(rep.KeywordsFetched))
	w.scored.Set(float64(rep.KeywordsScored))
	w.failed.Set(float64(rep.KeywordsFailed))
	w.duration.Set(rep.Duration.Seconds())
	w.success.Set(boolValue(rep.Success))
	w.published.Set(boolValue(rep.Published))
	w.lastRun.Set(float64(rep.StartedAt.Unix()))
}

// writeTextfile encodes the registry into a temp file and renames it over
// the destination, so the textfile collector never reads a partial write.
func (w *Writer) writeTextfile() error {
	mfs, err := w.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}

	dir := filepath.Dir(w.textfilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(w.textfilePath)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := encodeFamilies(tmp, mfs); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	// CreateTemp defaults to 0600; the collector usually runs as another user.
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.textfilePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// encodeFamilies writes mfs in Prometheus text exposition format.
func encodeFamilies(out io.Writer, mfs []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func (w *Writer) pushToGateway() error {
	p := push.New(w.pushURL, w.job).Gatherer(w.registry)
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		p = p.Grouping("instance", hostname)
	}
	return p.Push()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
