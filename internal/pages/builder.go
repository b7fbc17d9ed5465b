package pages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/pkg/types"
)

// Builder renders one day's scored keywords into a static site tree.
type Builder struct {
	siteTitle string
	staging   string

	index   *template.Template
	keyword *template.Template

	now func() time.Time // injectable for tests
}

// New parses the page templates and returns a Builder targeting the
// configured staging directory.
func New(cfg config.PagesConfig) (*Builder, error) {
	idx, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("pages: parse index template: %w", err)
	}
	kw, err := template.New("keyword").Parse(keywordTemplate)
	if err != nil {
		return nil, fmt.Errorf("pages: parse keyword template: %w", err)
	}

	return &Builder{
		siteTitle: cfg.SiteTitle,
		staging:   cfg.StagingDir,
		index:     idx,
		keyword:   kw,
		now:       time.Now,
	}, nil
}

// indexData is the template data for index.html.
type indexData struct {
	Title       string
	Date        string
	Rows        []indexRow
	GeneratedAt string
}

// indexRow is one line of the ranked momentum table.
type indexRow struct {
	Rank         int
	Slug         string
	Keyword      string
	Kind         string
	Momentum     int
	Lift         string
	Acceleration string
	Novelty      string
	Noise        string
}

// keywordData is the template data for one k/<slug>.html page.
type keywordData struct {
	SiteTitle    string
	Keyword      string
	Kind         string
	Momentum     int
	Date         string
	Lift         string
	Acceleration string
	Novelty      string
	Noise        string
	HasSeries    bool
	SeriesJSON   template.JS
	GeneratedAt  string
}

// Build renders rows into the staging directory, replacing any previously
// staged tree in full. Rank follows momentum descending regardless of input
// order.
func (b *Builder) Build(rows []types.PageRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("pages: no rows to render")
	}

	sorted := make([]types.PageRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Snapshot.Momentum != sorted[j].Snapshot.Momentum {
			return sorted[i].Snapshot.Momentum > sorted[j].Snapshot.Momentum
		}
		return sorted[i].Keyword.Text < sorted[j].Keyword.Text
	})

	if err := os.RemoveAll(b.staging); err != nil {
		return fmt.Errorf("pages: clear staging dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(b.staging, "k"), 0o755); err != nil {
		return fmt.Errorf("pages: create staging dir: %w", err)
	}

	generatedAt := b.now().UTC().Format(time.RFC3339)
	date := sorted[0].Snapshot.Date.Format(types.DateLayout)
	slugs := assignSlugs(sorted)

	idx := indexData{
		Title:       b.siteTitle,
		Date:        date,
		Rows:        make([]indexRow, len(sorted)),
		GeneratedAt: generatedAt,
	}
	for i, row := range sorted {
		idx.Rows[i] = indexRow{
			Rank:         i + 1,
			Slug:         slugs[i],
			Keyword:      row.Keyword.Text,
			Kind:         string(row.Keyword.Kind),
			Momentum:     row.Snapshot.Momentum,
			Lift:         fmt.Sprintf("%.2f", row.Snapshot.Lift),
			Acceleration: fmt.Sprintf("%.2f", row.Snapshot.Acceleration),
			Novelty:      fmt.Sprintf("%.1f%%", row.Snapshot.Novelty*100),
			Noise:        fmt.Sprintf("%.2f", row.Snapshot.Noise),
		}
	}
	if err := b.render(b.index, filepath.Join(b.staging, "index.html"), idx); err != nil {
		return err
	}

	for i, row := range sorted {
		data := keywordData{
			SiteTitle:    b.siteTitle,
			Keyword:      row.Keyword.Text,
			Kind:         string(row.Keyword.Kind),
			Momentum:     row.Snapshot.Momentum,
			Date:         row.Snapshot.Date.Format(types.DateLayout),
			Lift:         fmt.Sprintf("%.2f", row.Snapshot.Lift),
			Acceleration: fmt.Sprintf("%.2f", row.Snapshot.Acceleration),
			Novelty:      fmt.Sprintf("%.1f%%", row.Snapshot.Novelty*100),
			Noise:        fmt.Sprintf("%.2f", row.Snapshot.Noise),
			GeneratedAt:  generatedAt,
		}
		if len(row.Series) > 0 {
			raw, err := json.Marshal(row.Series)
			if err != nil {
				return fmt.Errorf("pages: marshal series for %q: %w", row.Keyword.Text, err)
			}
			data.HasSeries = true
			data.SeriesJSON = template.JS(raw)
		}

		path := filepath.Join(b.staging, "k", slugs[i]+".html")
		if err := b.render(b.keyword, path, data); err != nil {
			return err
		}
		slog.Debug("pages: rendered keyword page", "keyword", row.Keyword.Text, "path", path)
	}

	slog.Info("pages: staged site rendered",
		"dir", b.staging,
		"keywords", len(sorted),
		"date", date)
	return nil
}

// render executes t into a buffer and writes the result in one shot, so a
// template error never leaves a truncated file in the staging tree.
func (b *Builder) render(t *template.Template, path string, data any) error {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Errorf("pages: render %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("pages: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// assignSlugs maps rows to unique page slugs in row order. A collision gets
// a numeric suffix; a keyword with no sluggable characters falls back to its
// numeric ID.
func assignSlugs(rows []types.PageRow) []string {
	slugs := make([]string, len(rows))
	used := make(map[string]bool, len(rows))
	for i, row := range rows {
		base := slugify(row.Keyword.Text)
		if base == "" {
			base = fmt.Sprintf("kw-%d", row.Keyword.ID)
		}
		s := base
		for n := 2; used[s]; n++ {
			s = fmt.Sprintf("%s-%d", base, n)
		}
		used[s] = true
		slugs[i] = s
	}
	return slugs
}

// slugify lowercases text and collapses every run of non-alphanumerics into
// a single hyphen. Unicode letters and digits survive, so non-Latin keywords
// keep readable page names.
func slugify(text string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <meta name="description" content="Keywords ranked by search momentum">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 1000px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 30px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { margin-top: 0; color: #2563eb; }
        .date { color: #6b7280; margin-bottom: 20px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 10px 12px; border-bottom: 1px solid #e5e7eb; }
        th { font-size: 0.85em; text-transform: uppercase; color: #6b7280; }
        td.num { text-align: right; font-variant-numeric: tabular-nums; }
        .momentum { font-weight: bold; color: #2563eb; }
        a { color: #111827; text-decoration: none; font-weight: 600; }
        a:hover { color: #2563eb; }
        .kind { color: #6b7280; font-size: 0.9em; }
        .footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #e5e7eb; font-size: 0.9em; color: #6b7280; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">Momentum ranking for {{.Date}}</div>
        <table>
            <thead>
                <tr>
                    <th>#</th>
                    <th>Keyword</th>
                    <th>Type</th>
                    <th>Momentum</th>
                    <th>Lift</th>
                    <th>Accel</th>
                    <th>Novelty</th>
                    <th>Noise</th>
                </tr>
            </thead>
            <tbody>
                {{range .Rows}}
                <tr>
                    <td class="num">{{.Rank}}</td>
                    <td><a href="k/{{.Slug}}.html">{{.Keyword}}</a></td>
                    <td class="kind">{{.Kind}}</td>
                    <td class="num momentum">{{.Momentum}}</td>
                    <td class="num">{{.Lift}}</td>
                    <td class="num">{{.Acceleration}}</td>
                    <td class="num">{{.Novelty}}</td>
                    <td class="num">{{.Noise}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        <div class="footer">Generated {{.GeneratedAt}}</div>
    </div>
</body>
</html>
`

const keywordTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Keyword}} - {{.SiteTitle}}</title>
    <meta name="description" content="Search momentum for {{.Keyword}}">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 900px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 30px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { margin: 10px 0 0; color: #2563eb; }
        .kind { color: #6b7280; font-size: 0.9em; }
        .back { display: inline-block; margin-bottom: 10px; color: #2563eb; text-decoration: none; }
        .back:hover { text-decoration: underline; }
        .score { font-size: 3em; font-weight: bold; color: #2563eb; margin: 20px 0 5px; }
        .score .denom { font-size: 0.4em; color: #6b7280; font-weight: normal; }
        .date { color: #6b7280; }
        .metrics { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 20px; margin: 30px 0; }
        .metric { padding: 15px; background: #f9fafb; border-radius: 6px; }
        .metric-label { font-size: 0.9em; color: #6b7280; margin-bottom: 5px; }
        .metric-value { font-size: 1.5em; font-weight: bold; color: #111827; }
        .chart-container { margin: 30px 0; padding: 20px; background: #f9fafb; border-radius: 6px; }
        .footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #e5e7eb; font-size: 0.9em; color: #6b7280; }
    </style>
</head>
<body>
    <div class="container">
        <a href="../index.html" class="back">&larr; All keywords</a>
        <h1>{{.Keyword}}</h1>
        <div class="kind">{{.Kind}}</div>
        <div class="score">{{.Momentum}}<span class="denom">/100</span></div>
        <div class="date">Last scored {{.Date}}</div>
        <div class="metrics">
            <div class="metric">
                <div class="metric-label">Lift</div>
                <div class="metric-value">{{.Lift}}</div>
            </div>
            <div class="metric">
                <div class="metric-label">Acceleration</div>
                <div class="metric-value">{{.Acceleration}}</div>
            </div>
            <div class="metric">
                <div class="metric-label">Novelty</div>
                <div class="metric-value">{{.Novelty}}</div>
            </div>
            <div class="metric">
                <div class="metric-label">Noise</div>
                <div class="metric-value">{{.Noise}}</div>
            </div>
        </div>
        {{if .HasSeries}}
        <div class="chart-container">
            <h2>Weekly search interest</h2>
            <canvas id="seriesChart" width="800" height="400"></canvas>
        </div>
        <script src="https://cdn.jsdelivr.net/npm/chart.js@4.4.0/dist/chart.umd.min.js"></script>
        <script>
            const series = {{.SeriesJSON}};
            const labels = series.map((_, i) => i - series.length + 1);
            new Chart(document.getElementById('seriesChart'), {
                type: 'line',
                data: {
                    labels: labels,
                    datasets: [{
                        label: 'Search interest',
                        data: series,
                        borderColor: '#2563eb',
                        backgroundColor: 'rgba(37, 99, 235, 0.1)',
                        tension: 0.4
                    }]
                },
                options: {
                    responsive: true,
                    scales: { y: { beginAtZero: true, max: 100 } }
                }
            });
        </script>
        {{end}}
        <div class="footer">Generated {{.GeneratedAt}}</div>
    </div>
</body>
</html>
`
