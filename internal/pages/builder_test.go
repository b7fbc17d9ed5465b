package pages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/pkg/types"
)

func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	staging := filepath.Join(t.TempDir(), "staged")
	b, err := New(config.PagesConfig{SiteTitle: "Trendmill Test", StagingDir: staging})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.now = func() time.Time { return time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC) }
	return b, staging
}

func pageRow(id int64, text string, kind types.KeywordKind, momentum int, series []float64) types.PageRow {
	return types.PageRow{
		Keyword: types.Keyword{ID: id, Text: text, Kind: kind},
		Snapshot: types.DailySnapshot{
			KeywordID:    id,
			Date:         time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			Momentum:     momentum,
			Lift:         0.42,
			Acceleration: -1.5,
			Novelty:      0.625,
			Noise:        0.08,
		},
		Series: series,
	}
}

func readPage(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestBuild_RendersIndexAndKeywordPages(t *testing.T) {
	b, staging := newTestBuilder(t)

	// Deliberately out of rank order; Build must sort by momentum itself.
	rows := []types.PageRow{
		pageRow(2, "quiet luxury", types.KindHashtag, 54, nil),
		pageRow(1, "glow up", types.KindKeyword, 87, []float64{10, 20, 30}),
	}
	if err := b.Build(rows); err != nil {
		t.Fatalf("Build: %v", err)
	}

	idx := readPage(t, filepath.Join(staging, "index.html"))
	for _, want := range []string{
		"Trendmill Test",
		"2025-03-14",
		`<a href="k/glow-up.html">glow up</a>`,
		`<a href="k/quiet-luxury.html">quiet luxury</a>`,
		">87<",
		">54<",
		"0.42",  // lift
		"-1.50", // acceleration
		"62.5%", // novelty as percent
		"0.08",  // noise
		"2025-03-14T02:00:00Z",
	} {
		if !strings.Contains(idx, want) {
			t.Errorf("index.html missing %q", want)
		}
	}
	if strings.Index(idx, "glow up") > strings.Index(idx, "quiet luxury") {
		t.Error("index.html should rank the higher momentum keyword first")
	}

	page := readPage(t, filepath.Join(staging, "k", "glow-up.html"))
	for _, want := range []string{
		"glow up",
		">87<",
		"cdn.jsdelivr.net/npm/chart.js",
		"[10,20,30]",
		`href="../index.html"`,
		"Last scored 2025-03-14",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("glow-up.html missing %q", want)
		}
	}

	// No cached series means no chart markup at all.
	page2 := readPage(t, filepath.Join(staging, "k", "quiet-luxury.html"))
	if strings.Contains(page2, "chart.js") || strings.Contains(page2, "<canvas") {
		t.Error("page without series should not embed the chart")
	}
}

func TestBuild_EmptyRowsFails(t *testing.T) {
	b, _ := newTestBuilder(t)
	if err := b.Build(nil); err == nil {
		t.Fatal("expected error for empty rows")
	}
}

func TestBuild_SlugCollisionsGetSuffixes(t *testing.T) {
	b, staging := newTestBuilder(t)

	rows := []types.PageRow{
		pageRow(1, "glow up", types.KindKeyword, 90, nil),
		pageRow(2, "glow-up", types.KindKeyword, 80, nil),
		pageRow(3, "glow up!", types.KindHashtag, 70, nil),
	}
	if err := b.Build(rows); err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, name := range []string{"glow-up.html", "glow-up-2.html", "glow-up-3.html"} {
		if _, err := os.Stat(filepath.Join(staging, "k", name)); err != nil {
			t.Errorf("expected page %s: %v", name, err)
		}
	}
}

func TestBuild_ReplacesPreviousStagedTree(t *testing.T) {
	b, staging := newTestBuilder(t)

	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(staging, "stale.html")
	if err := os.WriteFile(stale, []byte("old run"), 0o644); err != nil {
		t.Fatal(err)
	}

	rows := []types.PageRow{pageRow(1, "glow up", types.KindKeyword, 87, nil)}
	if err := b.Build(rows); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("previous staged tree should be removed before rendering")
	}
	if _, err := os.Stat(filepath.Join(staging, "index.html")); err != nil {
		t.Errorf("index.html not rendered: %v", err)
	}
}

func TestBuild_EscapesKeywordMarkup(t *testing.T) {
	b, staging := newTestBuilder(t)

	rows := []types.PageRow{pageRow(7, "<script>alert('x')</script>", types.KindKeyword, 50, nil)}
	if err := b.Build(rows); err != nil {
		t.Fatalf("Build: %v", err)
	}

	idx := readPage(t, filepath.Join(staging, "index.html"))
	if strings.Contains(idx, "<script>alert") {
		t.Error("keyword text must be HTML-escaped in the index")
	}
	if !strings.Contains(idx, "&lt;script&gt;") {
		t.Error("escaped keyword text missing from the index")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain words", "glow up", "glow-up"},
		{"punctuation collapses", "c# tips!", "c-tips"},
		{"hyphen runs collapse", "al--ready", "al-ready"},
		{"uppercase lowered", "Glow UP", "glow-up"},
		{"unicode letters survive", "café party", "café-party"},
		{"digits survive", "top 10", "top-10"},
		{"nothing sluggable", "!!!", ""},
		{"surrounding space trimmed", " spaced ", "spaced"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := slugify(tt.in); got != tt.want {
				t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAssignSlugs_FallbackToKeywordID(t *testing.T) {
	rows := []types.PageRow{pageRow(42, "!!!", types.KindSound, 10, nil)}
	slugs := assignSlugs(rows)
	if slugs[0] != "kw-42" {
		t.Errorf("slug = %q, want kw-42", slugs[0])
	}
}
