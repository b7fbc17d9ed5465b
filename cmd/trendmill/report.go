package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/trendmill/trendmill/internal/pages"
	"github.com/trendmill/trendmill/pkg/types"
)

// printReport renders a finished run report for the terminal: an aligned
// summary block, then a table of failures when there are any.
func printReport(w io.Writer, rep *types.RunReport) {
	state := string(rep.State)
	if rep.State == types.StateDone && !rep.Success {
		state += " (degraded)"
	}
	published := "no"
	if rep.Published {
		published = "yes"
	}

	fmt.Fprintf(w, "%-9s  %s\n", "run", rep.RunID)
	fmt.Fprintf(w, "%-9s  %s\n", "date", rep.Date)
	fmt.Fprintf(w, "%-9s  %s\n", "state", state)
	fmt.Fprintf(w, "%-9s  %d\n", "fetched", rep.KeywordsFetched)
	fmt.Fprintf(w, "%-9s  %d\n", "scored", rep.KeywordsScored)
	fmt.Fprintf(w, "%-9s  %d\n", "failed", rep.KeywordsFailed)
	fmt.Fprintf(w, "%-9s  %s\n", "published", published)
	fmt.Fprintf(w, "%-9s  %s\n", "duration", rep.Duration.Round(time.Millisecond))

	if len(rep.Errors) == 0 {
		return
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		kw := e.Keyword
		if kw == "" {
			kw = "(run)"
		}
		rows = append(rows, []string{kw, e.Stage, e.Message})
	}
	renderTable(w, []string{"KEYWORD", "STAGE", "ERROR"}, rows)
}

func printViolations(w io.Writer, violations []pages.Violation) {
	rows := make([][]string, 0, len(violations))
	for _, v := range violations {
		rows = append(rows, []string{v.File, strconv.Itoa(v.Line), v.Term})
	}
	renderTable(w, []string{"FILE", "LINE", "TERM"}, rows)
	fmt.Fprintf(w, "\n%d forbidden term occurrence(s)\n", len(violations))
}

// renderTable writes a padded text table. Column widths use terminal
// display width rather than rune count, so CJK keywords stay aligned.
func renderTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && runewidth.StringWidth(cell) > widths[i] {
				widths[i] = runewidth.StringWidth(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				io.WriteString(w, "  ")
			}
			io.WriteString(w, cell)
			if pad := widths[i] - runewidth.StringWidth(cell); pad > 0 && i < len(cells)-1 {
				io.WriteString(w, strings.Repeat(" ", pad))
			}
		}
		io.WriteString(w, "\n")
	}

	writeRow(header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
}
