// Package notify posts run reports to an optional webhook. Failed and
// degraded runs are always posted; fully successful runs only when
// configured. An unconfigured notifier is a no-op.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/trendmill/trendmill/internal/config"
	"github.com/trendmill/trendmill/pkg/types"
)

const sendTimeout = 10 * time.Second

// Notifier delivers run reports to a single configured webhook.
// A nil Notifier, or one with no resolved URL, does nothing.
type Notifier struct {
	kind      string
	url       string
	onSuccess bool
	client    *http.Client
}

// New builds a Notifier from config. The webhook URL is resolved from the
// environment once, at construction.
func New(cfg config.NotifyConfig) *Notifier {
	kind := cfg.Kind
	if kind == "" {
		kind = "generic"
	}
	return &Notifier{
		kind:      kind,
		url:       cfg.URL(),
		onSuccess: cfg.OnSuccess,
		client:    &http.Client{Timeout: sendTimeout},
	}
}

// Notify posts rep to the webhook. Delivery errors are logged, never
// returned: a lost notification must not fail a finished run.
func (n *Notifier) Notify(ctx context.Context, rep *types.RunReport) {
	if n == nil || n.url == "" {
		return
	}
	if rep.Success && !n.onSuccess {
		slog.Debug("notify: skipping report for successful run", "run_id", rep.RunID)
		return
	}

	if err := n.send(ctx, rep); err != nil {
		slog.Error("notify: webhook delivery failed",
			"kind", n.kind,
			"run_id", rep.RunID,
			"err", err,
		)
		return
	}
	slog.Debug("notify: webhook delivered",
		"kind", n.kind,
		"run_id", rep.RunID,
		"state", rep.State,
	)
}

func (n *Notifier) send(ctx context.Context, rep *types.RunReport) error {
	switch n.kind {
	case "slack":
		return n.sendSlack(ctx, rep)
	case "teams":
		return n.sendTeams(ctx, rep)
	default:
		return n.sendGeneric(ctx, rep)
	}
}

func (n *Notifier) sendSlack(ctx context.Context, rep *types.RunReport) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", outcomeLabel(rep), summaryLine(rep)),
	})
	return n.post(ctx, body)
}

func (n *Notifier) sendTeams(ctx context.Context, rep *types.RunReport) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": outcomeColor(rep),
		"summary":    fmt.Sprintf("Trendmill run %s", rep.Date),
		"title":      fmt.Sprintf("Trendmill run %s %s", rep.Date, outcomeLabel(rep)),
		"text":       summaryLine(rep),
	}
	body, _ := json.Marshal(payload)
	return n.post(ctx, body)
}

func (n *Notifier) sendGeneric(ctx context.Context, rep *types.RunReport) error {
	body, _ := json.Marshal(map[string]interface{}{"report": rep})
	return n.post(ctx, body)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func summaryLine(rep *types.RunReport) string {
	return fmt.Sprintf("run %s: fetched %d, scored %d, failed %d in %s",
		rep.Date, rep.KeywordsFetched, rep.KeywordsScored, rep.KeywordsFailed,
		rep.Duration.Round(time.Second))
}

func outcomeLabel(rep *types.RunReport) string {
	switch {
	case rep.State == types.StateFailed:
		return "[FAILED]"
	case !rep.Success:
		return "[DEGRADED]"
	default:
		return "[OK]"
	}
}

func outcomeColor(rep *types.RunReport) string {
	switch {
	case rep.State == types.StateFailed:
		return "FF4F6A"
	case !rep.Success:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
