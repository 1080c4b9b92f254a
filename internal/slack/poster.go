package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/insight"
	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxHighlights caps the negative messages quoted in a report.
const maxHighlights = 5

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostReport posts the triage summary of a run and returns the message
// timestamp, which insights are threaded under.
func (p *Poster) PostReport(ctx context.Context, runID, source string, res *scoring.Result) (string, error) {
	text := formatReportMessage(runID, source, res)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Run `" + runID + "`",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("posted report to slack", "ts", ts, "run_id", runID)
	return ts, nil
}

// PostInsights posts the insight report as a reply under threadTS.
func (p *Poster) PostInsights(ctx context.Context, threadTS string, report *insight.Report) error {
	return p.PostThread(ctx, threadTS, formatInsights(report))
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatReportMessage(runID, source string, res *scoring.Result) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Triage report:* %s\n", source)
	fmt.Fprintf(&sb, "*Messages:* %d in %d threads | kept %d, dropped %d, failed %d\n\n",
		res.Messages, res.Threads, res.Kept, res.Dropped, res.Failed)

	if len(res.Corpus) == 0 {
		sb.WriteString("_Nothing worth flagging in this export._")
		return sb.String()
	}

	b := res.Breakdown()
	sb.WriteString("*By sentiment:* ")
	parts := make([]string, 0, len(predictor.Sentiments))
	for _, s := range predictor.Sentiments {
		parts = append(parts, fmt.Sprintf("%s %d", s, b.BySentiment[s]))
	}
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString("\n")

	categories := make([]string, 0, len(b.ByCategory))
	for c := range b.ByCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		ci, cj := b.ByCategory[categories[i]], b.ByCategory[categories[j]]
		if ci != cj {
			return ci > cj
		}
		return categories[i] < categories[j]
	})
	parts = parts[:0]
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("%s %d", c, b.ByCategory[c]))
	}
	fmt.Fprintf(&sb, "*By category:* %s\n", strings.Join(parts, ", "))

	var highlights []scoring.ScoredMessage
	for _, m := range res.Corpus {
		if m.Sentiment == predictor.Negative {
			highlights = append(highlights, m)
		}
	}
	if len(highlights) > 0 {
		fmt.Fprintf(&sb, "\n*Negative messages: %d*\n", len(highlights))
		for i, m := range highlights {
			if i == maxHighlights {
				fmt.Fprintf(&sb, "_...and %d more_\n", len(highlights)-maxHighlights)
				break
			}
			fmt.Fprintf(&sb, "%d. %s\n   <#%s> | %s (%.2f)\n", i+1, ownText(m.Text), m.ChannelID, m.Category, m.CategoryConfidence)
		}
	}

	return sb.String()
}

func formatInsights(r *insight.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Summary*\n%s\n", r.Summary)

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n*%s*\n", title)
		for _, item := range items {
			fmt.Fprintf(&sb, "• %s\n", item)
		}
	}
	section("Positive", r.PositiveTones)
	section("Negative", r.NegativeTones)
	section("Key issues", r.KeyIssues)
	section("Next steps", r.NextSteps)

	return sb.String()
}

// ownText strips the thread context from an augmented message text.
func ownText(text string) string {
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		return text[i+1:]
	}
	return text
}
