// Package insight asks an LLM for a narrative summary of a scored corpus.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/sift/internal/anthropic"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

// ErrEmptyCorpus is returned when there is nothing to summarize.
var ErrEmptyCorpus = errors.New("empty corpus")

// Completer is the LLM call the generator needs. *anthropic.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

// Report is the LLM's reading of a corpus.
type Report struct {
	Summary       string   `json:"summary"`
	PositiveTones []string `json:"positive_tones"`
	NegativeTones []string `json:"negative_tones"`
	KeyIssues     []string `json:"key_issues"`
	NextSteps     []string `json:"next_steps"`
}

type Generator struct {
	llm    Completer
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Generator {
	return &Generator{llm: llm, logger: logger}
}

// Generate summarizes corpus.
func (g *Generator) Generate(ctx context.Context, corpus []scoring.ScoredMessage) (*Report, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}

	prompt := fmt.Sprintf(userPrompt, len(corpus), FormatCorpus(corpus))
	messages := []anthropic.Message{
		{Role: "user", Content: prompt},
	}

	g.logger.Info("generating insights",
		"messages", len(corpus),
		"prompt_len", len(prompt),
	)

	raw, err := g.llm.Complete(ctx, systemPrompt, messages, 2048)
	if err != nil {
		return nil, fmt.Errorf("llm insights: %w", err)
	}

	report, err := parseReport(raw)
	if err != nil {
		g.logger.Error("failed to parse insight response",
			"error", err,
			"raw", raw,
		)
		return nil, err
	}

	g.logger.Info("insights generated",
		"key_issues", len(report.KeyIssues),
		"next_steps", len(report.NextSteps),
	)
	return report, nil
}

// FormatCorpus renders each message with its scores as a bullet entry.
func FormatCorpus(corpus []scoring.ScoredMessage) string {
	var b strings.Builder
	for _, m := range corpus {
		fmt.Fprintf(&b, "- Message: %s\n", strings.TrimSpace(m.Text))
		fmt.Fprintf(&b, "  Sentiment: %s\n", m.Sentiment)
		fmt.Fprintf(&b, "  Category: %s (%.2f)\n\n", m.Category, m.CategoryConfidence)
	}
	return b.String()
}

func parseReport(raw string) (*Report, error) {
	raw = strings.TrimSpace(raw)
	// Models sometimes wrap the object in a markdown code fence.
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
	}

	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("parse insights: %w", err)
	}
	if report.Summary == "" {
		return nil, fmt.Errorf("parse insights: missing summary")
	}
	return &report, nil
}
