// Package app assembles the pipeline and its sinks from configuration. Both
// binaries start here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/sift/internal/anthropic"
	"github.com/MikeSquared-Agency/sift/internal/config"
	"github.com/MikeSquared-Agency/sift/internal/inference"
	"github.com/MikeSquared-Agency/sift/internal/insight"
	"github.com/MikeSquared-Agency/sift/internal/processor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
	"github.com/MikeSquared-Agency/sift/internal/slack"
	"github.com/MikeSquared-Agency/sift/internal/store"
)

// Components are the long-lived pieces built from a Config. Optional ones
// are nil when not configured.
type Components struct {
	Pipeline  *scoring.Pipeline
	Store     *store.Store
	Slack     *slack.Poster
	LLM       *anthropic.Client
	Insights  *insight.Generator
	Processor *processor.Processor

	logger *slog.Logger
}

// NewPipeline builds the predictors and the scoring pipeline.
func NewPipeline(cfg config.Config, logger *slog.Logger) (*scoring.Pipeline, error) {
	client := inference.NewClient(cfg.InferenceURL, inference.Options{
		Token:         cfg.InferenceToken,
		MaxRetries:    cfg.PredictRetries,
		MaxInputChars: cfg.MaxInputChars,
	}, logger)

	policy := cfg.Policy()
	return scoring.New(
		inference.NewSentimentAdapter(client, cfg.SentimentModel),
		inference.NewCategoryAdapter(client, cfg.CategoryModel, cfg.Labels),
		scoring.Options{
			Workers:        cfg.Workers,
			PredictTimeout: cfg.PredictTimeout,
			Labels:         cfg.Labels,
			Policy:         &policy,
		},
		logger,
	)
}

// Build validates cfg and assembles every configured component. bus may be
// nil. Call Close when done.
func Build(ctx context.Context, cfg config.Config, bus processor.Publisher, logger *slog.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &Components{Pipeline: pipeline, logger: logger}
	deps := processor.Deps{Scorer: pipeline, Bus: bus}

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		c.Store = db
		deps.Store = db
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, runs will not be persisted")
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		c.Slack = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		deps.Slack = c.Slack
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		logger.Warn("slack not configured, reports will not be posted")
	}

	if cfg.AnthropicAPIKey != "" {
		c.LLM = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.InsightModel, anthropic.Options{MaxRetries: anthropic.DefaultMaxRetries}, logger)
		c.Insights = insight.New(c.LLM, logger)
		deps.Insights = c.Insights
		logger.Info("anthropic client ready", "model", cfg.InsightModel)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, insights disabled")
	}

	c.Processor = processor.New(deps, logger)
	return c, nil
}

// Close releases the database pool and logs what the LLM client spent.
func (c *Components) Close() {
	if c.LLM != nil {
		u := c.LLM.Usage()
		c.logger.Info("anthropic usage",
			"requests", u.Requests,
			"input_tokens", u.InputTokens,
			"output_tokens", u.OutputTokens,
		)
	}
	if c.Store != nil {
		c.Store.Close()
	}
}
