// Package scoring runs every grouped message through the predictors and the
// triage policy and collects the survivors into the report corpus.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sift/internal/config"
	"github.com/MikeSquared-Agency/sift/internal/message"
	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/thread"
	"github.com/MikeSquared-Agency/sift/internal/triage"
)

type Options struct {
	// Workers is the number of threads scored concurrently. Messages within
	// a thread are always scored in order.
	Workers int
	// PredictTimeout bounds each predictor call. Zero means no limit.
	PredictTimeout time.Duration
	// Labels is the closed category label set. Nil means
	// predictor.DefaultLabels.
	Labels []string
	// Policy decides what is kept. Nil means triage.DefaultPolicy.
	Policy *triage.Policy
}

type Pipeline struct {
	sentiment predictor.SentimentPredictor
	category  predictor.CategoryPredictor
	opts      Options
	policy    triage.Policy
	labels    map[string]bool
	logger    *slog.Logger
}

// New builds a pipeline. Missing predictors, a bad label set and an invalid
// policy are reported as *config.Error.
func New(sentiment predictor.SentimentPredictor, category predictor.CategoryPredictor, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if sentiment == nil {
		return nil, &config.Error{Field: "sentiment predictor", Reason: "required"}
	}
	if category == nil {
		return nil, &config.Error{Field: "category predictor", Reason: "required"}
	}

	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Labels == nil {
		opts.Labels = predictor.DefaultLabels
	}
	opts.Labels = slices.Clone(opts.Labels)
	if err := config.ValidateLabels(opts.Labels); err != nil {
		return nil, err
	}
	policy := triage.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, &config.Error{Field: "SIFT_THRESHOLD", Reason: err.Error()}
	}

	labels := make(map[string]bool, len(opts.Labels))
	for _, l := range opts.Labels {
		labels[l] = true
	}

	return &Pipeline{
		sentiment: sentiment,
		category:  category,
		opts:      opts,
		policy:    policy,
		labels:    labels,
		logger:    logger,
	}, nil
}

// Labels returns the category label set the pipeline accepts.
func (p *Pipeline) Labels() []string { return slices.Clone(p.opts.Labels) }

type threadResult struct {
	kept     []ScoredMessage
	failures []*PredictorError
	dropped  int
}

// Run scores every thread of g and returns the corpus in grouping order. A
// predictor failure drops the affected message and nothing else; Run itself
// fails only when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, g *thread.Grouped) (*Result, error) {
	start := time.Now()
	threads := g.Threads()
	outs := make([]threadResult, len(threads))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.Workers)
	for i, th := range threads {
		i, th := i, th
		eg.Go(func() error {
			out, err := p.scoreThread(egctx, th)
			if err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("scoring run: %w", err)
	}

	res := &Result{
		Corpus:   []ScoredMessage{},
		Threads:  len(threads),
		Messages: g.MessageCount(),
	}
	for _, out := range outs {
		res.Corpus = append(res.Corpus, out.kept...)
		res.Failures = append(res.Failures, out.failures...)
		res.Dropped += out.dropped
	}
	res.Kept = len(res.Corpus)
	res.Failed = len(res.Failures)

	p.logger.Info("scoring complete",
		"threads", res.Threads,
		"messages", res.Messages,
		"kept", res.Kept,
		"dropped", res.Dropped,
		"failed", res.Failed,
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Pipeline) scoreThread(ctx context.Context, th thread.Thread) (threadResult, error) {
	var (
		out  threadResult
		tctx thread.Context
	)
	for _, rec := range th.Messages {
		if err := ctx.Err(); err != nil {
			return threadResult{}, err
		}

		text := tctx.Augment(rec.Text)
		scored, perr := p.scoreMessage(ctx, rec, text)
		// Every message joins the context, whatever happened to it.
		tctx.Append(rec.Text)

		if perr != nil {
			if err := ctx.Err(); err != nil {
				return threadResult{}, err
			}
			p.logger.Warn("prediction failed, message dropped",
				"channel_id", perr.ChannelID,
				"ts", perr.TS,
				"stage", perr.Stage,
				"error", perr.Err,
			)
			out.failures = append(out.failures, perr)
			continue
		}

		decision := p.policy.Decide(scored.Sentiment, scored.Category, scored.CategoryConfidence)
		p.logger.Debug("message triaged",
			"channel_id", rec.ChannelID,
			"ts", rec.TS,
			"sentiment", scored.Sentiment,
			"category", scored.Category,
			"confidence", scored.CategoryConfidence,
			"decision", decision,
		)
		if decision == triage.Keep {
			out.kept = append(out.kept, scored)
		} else {
			out.dropped++
		}
	}
	return out, nil
}

func (p *Pipeline) scoreMessage(ctx context.Context, rec message.Record, text string) (ScoredMessage, *PredictorError) {
	fail := func(stage Stage, err error) *PredictorError {
		return &PredictorError{
			ChannelID: rec.ChannelID,
			ParentTS:  rec.ParentTS,
			TS:        rec.TS,
			Stage:     stage,
			Err:       err,
		}
	}

	dist, err := p.predictSentiment(ctx, text)
	if err != nil {
		return ScoredMessage{}, fail(StageSentiment, err)
	}

	top, err := p.predictCategory(ctx, text)
	if err != nil {
		return ScoredMessage{}, fail(StageCategory, err)
	}

	return ScoredMessage{
		Text:               text,
		TS:                 rec.TS,
		ParentTS:           rec.ParentTS,
		Sentiment:          dist.ArgMax(),
		Category:           top.Label,
		CategoryConfidence: top.Confidence,
		Reactions:          slices.Clone(rec.Reactions),
		ChannelID:          rec.ChannelID,
	}, nil
}

func (p *Pipeline) predictSentiment(ctx context.Context, text string) (predictor.Distribution, error) {
	dist, err := bounded(ctx, p.opts.PredictTimeout, func(ctx context.Context) (predictor.Distribution, error) {
		return p.sentiment.Sentiment(ctx, text)
	})
	if err != nil {
		return predictor.Distribution{}, err
	}
	if err := dist.Validate(); err != nil {
		return predictor.Distribution{}, err
	}
	return dist, nil
}

func (p *Pipeline) predictCategory(ctx context.Context, text string) (predictor.LabelScore, error) {
	ranking, err := bounded(ctx, p.opts.PredictTimeout, func(ctx context.Context) (predictor.Ranking, error) {
		return p.category.Categories(ctx, text)
	})
	if err != nil {
		return predictor.LabelScore{}, err
	}
	top, err := ranking.Top()
	if err != nil {
		return predictor.LabelScore{}, err
	}
	if !p.labels[top.Label] {
		return predictor.LabelScore{}, fmt.Errorf("label %q not in label set", top.Label)
	}
	if math.IsNaN(top.Confidence) || top.Confidence < 0 || top.Confidence > 1 {
		return predictor.LabelScore{}, fmt.Errorf("confidence %v outside [0, 1]", top.Confidence)
	}
	return top, nil
}

// bounded runs call and gives up when ctx ends or timeout elapses, whether or
// not call honours its context. An abandoned call finishes in the background
// and its answer is discarded.
func bounded[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type answer struct {
		v   T
		err error
	}
	done := make(chan answer, 1)
	go func() {
		v, err := call(ctx)
		done <- answer{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return zero, a.err
		}
		// A late answer is not an answer.
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return a.v, nil
	}
}

// WriteCorpus writes corpus as an indented JSON array. A nil corpus is
// written as [].
func WriteCorpus(w io.Writer, corpus []ScoredMessage) error {
	if corpus == nil {
		corpus = []ScoredMessage{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(corpus); err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	return nil
}
