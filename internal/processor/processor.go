package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sift/internal/hermes"
	"github.com/MikeSquared-Agency/sift/internal/insight"
	"github.com/MikeSquared-Agency/sift/internal/message"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
	"github.com/MikeSquared-Agency/sift/internal/thread"
)

// Persister stores runs and their corpora. *store.Store satisfies it.
type Persister interface {
	CreateRun(ctx context.Context, exportID, source string) (uuid.UUID, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, res *scoring.Result, rejected int) error
	FailRun(ctx context.Context, runID uuid.UUID, reason string) error
	SaveInsights(ctx context.Context, runID uuid.UUID, report *insight.Report) error
}

// Publisher announces run outcomes. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier delivers reports to people. *slack.Poster satisfies it.
type Notifier interface {
	PostReport(ctx context.Context, runID, source string, res *scoring.Result) (string, error)
	PostInsights(ctx context.Context, threadTS string, report *insight.Report) error
}

// Summarizer turns a corpus into insights. *insight.Generator satisfies it.
type Summarizer interface {
	Generate(ctx context.Context, corpus []scoring.ScoredMessage) (*insight.Report, error)
}

// Scorer runs the triage pipeline. *scoring.Pipeline satisfies it.
type Scorer interface {
	Run(ctx context.Context, g *thread.Grouped) (*scoring.Result, error)
}

// Deps are the processor's collaborators. Everything except Scorer is
// optional; a nil field disables that step.
type Deps struct {
	Scorer   Scorer
	Store    Persister
	Bus      Publisher
	Slack    Notifier
	Insights Summarizer
}

// Outcome is what one run produced.
type Outcome struct {
	RunID    uuid.UUID       `json:"run_id"`
	Load     LoadSummary     `json:"load"`
	Result   *scoring.Result `json:"-"`
	Insights *insight.Report `json:"insights,omitempty"`
}

// LoadSummary counts what happened to the export's records before scoring.
type LoadSummary struct {
	Total    int `json:"total"`
	Filtered int `json:"filtered"`
	Rejected int `json:"rejected"`
}

// RunSummary is the status view of the most recent run.
type RunSummary struct {
	RunID      uuid.UUID `json:"run_id"`
	ExportID   string    `json:"export_id"`
	Status     string    `json:"status"`
	Messages   int       `json:"messages"`
	Kept       int       `json:"kept"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type Stats struct {
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
	LastRun   *RunSummary `json:"last_run,omitempty"`
}

// Processor orchestrates a triage run from export to delivery.
type Processor struct {
	deps       Deps
	client     *http.Client
	runTimeout time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func New(deps Deps, logger *slog.Logger) *Processor {
	return &Processor{
		deps:       deps,
		client:     &http.Client{Timeout: 60 * time.Second},
		runTimeout: 30 * time.Minute,
		logger:     logger,
	}
}

// HandleExportStored is the NATS handler for sift.export.stored.
func (p *Processor) HandleExportStored(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.runTimeout)
	defer cancel()

	var evt hermes.ExportStored
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse export event", "error", err)
		return
	}
	if evt.ExportID == "" {
		p.logger.Error("export event without export_id", "subject", subject)
		return
	}

	p.logger.Info("processing export",
		"export_id", evt.ExportID,
		"source", evt.Source,
		"inline", len(evt.Records) > 0,
	)

	body, err := p.fetchExport(ctx, evt)
	if err != nil {
		p.logger.Error("failed to fetch export", "export_id", evt.ExportID, "error", err)
		p.publish(hermes.SubjectRunFailed, hermes.RunFailed{ExportID: evt.ExportID, Error: err.Error()})
		return
	}
	defer body.Close()

	if _, err := p.Process(ctx, evt.ExportID, evt.Source, body); err != nil {
		p.logger.Error("export processing failed", "export_id", evt.ExportID, "error", err)
	}
}

// Process scores one export read from r and hands the result to every
// configured sink. Sink failures after the corpus is stored are logged and
// do not fail the run.
func (p *Processor) Process(ctx context.Context, exportID, source string, r io.Reader) (*Outcome, error) {
	runID, err := p.startRun(ctx, exportID, source)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*Outcome, error) {
		p.failRun(ctx, runID, exportID, err)
		return nil, err
	}

	records, report, err := message.Load(r, p.logger)
	if err != nil {
		return fail(fmt.Errorf("load export: %w", err))
	}

	res, err := p.deps.Scorer.Run(ctx, thread.Group(records))
	if err != nil {
		return fail(err)
	}

	out := &Outcome{
		RunID: runID,
		Load: LoadSummary{
			Total:    report.Total,
			Filtered: report.Filtered,
			Rejected: len(report.Failed),
		},
		Result: res,
	}

	if p.deps.Store != nil {
		if err := p.deps.Store.CompleteRun(ctx, runID, res, out.Load.Rejected); err != nil {
			return fail(fmt.Errorf("persist corpus: %w", err))
		}
	}

	breakdown := res.Breakdown()
	bySentiment := make(map[string]int, len(breakdown.BySentiment))
	for s, n := range breakdown.BySentiment {
		bySentiment[string(s)] = n
	}
	p.publish(hermes.SubjectCorpusScored, hermes.CorpusScored{
		RunID:       runID.String(),
		ExportID:    exportID,
		Source:      source,
		Threads:     res.Threads,
		Messages:    res.Messages,
		Kept:        res.Kept,
		Dropped:     res.Dropped,
		Failed:      res.Failed,
		Rejected:    out.Load.Rejected,
		BySentiment: bySentiment,
		ByCategory:  breakdown.ByCategory,
	})

	out.Insights = p.deliver(ctx, runID, source, res)

	p.record(RunSummary{
		RunID:      runID,
		ExportID:   exportID,
		Status:     "complete",
		Messages:   res.Messages,
		Kept:       res.Kept,
		Failed:     res.Failed,
		FinishedAt: time.Now().UTC(),
	})

	p.logger.Info("export processed",
		"run_id", runID,
		"export_id", exportID,
		"kept", res.Kept,
		"dropped", res.Dropped,
		"failed", res.Failed,
		"rejected", out.Load.Rejected,
	)
	return out, nil
}

// deliver posts the report and generates insights. It never fails the run.
func (p *Processor) deliver(ctx context.Context, runID uuid.UUID, source string, res *scoring.Result) *insight.Report {
	var threadTS string
	if p.deps.Slack != nil {
		ts, err := p.deps.Slack.PostReport(ctx, runID.String(), source, res)
		if err != nil {
			p.logger.Error("slack post failed", "run_id", runID, "error", err)
		}
		threadTS = ts
	}

	if p.deps.Insights == nil || len(res.Corpus) == 0 {
		return nil
	}

	report, err := p.deps.Insights.Generate(ctx, res.Corpus)
	if err != nil {
		p.logger.Error("insight generation failed", "run_id", runID, "error", err)
		return nil
	}

	if p.deps.Store != nil {
		if err := p.deps.Store.SaveInsights(ctx, runID, report); err != nil {
			p.logger.Error("failed to store insights", "run_id", runID, "error", err)
		}
	}
	if p.deps.Slack != nil && threadTS != "" {
		if err := p.deps.Slack.PostInsights(ctx, threadTS, report); err != nil {
			p.logger.Error("slack insights post failed", "run_id", runID, "error", err)
		}
	}
	return report
}

func (p *Processor) startRun(ctx context.Context, exportID, source string) (uuid.UUID, error) {
	if p.deps.Store == nil {
		return uuid.New(), nil
	}
	id, err := p.deps.Store.CreateRun(ctx, exportID, source)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

func (p *Processor) failRun(ctx context.Context, runID uuid.UUID, exportID string, cause error) {
	if p.deps.Store != nil {
		// The run context may be what failed.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.deps.Store.FailRun(storeCtx, runID, cause.Error()); err != nil {
			p.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
		}
	}
	p.publish(hermes.SubjectRunFailed, hermes.RunFailed{
		RunID:    runID.String(),
		ExportID: exportID,
		Error:    cause.Error(),
	})
	p.record(RunSummary{
		RunID:      runID,
		ExportID:   exportID,
		Status:     "failed",
		Error:      cause.Error(),
		FinishedAt: time.Now().UTC(),
	})
}

func (p *Processor) publish(subject string, data any) {
	if p.deps.Bus == nil {
		return
	}
	if err := p.deps.Bus.Publish(subject, data); err != nil {
		p.logger.Error("failed to publish", "subject", subject, "error", err)
	}
}

func (p *Processor) record(s RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Status == "failed" {
		p.stats.Failed++
	} else {
		p.stats.Completed++
	}
	p.stats.LastRun = &s
}

// Stats returns run counters and the most recent run.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	if s.LastRun != nil {
		last := *s.LastRun
		s.LastRun = &last
	}
	return s
}

// fetchExport returns the export's records, preferring the event payload.
func (p *Processor) fetchExport(ctx context.Context, evt hermes.ExportStored) (io.ReadCloser, error) {
	if len(evt.Records) > 0 {
		return io.NopCloser(bytes.NewReader(evt.Records)), nil
	}
	if evt.URL == "" {
		return nil, errors.New("no records in event payload and no export url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, evt.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("export url returned %d for export %s", resp.StatusCode, evt.ExportID)
	}
	return resp.Body, nil
}
