// Package batch scores export files on disk, one run per file, and can pick
// up where an interrupted batch left off.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/sift/internal/processor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

// ScoredSuffix is appended to an export's base name for its corpus file.
const ScoredSuffix = ".scored.json"

// Config holds the batch command configuration.
type Config struct {
	Dir        string // directory of *.json exports
	SingleFile string // process a single file only
	OutDir     string // where corpus files go (default: next to each export)
	StatePath  string // default: Dir/.sift-batch-state.json
	Source     string // source label for runs (default: "batch")
	DryRun     bool   // score but write no corpus files
}

// Processor scores one export. *processor.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, exportID, source string, r io.Reader) (*processor.Outcome, error)
}

// Notifier posts the batch summary. *slack.Poster satisfies it.
type Notifier interface {
	PostThread(ctx context.Context, threadTS, text string) error
}

// FileSummary is the outcome of one export file.
type FileSummary struct {
	Path     string
	Messages int
	Kept     int
	Failed   int
	Rejected int
	Err      error
}

// Runner orchestrates a batch.
type Runner struct {
	cfg    Config
	proc   Processor
	notify Notifier
	logger *slog.Logger
}

// NewRunner creates a batch runner. notify may be nil.
func NewRunner(cfg Config, proc Processor, notify Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		proc:   proc,
		notify: notify,
		logger: logger,
	}
}

func (r *Runner) sourceLabel() string {
	if r.cfg.Source != "" {
		return r.cfg.Source
	}
	return "batch"
}

func (r *Runner) statePath() string {
	if r.cfg.StatePath != "" {
		return r.cfg.StatePath
	}
	if r.cfg.Dir != "" {
		return filepath.Join(expandHome(r.cfg.Dir), StateFileName)
	}
	return filepath.Join(filepath.Dir(expandHome(r.cfg.SingleFile)), StateFileName)
}

// Run processes every export not yet recorded in the state file. A file
// that fails is recorded as an error and the batch moves on.
func (r *Runner) Run(ctx context.Context) ([]FileSummary, error) {
	state, err := LoadState(r.statePath())
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var pending []string
	for _, path := range files {
		if !state.IsProcessed(path) {
			pending = append(pending, path)
		}
	}
	state.FilesRemaining = len(pending)

	r.logger.Info("files discovered",
		"total", len(files),
		"pending", len(pending),
		"dry_run", r.cfg.DryRun,
	)

	var summaries []FileSummary
	for _, path := range pending {
		select {
		case <-ctx.Done():
			r.logger.Info("batch interrupted, saving state")
			_ = state.Save()
			return summaries, ctx.Err()
		default:
		}

		fs := r.processFile(ctx, path)
		summaries = append(summaries, fs)
		if fs.Err != nil {
			if ctx.Err() != nil {
				_ = state.Save()
				return summaries, ctx.Err()
			}
			r.logger.Error("file failed", "path", path, "error", fs.Err)
			state.AddError(fmt.Sprintf("%s: %v", path, fs.Err))
		} else {
			state.MessagesScored += fs.Messages
			state.Kept += fs.Kept
			state.Failed += fs.Failed
		}

		state.MarkProcessed(path)
		state.FilesRemaining--
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "error", err)
		}
	}

	r.postSummary(ctx, summaries)

	r.logger.Info("batch complete",
		"files_processed", len(summaries),
		"messages_scored", state.MessagesScored,
		"kept", state.Kept,
		"errors", len(state.Errors),
	)
	return summaries, nil
}

func (r *Runner) processFile(ctx context.Context, path string) FileSummary {
	fs := FileSummary{Path: path}

	f, err := os.Open(path)
	if err != nil {
		fs.Err = err
		return fs
	}
	defer f.Close()

	exportID := strings.TrimSuffix(filepath.Base(path), ".json")
	r.logger.Info("processing file", "path", path, "export_id", exportID)

	out, err := r.proc.Process(ctx, exportID, r.sourceLabel(), f)
	if err != nil {
		fs.Err = err
		return fs
	}

	fs.Messages = out.Result.Messages
	fs.Kept = out.Result.Kept
	fs.Failed = out.Result.Failed
	fs.Rejected = out.Load.Rejected

	if !r.cfg.DryRun {
		if err := writeCorpusFile(r.OutputPath(path), out.Result.Corpus); err != nil {
			fs.Err = err
		}
	}
	return fs
}

// OutputPath returns where the corpus of the export at path is written.
func (r *Runner) OutputPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".json") + ScoredSuffix
	dir := filepath.Dir(path)
	if r.cfg.OutDir != "" {
		dir = expandHome(r.cfg.OutDir)
	}
	return filepath.Join(dir, name)
}

func writeCorpusFile(path string, corpus []scoring.ScoredMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create corpus file: %w", err)
	}
	if err := scoring.WriteCorpus(f, corpus); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip errors
		}
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, ".json") {
			return nil
		}
		if strings.HasSuffix(name, ScoredSuffix) || name == StateFileName {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// postSummary posts the batch summary to Slack, or logs it when Slack is not
// configured.
func (r *Runner) postSummary(ctx context.Context, summaries []FileSummary) {
	if len(summaries) == 0 {
		return
	}

	text := FormatSummary(summaries)
	if r.notify == nil {
		r.logger.Info("batch summary (no Slack configured)", "summary", text)
		return
	}
	if err := r.notify.PostThread(ctx, "", text); err != nil {
		r.logger.Warn("failed to post batch summary to Slack, logging instead",
			"error", err,
			"summary", text,
		)
	}
}

// FormatSummary renders per-file results and totals.
func FormatSummary(summaries []FileSummary) string {
	var sb strings.Builder
	sb.WriteString("*Batch Triage Summary*\n")

	var messages, kept, failed, errs int
	for _, s := range summaries {
		name := filepath.Base(s.Path)
		if s.Err != nil {
			errs++
			fmt.Fprintf(&sb, "  - %s: error: %v\n", name, s.Err)
			continue
		}
		messages += s.Messages
		kept += s.Kept
		failed += s.Failed
		fmt.Fprintf(&sb, "  - %s: %d messages, %d kept", name, s.Messages, s.Kept)
		if s.Failed > 0 {
			fmt.Fprintf(&sb, ", %d prediction failures", s.Failed)
		}
		if s.Rejected > 0 {
			fmt.Fprintf(&sb, ", %d rejected records", s.Rejected)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n*Total:* %d files, %d messages, %d kept, %d prediction failures", len(summaries), messages, kept, failed)
	if errs > 0 {
		fmt.Fprintf(&sb, ", %d files failed", errs)
	}
	sb.WriteString("\n")
	return sb.String()
}
