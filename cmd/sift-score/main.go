// Command sift-score scores export files without the service.
//
//	sift-score [flags] <input.json> <output.json>
//	sift-score -dir <exports> [-out <dir>] [-state <file>] [-dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MikeSquared-Agency/sift/internal/app"
	"github.com/MikeSquared-Agency/sift/internal/batch"
	"github.com/MikeSquared-Agency/sift/internal/config"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

func main() {
	var (
		dir     = flag.String("dir", "", "directory of *.json exports to score")
		outDir  = flag.String("out", "", "directory for corpus files (default: next to each export)")
		state   = flag.String("state", "", "batch state file (default: <dir>/"+batch.StateFileName+")")
		source  = flag.String("source", "", "source label recorded with each run")
		dryRun  = flag.Bool("dry-run", false, "score but write no corpus files")
		workers = flag.Int("workers", 0, "threads scored concurrently (default: SIFT_WORKERS)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: sift-score [flags] <input.json> <output.json>\n       sift-score -dir <exports> [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	setupLogging(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	if *dir == "" && flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, nil, slog.Default())
	if err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	if *dir != "" {
		var notify batch.Notifier
		if c.Slack != nil {
			notify = c.Slack
		}
		runner := batch.NewRunner(batch.Config{
			Dir:       *dir,
			OutDir:    *outDir,
			StatePath: *state,
			Source:    *source,
			DryRun:    *dryRun,
		}, c.Processor, notify, slog.Default())

		summaries, err := runner.Run(ctx)
		fmt.Fprint(os.Stderr, batch.FormatSummary(summaries))
		if err != nil {
			slog.Error("batch failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := scoreFile(ctx, c, flag.Arg(0), flag.Arg(1), *source, *dryRun); err != nil {
		slog.Error("scoring failed", "input", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func scoreFile(ctx context.Context, c *app.Components, input, output, source string, dryRun bool) error {
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	if source == "" {
		source = "cli"
	}
	exportID := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out, err := c.Processor.Process(ctx, exportID, source, f)
	if err != nil {
		return err
	}

	slog.Info("scored",
		"run_id", out.RunID,
		"total", out.Load.Total,
		"filtered", out.Load.Filtered,
		"rejected", out.Load.Rejected,
		"messages", out.Result.Messages,
		"kept", out.Result.Kept,
		"dropped", out.Result.Dropped,
		"failed", out.Result.Failed,
	)
	if dryRun {
		return nil
	}

	w, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := scoring.WriteCorpus(w, out.Result.Corpus); err != nil {
		w.Close()
		return fmt.Errorf("write corpus: %w", err)
	}
	return w.Close()
}

// Logs go to stderr so output may be "/dev/stdout".
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
