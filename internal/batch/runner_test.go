package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/processor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingProcessor wraps a real processor and records the exports it saw.
type countingProcessor struct {
	mu    sync.Mutex
	inner *processor.Processor
	seen  []string
}

func (c *countingProcessor) Process(ctx context.Context, exportID, source string, r io.Reader) (*processor.Outcome, error) {
	c.mu.Lock()
	c.seen = append(c.seen, exportID)
	c.mu.Unlock()
	return c.inner.Process(ctx, exportID, source, r)
}

func newCountingProcessor(t *testing.T) *countingProcessor {
	t.Helper()
	sent := predictor.SentimentFunc(func(context.Context, string) (predictor.Distribution, error) {
		return predictor.Distribution{Negative: 1}, nil
	})
	cat := predictor.CategoryFunc(func(context.Context, string) (predictor.Ranking, error) {
		return predictor.Ranking{{Label: "complaint", Confidence: 0.9}}, nil
	})
	pipeline, err := scoring.New(sent, cat, scoring.Options{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return &countingProcessor{inner: processor.New(processor.Deps{Scorer: pipeline}, discardLogger())}
}

type fakeNotifier struct {
	posts []string
}

func (f *fakeNotifier) PostThread(_ context.Context, _ string, text string) error {
	f.posts = append(f.posts, text)
	return nil
}

const exportA = `[
	{"channel_id":"C1","message_text":"it broke","timestamp":"1.0","is_thread_reply":false,"reactions":[]},
	{"channel_id":"C1","message_text":"still broken","timestamp":"1.1","parent_thread_ts":"1.0","is_thread_reply":true,"reactions":[]}
]`

const exportB = `[
	{"channel_id":"C2","message_text":"help","timestamp":"2.0","is_thread_reply":false,"reactions":[]}
]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_ScoresDirectoryAndResumes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), exportA)
	writeFile(t, filepath.Join(dir, "nested", "b.json"), exportB)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"not":"an array"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	proc := newCountingProcessor(t)
	notifier := &fakeNotifier{}
	runner := NewRunner(Config{Dir: dir}, proc, notifier, discardLogger())

	summaries, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 file summaries, got %d", len(summaries))
	}

	var corpus []scoring.ScoredMessage
	data, err := os.ReadFile(filepath.Join(dir, "a"+ScoredSuffix))
	if err != nil {
		t.Fatalf("corpus file for a.json missing: %v", err)
	}
	if err := json.Unmarshal(data, &corpus); err != nil {
		t.Fatalf("corpus file is not JSON: %v", err)
	}
	if len(corpus) != 2 || corpus[1].Text != "it broke\nstill broken" {
		t.Errorf("unexpected corpus %+v", corpus)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "b"+ScoredSuffix)); err != nil {
		t.Errorf("corpus file for nested b.json missing: %v", err)
	}

	state, err := LoadState(filepath.Join(dir, StateFileName))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(state.FilesProcessed) != 3 || len(state.Errors) != 1 || state.Kept != 3 {
		t.Errorf("unexpected state %+v", state)
	}
	if len(notifier.posts) != 1 || !strings.Contains(notifier.posts[0], "1 files failed") {
		t.Errorf("unexpected summary posts %v", notifier.posts)
	}

	// A second run finds nothing new; scored outputs are not picked up as exports.
	proc.seen = nil
	summaries, err = NewRunner(Config{Dir: dir}, proc, nil, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(summaries) != 0 || len(proc.seen) != 0 {
		t.Errorf("expected nothing to process, got %d summaries, seen %v", len(summaries), proc.seen)
	}
}

func TestRun_SingleFileDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.json")
	writeFile(t, path, exportB)

	runner := NewRunner(Config{SingleFile: path, DryRun: true}, newCountingProcessor(t), nil, discardLogger())
	summaries, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Kept != 1 {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
	if _, err := os.Stat(runner.OutputPath(path)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run should not write a corpus file")
	}
}

func TestRun_OutDir(t *testing.T) {
	dir, out := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), exportA)

	runner := NewRunner(Config{Dir: dir, OutDir: out}, newCountingProcessor(t), nil, discardLogger())
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "a"+ScoredSuffix)); err != nil {
		t.Errorf("expected corpus in out dir: %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), exportA)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := newCountingProcessor(t)
	_, err := NewRunner(Config{Dir: dir}, proc, nil, discardLogger()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(proc.seen) != 0 {
		t.Errorf("nothing should be processed after cancellation")
	}
}

func TestRun_MissingDir(t *testing.T) {
	runner := NewRunner(Config{Dir: filepath.Join(t.TempDir(), "missing")}, newCountingProcessor(t), nil, discardLogger())
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestFormatSummary(t *testing.T) {
	text := FormatSummary([]FileSummary{
		{Path: "/x/a.json", Messages: 10, Kept: 4, Failed: 1, Rejected: 2},
		{Path: "/x/b.json", Err: errors.New("bad export")},
	})
	for _, check := range []string{"a.json: 10 messages, 4 kept, 1 prediction failures, 2 rejected records", "b.json: error: bad export", "2 files, 10 messages, 4 kept", "1 files failed"} {
		if !strings.Contains(text, check) {
			t.Errorf("expected summary to contain %q\n%s", check, text)
		}
	}
}
