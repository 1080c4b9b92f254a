package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sift/internal/insight"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one triage run over one export.
type Run struct {
	ID         uuid.UUID       `json:"id"`
	ExportID   string          `json:"export_id"`
	Source     string          `json:"source"`
	Status     string          `json:"status"`
	Threads    int             `json:"threads"`
	Messages   int             `json:"messages"`
	Kept       int             `json:"kept"`
	Dropped    int             `json:"dropped"`
	Failed     int             `json:"failed"`
	Rejected   int             `json:"rejected"`
	Error      string          `json:"error,omitempty"`
	Insights   *insight.Report `json:"insights,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// CreateRun records the start of a run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, exportID, source string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO triage_runs (id, export_id, source, status, started_at)
		VALUES ($1, $2, $3, $4, now())`,
		id, exportID, source, StatusRunning,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// CompleteRun stores the corpus and the run's counters in one transaction.
// rejected is the number of export records that failed to parse.
func (s *Store) CompleteRun(ctx context.Context, runID uuid.UUID, res *scoring.Result, rejected int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(res.Corpus))
	for i, m := range res.Corpus {
		reactions, err := json.Marshal(m.Reactions)
		if err != nil {
			return fmt.Errorf("marshal reactions: %w", err)
		}
		if m.Reactions == nil {
			reactions = []byte("[]")
		}
		rows[i] = []any{
			runID, i, m.ChannelID, string(m.TS), string(m.ParentTS),
			m.Text, string(m.Sentiment), m.Category, m.CategoryConfidence, reactions,
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"scored_messages"},
		[]string{"run_id", "position", "channel_id", "ts", "parent_ts", "message_text", "sentiment", "category", "category_confidence", "reactions"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy scored messages: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE triage_runs
		SET status = $1, threads = $2, messages = $3, kept = $4, dropped = $5,
		    failed = $6, rejected = $7, finished_at = now()
		WHERE id = $8`,
		StatusComplete, res.Threads, res.Messages, res.Kept, res.Dropped, res.Failed, rejected, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FailRun marks a run as failed.
func (s *Store) FailRun(ctx context.Context, runID uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triage_runs SET status = $1, error = $2, finished_at = now()
		WHERE id = $3`,
		StatusFailed, reason, runID,
	)
	return err
}

// SaveInsights attaches the LLM insight report to a run.
func (s *Store) SaveInsights(ctx context.Context, runID uuid.UUID, report *insight.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE triage_runs SET insights = $1 WHERE id = $2`, data, runID)
	return err
}

const runColumns = `id, export_id, source, status, threads, messages, kept, dropped, failed, rejected, error, insights, started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var (
		r        Run
		insights []byte
	)
	err := row.Scan(&r.ID, &r.ExportID, &r.Source, &r.Status, &r.Threads, &r.Messages,
		&r.Kept, &r.Dropped, &r.Failed, &r.Rejected, &r.Error, &insights, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(insights) > 0 {
		r.Insights = &insight.Report{}
		if err := json.Unmarshal(insights, r.Insights); err != nil {
			return nil, fmt.Errorf("unmarshal insights: %w", err)
		}
	}
	return &r, nil
}

// GetRun fetches a single run.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM triage_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM triage_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
