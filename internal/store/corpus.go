package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sift/internal/message"
	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

// GetCorpus returns the stored corpus of a run in its original order. An
// optional sentiment filter narrows it down.
func (s *Store) GetCorpus(ctx context.Context, runID uuid.UUID, sentiment predictor.Sentiment) ([]scoring.ScoredMessage, error) {
	query := `
		SELECT channel_id, ts, parent_ts, message_text, sentiment, category, category_confidence, reactions
		FROM scored_messages
		WHERE run_id = $1`
	args := []any{runID}
	if sentiment != "" {
		query += ` AND sentiment = $2`
		args = append(args, string(sentiment))
	}
	query += ` ORDER BY position`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	corpus := []scoring.ScoredMessage{}
	for rows.Next() {
		var (
			m         scoring.ScoredMessage
			ts, pts   string
			sent      string
			reactions []byte
		)
		if err := rows.Scan(&m.ChannelID, &ts, &pts, &m.Text, &sent, &m.Category, &m.CategoryConfidence, &reactions); err != nil {
			return nil, fmt.Errorf("scan scored message: %w", err)
		}
		m.TS = message.TS(ts)
		m.ParentTS = message.TS(pts)
		m.Sentiment = predictor.Sentiment(sent)
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return nil, fmt.Errorf("unmarshal reactions: %w", err)
		}
		corpus = append(corpus, m)
	}
	return corpus, rows.Err()
}
