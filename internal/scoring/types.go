package scoring

import (
	"fmt"

	"github.com/MikeSquared-Agency/sift/internal/message"
	"github.com/MikeSquared-Agency/sift/internal/predictor"
)

// ScoredMessage is a message that survived triage, as written to the report
// corpus.
type ScoredMessage struct {
	Text               string              `json:"message_text"`
	TS                 message.TS          `json:"timestamp"`
	ParentTS           message.TS          `json:"parent_thread_ts"`
	Sentiment          predictor.Sentiment `json:"sentiment"`
	Category           string              `json:"category"`
	CategoryConfidence float64             `json:"category_confidence"`
	Reactions          []message.Reaction  `json:"reactions"`
	ChannelID          string              `json:"channel_id"`
}

// Stage names the predictor call that failed.
type Stage string

const (
	StageSentiment Stage = "sentiment"
	StageCategory  Stage = "category"
)

// PredictorError records a message that could not be scored. The message is
// dropped; the rest of the run is unaffected.
type PredictorError struct {
	ChannelID string
	ParentTS  message.TS
	TS        message.TS
	Stage     Stage
	Err       error
}

func (e *PredictorError) Error() string {
	return fmt.Sprintf("%s prediction for %s/%s: %v", e.Stage, e.ChannelID, e.TS, e.Err)
}

func (e *PredictorError) Unwrap() error { return e.Err }

// Result is the outcome of one pipeline run.
type Result struct {
	Corpus   []ScoredMessage
	Failures []*PredictorError

	Threads  int
	Messages int
	Kept     int
	Dropped  int
	Failed   int
}

// Breakdown counts the corpus by sentiment and by category.
type Breakdown struct {
	BySentiment map[predictor.Sentiment]int `json:"by_sentiment"`
	ByCategory  map[string]int              `json:"by_category"`
}

func (r *Result) Breakdown() Breakdown {
	b := Breakdown{
		BySentiment: make(map[predictor.Sentiment]int),
		ByCategory:  make(map[string]int),
	}
	for _, m := range r.Corpus {
		b.BySentiment[m.Sentiment]++
		b.ByCategory[m.Category]++
	}
	return b
}
