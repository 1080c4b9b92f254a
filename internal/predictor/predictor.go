// Package predictor defines the sentiment and category capabilities the
// scoring pipeline depends on. Implementations live elsewhere (see package
// inference); tests use the func adapters with deterministic stubs.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Sentiment is one of the three sentiment labels.
type Sentiment string

const (
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
	Positive Sentiment = "positive"
)

// Sentiments lists the labels in distribution order.
var Sentiments = []Sentiment{Negative, Neutral, Positive}

// DefaultLabels is the category label set used when none is configured.
var DefaultLabels = []string{"inquiry", "goal", "complaint", "praise", "other"}

// Distribution is a probability distribution over the sentiment labels.
type Distribution struct {
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
	Positive float64 `json:"positive"`
}

// ArgMax returns the most probable sentiment. Ties go to the label that comes
// first in Sentiments.
func (d Distribution) ArgMax() Sentiment {
	best, label := d.Negative, Negative
	if d.Neutral > best {
		best, label = d.Neutral, Neutral
	}
	if d.Positive > best {
		label = Positive
	}
	return label
}

// Validate rejects distributions with negative or non-finite probabilities.
func (d Distribution) Validate() error {
	for _, p := range []float64{d.Negative, d.Neutral, d.Positive} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("invalid sentiment distribution %+v", d)
		}
	}
	return nil
}

// LabelScore is one entry of a category ranking.
type LabelScore struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Ranking is a list of category labels, expected in descending confidence.
type Ranking []LabelScore

// ErrEmptyRanking is returned by Top for a ranking with no entries.
var ErrEmptyRanking = errors.New("empty category ranking")

// Top returns the highest-confidence entry. Ties go to the earlier entry, so
// a correctly sorted ranking yields its first element.
func (r Ranking) Top() (LabelScore, error) {
	if len(r) == 0 {
		return LabelScore{}, ErrEmptyRanking
	}
	top := r[0]
	for _, ls := range r[1:] {
		if ls.Confidence > top.Confidence {
			top = ls
		}
	}
	return top, nil
}

// SentimentPredictor scores text for sentiment.
type SentimentPredictor interface {
	Sentiment(ctx context.Context, text string) (Distribution, error)
}

// CategoryPredictor ranks text against the category label set.
type CategoryPredictor interface {
	Categories(ctx context.Context, text string) (Ranking, error)
}

// SentimentFunc adapts a function to SentimentPredictor.
type SentimentFunc func(ctx context.Context, text string) (Distribution, error)

func (f SentimentFunc) Sentiment(ctx context.Context, text string) (Distribution, error) {
	return f(ctx, text)
}

// CategoryFunc adapts a function to CategoryPredictor.
type CategoryFunc func(ctx context.Context, text string) (Ranking, error)

func (f CategoryFunc) Categories(ctx context.Context, text string) (Ranking, error) {
	return f(ctx, text)
}
