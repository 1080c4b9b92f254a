package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/sift/internal/predictor"
)

// SentimentAdapter turns a three-way text-classification model into a
// predictor.SentimentPredictor.
type SentimentAdapter struct {
	client *Client
	model  string
}

func NewSentimentAdapter(client *Client, model string) *SentimentAdapter {
	return &SentimentAdapter{client: client, model: model}
}

func (a *SentimentAdapter) Sentiment(ctx context.Context, text string) (predictor.Distribution, error) {
	labels, err := a.client.TextClassification(ctx, a.model, text)
	if err != nil {
		return predictor.Distribution{}, err
	}
	return ToDistribution(labels)
}

// ToDistribution maps model labels onto the sentiment distribution. Both the
// LABEL_0..2 convention and the plain label names are accepted, in any case.
// Labels the model did not emit score zero.
func ToDistribution(labels []Label) (predictor.Distribution, error) {
	if len(labels) == 0 {
		return predictor.Distribution{}, fmt.Errorf("no sentiment labels in response")
	}

	var d predictor.Distribution
	for _, l := range labels {
		s, ok := sentimentLabel(l.Label)
		if !ok {
			return predictor.Distribution{}, fmt.Errorf("unknown sentiment label %q", l.Label)
		}
		switch s {
		case predictor.Negative:
			d.Negative = l.Score
		case predictor.Neutral:
			d.Neutral = l.Score
		case predictor.Positive:
			d.Positive = l.Score
		}
	}
	if err := d.Validate(); err != nil {
		return predictor.Distribution{}, err
	}
	return d, nil
}

func sentimentLabel(label string) (predictor.Sentiment, bool) {
	switch strings.ToLower(label) {
	case "label_0", "negative", "neg":
		return predictor.Negative, true
	case "label_1", "neutral", "neu":
		return predictor.Neutral, true
	case "label_2", "positive", "pos":
		return predictor.Positive, true
	}
	return "", false
}

// CategoryAdapter runs zero-shot classification over a fixed label set.
type CategoryAdapter struct {
	client *Client
	model  string
	labels []string
}

func NewCategoryAdapter(client *Client, model string, labels []string) *CategoryAdapter {
	return &CategoryAdapter{client: client, model: model, labels: append([]string(nil), labels...)}
}

func (a *CategoryAdapter) Categories(ctx context.Context, text string) (predictor.Ranking, error) {
	res, err := a.client.ZeroShot(ctx, a.model, text, a.labels)
	if err != nil {
		return nil, err
	}

	ranking := make(predictor.Ranking, len(res.Labels))
	for i, l := range res.Labels {
		ranking[i] = predictor.LabelScore{Label: l, Confidence: res.Scores[i]}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Confidence > ranking[j].Confidence
	})
	return ranking, nil
}
