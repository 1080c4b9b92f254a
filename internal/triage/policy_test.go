package triage

import (
	"math"
	"testing"

	"github.com/MikeSquared-Agency/sift/internal/predictor"
)

func TestDecide(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name       string
		sentiment  predictor.Sentiment
		category   string
		confidence float64
		want       Decision
	}{
		{"negative other high confidence", predictor.Negative, "other", 0.9, Keep},
		{"negative low confidence", predictor.Negative, "complaint", 0.01, Keep},
		{"positive other high confidence", predictor.Positive, "other", 0.9, Drop},
		{"neutral complaint below threshold", predictor.Neutral, "complaint", 0.4, Drop},
		{"neutral complaint at threshold", predictor.Neutral, "complaint", 0.5, Keep},
		{"positive praise confident", predictor.Positive, "praise", 0.75, Keep},
		{"positive goal just below", predictor.Positive, "goal", 0.4999, Drop},
		{"positive NaN confidence", predictor.Positive, "goal", math.NaN(), Drop},
		{"unknown sentiment treated as non-negative", predictor.Sentiment("mixed"), "inquiry", 0.9, Keep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.sentiment, tt.category, tt.confidence)
			if got != tt.want {
				t.Errorf("Decide(%q, %q, %v) = %s, want %s", tt.sentiment, tt.category, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestDecide_Totality(t *testing.T) {
	p := DefaultPolicy()
	for _, s := range predictor.Sentiments {
		for _, c := range predictor.DefaultLabels {
			for i := 0; i <= 20; i++ {
				conf := float64(i) / 20
				got := p.Decide(s, c, conf)
				if got != Keep && got != Drop {
					t.Fatalf("Decide(%s, %s, %v) = %v", s, c, conf, got)
				}
				if s == predictor.Negative && got != Keep {
					t.Errorf("negative message dropped: %s %v", c, conf)
				}
				want := Drop
				if s == predictor.Negative || (c != "other" && conf >= 0.5) {
					want = Keep
				}
				if got != want {
					t.Errorf("Decide(%s, %s, %v) = %s, want %s", s, c, conf, got, want)
				}
			}
		}
	}
}

func TestDecide_CustomPolicy(t *testing.T) {
	p := Policy{Threshold: 0.8, Excluded: "chatter"}
	if p.Decide(predictor.Positive, "other", 0.85) != Keep {
		t.Error("other should be kept when it is not the excluded label")
	}
	if p.Decide(predictor.Neutral, "chatter", 0.99) != Drop {
		t.Error("excluded label should be dropped")
	}
	if p.Decide(predictor.Neutral, "goal", 0.7) != Drop {
		t.Error("confidence below custom threshold should be dropped")
	}
}

func TestValidate(t *testing.T) {
	for _, th := range []float64{0, 0.5, 1} {
		if err := (Policy{Threshold: th}).Validate(); err != nil {
			t.Errorf("threshold %v: unexpected error %v", th, err)
		}
	}
	for _, th := range []float64{-0.1, 1.01, math.NaN()} {
		if err := (Policy{Threshold: th}).Validate(); err == nil {
			t.Errorf("threshold %v: expected error", th)
		}
	}
}

func TestDecisionString(t *testing.T) {
	if Keep.String() != "keep" || Drop.String() != "drop" {
		t.Error("unexpected decision strings")
	}
}
