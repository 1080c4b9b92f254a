// Package triage decides which scored messages are worth keeping.
package triage

import (
	"fmt"

	"github.com/MikeSquared-Agency/sift/internal/predictor"
)

// Decision is the outcome of triaging one message.
type Decision int

const (
	Drop Decision = iota
	Keep
)

func (d Decision) String() string {
	if d == Keep {
		return "keep"
	}
	return "drop"
}

const (
	DefaultThreshold = 0.5
	DefaultExcluded  = "other"
)

// Policy keeps every negative message, and keeps neutral or positive messages
// only when they are confidently about something other than Excluded.
type Policy struct {
	Threshold float64 // minimum category confidence for non-negative messages
	Excluded  string  // category never kept for non-negative messages
}

// DefaultPolicy returns the 0.5 / "other" policy.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Excluded: DefaultExcluded}
}

// Validate reports a threshold outside [0, 1].
func (p Policy) Validate() error {
	if !(p.Threshold >= 0 && p.Threshold <= 1) {
		return fmt.Errorf("threshold %v outside [0, 1]", p.Threshold)
	}
	return nil
}

// Decide is total: every combination of inputs yields a decision. A NaN
// confidence never meets the threshold.
func (p Policy) Decide(sentiment predictor.Sentiment, category string, confidence float64) Decision {
	if sentiment == predictor.Negative {
		return Keep
	}
	if category != p.Excluded && confidence >= p.Threshold {
		return Keep
	}
	return Drop
}
