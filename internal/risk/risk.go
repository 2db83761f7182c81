// Package risk aggregates collected signals into composite scores for the
// fraud and behavior surfaces.
//
// A score is the clamped sum of signal contributions (value × weight):
// base weight by activity type plus time-of-day and network adjustments on
// the fraud surface; time-of-day, frequency and pattern-match terms on the
// behavior surface. Scores range from 0.0 (safe) to 1.0 (high risk) and are
// rounded to three decimals. Aggregation is pure: it reads nothing but its
// input.
package risk

import (
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/signals"
)

// ConfidenceSaturation is the number of observed data points at which
// behavior confidence reaches 1.0.
const ConfidenceSaturation = 100

// Score is the composite result for one decision.
type Score struct {
	Surface    decision.Surface    `json:"surface"`
	Value      float64             `json:"value"`
	Confidence float64             `json:"confidence,omitempty"`
	Factors    map[string]float64  `json:"factors"`
	Indicators decision.Indicators `json:"indicators"`
}

// Scorer turns a collection into a score. Aggregator is the heuristic
// implementation; a trained model can sit behind the same interface.
type Scorer interface {
	Score(c *signals.Collection) (*Score, error)
}
