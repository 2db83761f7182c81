package risk

import (
	"fmt"
	"math"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/signals"
)

// Aggregator scores fraud and behavior collections. It holds no state and
// is safe for concurrent use.
type Aggregator struct{}

// NewAggregator creates a score aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Score dispatches on the collection kind.
func (a *Aggregator) Score(c *signals.Collection) (*Score, error) {
	if c == nil {
		return nil, decision.Invalid("collection", "missing collection")
	}
	switch c.Kind {
	case signals.KindActivity:
		return a.Fraud(c), nil
	case signals.KindBehavior:
		return a.Behavior(c), nil
	default:
		return nil, decision.Invalid("kind", fmt.Sprintf("%s events are not scored by the risk aggregator", c.Kind))
	}
}

// Fraud scores an activity collection.
func (a *Aggregator) Fraud(c *signals.Collection) *Score {
	value, factors := sum(c.Signals)
	return &Score{
		Surface:    decision.SurfaceFraud,
		Value:      value,
		Factors:    factors,
		Indicators: decision.NewIndicators(c.Indicators...),
	}
}

// Behavior scores a behavior collection. Confidence grows linearly with
// the number of observed data points.
func (a *Aggregator) Behavior(c *signals.Collection) *Score {
	value, factors := sum(c.Signals)
	return &Score{
		Surface:    decision.SurfaceBehavior,
		Value:      value,
		Confidence: Confidence(c.DataPoints),
		Factors:    factors,
		Indicators: decision.NewIndicators(c.Indicators...),
	}
}

// Confidence is min(1, dataPoints / ConfidenceSaturation).
func Confidence(dataPoints int) float64 {
	if dataPoints <= 0 {
		return 0
	}
	return decision.Round3(math.Min(1, float64(dataPoints)/ConfidenceSaturation))
}

// sum adds signal contributions, clamps to [0, 1] and rounds to three
// decimals. Factors are keyed by signal kind.
func sum(sigs []decision.Signal) (float64, map[string]float64) {
	factors := make(map[string]float64, len(sigs))
	var total float64
	for _, s := range sigs {
		c := s.Contribution()
		factors[s.Kind] = decision.Round3(factors[s.Kind] + c)
		total += c
	}
	return decision.Round3(decision.Clamp01(total)), factors
}
