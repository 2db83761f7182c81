// Package decision defines the vocabulary shared by every decision surface:
// signals, indicators, resolved actions, decision records and the error
// taxonomy.
//
// Types here carry no behaviour beyond normalization. Scoring lives in
// internal/risk and internal/verified, policy resolution in internal/policy,
// incident planning in internal/crisis.
package decision

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"
)

var ErrAlreadyResolved = errors.New("decision: record already resolved")

// Surface identifies the decision surface that produced a record.
type Surface string

const (
	SurfaceFraud        Surface = "fraud"
	SurfaceBehavior     Surface = "behavior"
	SurfaceVerification Surface = "verification"
	SurfaceCrisis       Surface = "crisis"
)

// Surfaces lists every known surface in a stable order.
var Surfaces = []Surface{SurfaceFraud, SurfaceBehavior, SurfaceVerification, SurfaceCrisis}

// Valid reports whether s is a known surface.
func (s Surface) Valid() bool {
	switch s {
	case SurfaceFraud, SurfaceBehavior, SurfaceVerification, SurfaceCrisis:
		return true
	}
	return false
}

// Action is the discrete outcome of policy resolution.
type Action string

const (
	ActionBlockAccount        Action = "block_account"
	ActionRequireVerification Action = "require_verification"
	ActionFlagForReview       Action = "flag_for_review"
	ActionMonitor             Action = "monitor"
)

// Indicator is a named boolean predicate that fired for a decision.
type Indicator string

const (
	IndicatorCriticalFraud     Indicator = "critical_fraud"
	IndicatorGeographicAnomaly Indicator = "geographic_anomaly"
	IndicatorSuspiciousNetwork Indicator = "suspicious_network"
	IndicatorAutomatedClient   Indicator = "automated_client"
	IndicatorHighValuePayment  Indicator = "high_value_payment"
	IndicatorUnknownActivity   Indicator = "unknown_activity_type"
	IndicatorTimeAnomaly       Indicator = "time_anomaly"
	IndicatorHighFrequency     Indicator = "high_frequency"
	IndicatorPatternMatch      Indicator = "pattern_match"
	IndicatorErrorBurst        Indicator = "error_burst"
	IndicatorShortSession      Indicator = "short_session"
)

// Indicators is an order-independent set of fired indicators. The slice
// form is kept sorted and free of duplicates so it compares and serializes
// deterministically.
type Indicators []Indicator

// NewIndicators builds a normalized set from the given names.
func NewIndicators(names ...Indicator) Indicators {
	if len(names) == 0 {
		return Indicators{}
	}
	seen := make(map[Indicator]struct{}, len(names))
	out := make(Indicators, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether name is in the set.
func (s Indicators) Has(name Indicator) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= name })
	return i < len(s) && s[i] == name
}

// With returns a new set containing s plus names. s is not modified.
func (s Indicators) With(names ...Indicator) Indicators {
	all := make([]Indicator, 0, len(s)+len(names))
	all = append(all, s...)
	all = append(all, names...)
	return NewIndicators(all...)
}

// Strings returns the indicator names as plain strings.
func (s Indicators) Strings() []string {
	out := make([]string, len(s))
	for i, n := range s {
		out[i] = string(n)
	}
	return out
}

// MarshalJSON always emits a sorted array, never null.
func (s Indicators) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewIndicators(s...).Strings())
}

// Signal is a single normalized, weighted observation feeding a score.
type Signal struct {
	Kind   string  `json:"kind"`
	Value  float64 `json:"value"`  // normalized to [0, 1]
	Weight float64 `json:"weight"` // contribution at Value == 1
	Source string  `json:"source"`
}

// Contribution is the signal's additive share of a composite score.
func (s Signal) Contribution() float64 {
	return Clamp01(s.Value) * s.Weight
}

// Decision is what a caller receives from the fraud and behavior surfaces.
type Decision struct {
	Score      float64    `json:"score"`
	Confidence float64    `json:"confidence,omitempty"`
	Indicators Indicators `json:"indicators"`
	Action     Action     `json:"action"`
}

// Record is the immutable audit entry for one fraud or behavior decision.
// Only ResolvedAt may be added after creation.
type Record struct {
	ID         string             `json:"id"`
	SubjectID  string             `json:"subjectId"`
	Surface    Surface            `json:"surface"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence,omitempty"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Indicators Indicators         `json:"indicators"`
	Action     Action             `json:"action"`
	PolicyTier string             `json:"policyTier"`
	CreatedAt  time.Time          `json:"createdAt"`
	ResolvedAt *time.Time         `json:"resolvedAt,omitempty"`
}

// Decision projects the caller-facing decision out of the record.
func (r *Record) Decision() Decision {
	return Decision{
		Score:      r.Score,
		Confidence: r.Confidence,
		Indicators: r.Indicators,
		Action:     r.Action,
	}
}

// Resolved reports whether the record has been resolved.
func (r *Record) Resolved() bool {
	return r.ResolvedAt != nil
}

// Resolve returns a copy of r with ResolvedAt set. The receiver is untouched.
func (r *Record) Resolve(at time.Time) (*Record, error) {
	if r.Resolved() {
		return nil, ErrAlreadyResolved
	}
	cp := r.Clone()
	at = at.UTC()
	cp.ResolvedAt = &at
	return cp, nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Factors != nil {
		cp.Factors = make(map[string]float64, len(r.Factors))
		for k, v := range r.Factors {
			cp.Factors[k] = v
		}
	}
	cp.Indicators = append(Indicators(nil), r.Indicators...)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Clamp01 limits v to [0, 1]. NaN maps to 1.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 1
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
