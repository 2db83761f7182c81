package signals

import (
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
)

// Signal kinds emitted by the collector.
const (
	SignalActivityType    = "activity_type"
	SignalTimeOfDay       = "time_of_day"
	SignalNetwork         = "network"
	SignalFrequency       = "frequency"
	SignalPatternMatch    = "pattern_match"
	SignalIncident        = "incident"
	SignalAffectedSystems = "affected_systems"
	SignalRating          = "rating"
	SignalDocuments       = "documents"
	SignalExperience      = "experience"
)

// Fraud and behavior weights.
const (
	DefaultFraudBaseWeight  = 0.5
	TimeOfDayWeight         = 0.2
	FrequencyWeight         = 0.3
	PatternMatchWeight      = 0.4
	FrequencyThreshold      = 100
	ErrorBurstThreshold     = 10
	ShortSessionSeconds     = 2.0
	ShortSessionFrequency   = 10
	HighValuePaymentAmount  = 1000.0
	offHoursStart           = 6  // hour < offHoursStart is off-hours
	offHoursEnd             = 22 // hour > offHoursEnd is off-hours
	affectedSystemsSaturate = 10
)

// fraudBaseWeights maps a normalized activity type to its base weight.
var fraudBaseWeights = map[string]float64{
	"login":       0.1,
	"game":        0.2,
	"payment":     0.8,
	"content":     0.3,
	"interaction": 0.2,
}

// FraudBaseWeight returns the base weight for an activity type and whether
// the type is recognized. Unknown types get DefaultFraudBaseWeight.
func FraudBaseWeight(activityType string) (float64, bool) {
	w, ok := fraudBaseWeights[normalizeType(activityType)]
	if !ok {
		return DefaultFraudBaseWeight, false
	}
	return w, true
}

// criticalFlags are payload flags that force the critical_fraud indicator.
var criticalFlags = map[string]bool{
	"stolen_instrument": true,
	"account_takeover":  true,
	"chargeback_fraud":  true,
}

var automationAgents = []string{
	"bot", "crawler", "spider", "headless", "curl", "wget",
	"python-requests", "go-http-client", "phantomjs", "selenium", "puppeteer",
}

// Collection is the output of one collect call.
type Collection struct {
	Kind       Kind
	SubjectID  string
	Signals    []decision.Signal
	Indicators decision.Indicators
	DataPoints int
}

// Collector normalizes events into signals and indicators.
type Collector struct {
	location *time.Location
	network  NetworkReputation
}

// Option configures a Collector.
type Option func(*Collector)

// WithLocation sets the timezone used for time-of-day predicates.
func WithLocation(loc *time.Location) Option {
	return func(c *Collector) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithNetworkReputation sets the source address scorer.
func WithNetworkReputation(n NetworkReputation) Option {
	return func(c *Collector) {
		if n != nil {
			c.network = n
		}
	}
}

// NewCollector creates a collector. Defaults: UTC, no network reputation.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		location: time.UTC,
		network:  &CIDRReputation{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect validates ev and extracts its signals and indicators.
func (c *Collector) Collect(ev Event) (*Collection, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}
	switch e := ev.(type) {
	case Activity:
		return c.collectActivity(e), nil
	case *Activity:
		return c.collectActivity(*e), nil
	case BehaviorSample:
		return c.collectBehavior(e), nil
	case *BehaviorSample:
		return c.collectBehavior(*e), nil
	case IncidentReport:
		return c.collectIncident(e), nil
	case *IncidentReport:
		return c.collectIncident(*e), nil
	case CredentialClaim:
		return c.collectCredential(e), nil
	case *CredentialClaim:
		return c.collectCredential(*e), nil
	default:
		return nil, decision.Invalid("kind", "unrecognized event kind")
	}
}

// OffHours reports whether t falls before 06:00 or after 22:59 in loc.
func OffHours(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	return h < offHoursStart || h > offHoursEnd
}

func (c *Collector) collectActivity(a Activity) *Collection {
	typ := normalizeType(a.ActivityType)
	base, known := FraudBaseWeight(typ)

	var verdict NetworkVerdict
	hasIP := false
	if addr, err := netip.ParseAddr(a.IPAddress); err == nil {
		hasIP = true
		verdict = c.network.Lookup(addr)
	}
	adj := math.Min(math.Max(verdict.Adjustment, 0), MaxNetworkAdjustment)

	offHours := OffHours(a.TimestampUTC, c.location)

	sigs := []decision.Signal{
		{Kind: SignalActivityType, Value: 1, Weight: base, Source: typ},
		{Kind: SignalTimeOfDay, Value: boolValue(offHours), Weight: TimeOfDayWeight, Source: "timestampUtc"},
		{Kind: SignalNetwork, Value: adj / MaxNetworkAdjustment, Weight: MaxNetworkAdjustment, Source: "ipAddress"},
	}

	var fired []decision.Indicator
	if !known {
		fired = append(fired, decision.IndicatorUnknownActivity)
	}
	p := a.Payload
	if p.Country != "" && p.HomeCountry != "" && !strings.EqualFold(p.Country, p.HomeCountry) {
		fired = append(fired, decision.IndicatorGeographicAnomaly)
	}
	if adj >= SuspiciousNetworkThreshold {
		fired = append(fired, decision.IndicatorSuspiciousNetwork)
	}
	if hasIP && isAutomatedAgent(a.UserAgent) {
		fired = append(fired, decision.IndicatorAutomatedClient)
	}
	if typ == "payment" && p.Amount >= HighValuePaymentAmount {
		fired = append(fired, decision.IndicatorHighValuePayment)
	}
	if verdict.Blocked || hasCriticalFlag(p.Flags) {
		fired = append(fired, decision.IndicatorCriticalFraud)
	}

	return &Collection{
		Kind:       KindActivity,
		SubjectID:  a.SubjectID,
		Signals:    sigs,
		Indicators: decision.NewIndicators(fired...),
	}
}

func (c *Collector) collectBehavior(b BehaviorSample) *Collection {
	offHours := OffHours(b.ObservedAt, c.location)
	highFreq := b.Frequency > FrequencyThreshold
	pattern := len(b.PatternFlags) > 0

	sigs := []decision.Signal{
		{Kind: SignalTimeOfDay, Value: boolValue(offHours), Weight: TimeOfDayWeight, Source: "observedAt"},
		{Kind: SignalFrequency, Value: boolValue(highFreq), Weight: FrequencyWeight, Source: "frequency"},
		{Kind: SignalPatternMatch, Value: boolValue(pattern), Weight: PatternMatchWeight, Source: "patternFlags"},
	}

	var fired []decision.Indicator
	if offHours {
		fired = append(fired, decision.IndicatorTimeAnomaly)
	}
	if highFreq {
		fired = append(fired, decision.IndicatorHighFrequency)
	}
	if pattern {
		fired = append(fired, decision.IndicatorPatternMatch)
	}
	if b.ErrorCount > ErrorBurstThreshold {
		fired = append(fired, decision.IndicatorErrorBurst)
	}
	if b.DurationSeconds < ShortSessionSeconds && b.Frequency > ShortSessionFrequency {
		fired = append(fired, decision.IndicatorShortSession)
	}

	return &Collection{
		Kind:       KindBehavior,
		SubjectID:  b.SubjectID,
		Signals:    sigs,
		Indicators: decision.NewIndicators(fired...),
		DataPoints: b.DataPoints,
	}
}

func (c *Collector) collectIncident(r IncidentReport) *Collection {
	n := float64(len(r.AffectedSystems)) / affectedSystemsSaturate
	return &Collection{
		Kind: KindIncident,
		Signals: []decision.Signal{
			{Kind: SignalIncident, Value: 1, Weight: 1, Source: normalizeType(r.EventType)},
			{Kind: SignalAffectedSystems, Value: decision.Clamp01(n), Weight: 1, Source: "affectedSystems"},
		},
		Indicators: decision.NewIndicators(),
	}
}

func (c *Collector) collectCredential(cl CredentialClaim) *Collection {
	return &Collection{
		Kind: KindCredential,
		Signals: []decision.Signal{
			{Kind: SignalRating, Value: decision.Clamp01(float64(cl.Rating) / 2800), Weight: 1, Source: "rating"},
			{Kind: SignalDocuments, Value: boolValue(len(cl.Documents) > 0), Weight: 1, Source: "documents"},
			{Kind: SignalExperience, Value: decision.Clamp01(cl.YearsExperience / 2), Weight: 1, Source: "yearsExperience"},
		},
		Indicators: decision.NewIndicators(),
	}
}

func isAutomatedAgent(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return true
	}
	for _, s := range automationAgents {
		if strings.Contains(ua, s) {
			return true
		}
	}
	return false
}

func hasCriticalFlag(flags []string) bool {
	for _, f := range flags {
		if criticalFlags[normalizeType(f)] {
			return true
		}
	}
	return false
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
