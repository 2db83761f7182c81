// Package signals turns raw domain events into normalized, weighted signals
// and fired indicators.
//
// Every predicate here is a pure function of the event and the collector's
// static configuration (timezone, network lists). Nothing reads the clock,
// a random source or a store.
package signals

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
)

// Kind names a recognized event kind.
type Kind string

const (
	KindActivity   Kind = "activity"
	KindBehavior   Kind = "behavior"
	KindIncident   Kind = "incident"
	KindCredential Kind = "credential"
)

// Event is implemented by every input type the collector understands.
type Event interface {
	EventKind() Kind
}

// Activity is a single user action scored on the fraud surface.
type Activity struct {
	SubjectID    string          `json:"subjectId" validate:"required,max=256"`
	ActivityType string          `json:"activityType" validate:"required,max=64"`
	Payload      ActivityPayload `json:"payload"`
	TimestampUTC time.Time       `json:"timestampUtc"`
	IPAddress    string          `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	UserAgent    string          `json:"userAgent,omitempty" validate:"max=1024"`
}

// ActivityPayload carries the activity attributes indicators inspect.
type ActivityPayload struct {
	Amount      float64  `json:"amount,omitempty" validate:"gte=0"`
	Currency    string   `json:"currency,omitempty" validate:"omitempty,len=3"`
	Country     string   `json:"country,omitempty" validate:"omitempty,len=2"`
	HomeCountry string   `json:"homeCountry,omitempty" validate:"omitempty,len=2"`
	Flags       []string `json:"flags,omitempty" validate:"dive,required,max=64"`
}

func (Activity) EventKind() Kind { return KindActivity }

// BehaviorSample is an aggregated usage window scored on the behavior surface.
type BehaviorSample struct {
	SubjectID       string    `json:"subjectId" validate:"required,max=256"`
	Frequency       int       `json:"frequency" validate:"gte=0"`
	DurationSeconds float64   `json:"durationSeconds" validate:"gte=0"`
	ErrorCount      int       `json:"errorCount" validate:"gte=0"`
	PatternFlags    []string  `json:"patternFlags,omitempty" validate:"dive,required,max=64"`
	DataPoints      int       `json:"dataPoints,omitempty" validate:"gte=0"`
	ObservedAt      time.Time `json:"observedAt"`
}

func (BehaviorSample) EventKind() Kind { return KindBehavior }

// IncidentReport describes an operational incident to plan a response for.
type IncidentReport struct {
	EventType       string   `json:"eventType" validate:"required,max=64"`
	Severity        string   `json:"severity" validate:"required,max=32"`
	Description     string   `json:"description,omitempty" validate:"max=4096"`
	AffectedSystems []string `json:"affectedSystems,omitempty" validate:"dive,required,max=128"`
}

func (IncidentReport) EventKind() Kind { return KindIncident }

// CredentialClaim is a claimed chess title awaiting verification.
type CredentialClaim struct {
	Title           string   `json:"title" validate:"required,max=16"`
	Rating          int      `json:"rating" validate:"gte=0,lte=4000"`
	Documents       []string `json:"documents,omitempty" validate:"dive,required,max=512"`
	YearsExperience float64  `json:"yearsExperience" validate:"gte=0,lte=100"`
}

func (CredentialClaim) EventKind() Kind { return KindCredential }

// Decode parses a JSON body as the event of the given kind. Unknown kinds
// and unknown fields are validation errors.
func Decode(kind Kind, body []byte) (Event, error) {
	var ev Event
	switch kind {
	case KindActivity:
		var a Activity
		if err := strictUnmarshal(body, &a); err != nil {
			return nil, err
		}
		ev = a
	case KindBehavior:
		var b BehaviorSample
		if err := strictUnmarshal(body, &b); err != nil {
			return nil, err
		}
		ev = b
	case KindIncident:
		var r IncidentReport
		if err := strictUnmarshal(body, &r); err != nil {
			return nil, err
		}
		ev = r
	case KindCredential:
		var c CredentialClaim
		if err := strictUnmarshal(body, &c); err != nil {
			return nil, err
		}
		ev = c
	default:
		return nil, decision.Invalid("kind", fmt.Sprintf("unrecognized event kind %q", kind))
	}
	return ev, nil
}

func strictUnmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decision.Invalid("body", err.Error())
	}
	return nil
}
