// Package crisis plans incident responses.
//
// A report maps to a fixed playbook by event type and to an escalation level
// and communication SLA by severity. Planning is a table lookup; nothing is
// inferred. Unrecognized event types get the fallback playbook and
// unrecognized severities are treated as critical.
//
// An Event tracks one incident from planning to resolution. While active its
// escalation level can only rise; once resolved it is frozen. Every state
// change bumps Revision, which stores use to reject writes based on a stale
// read.
package crisis

import (
	"errors"
	"strings"
	"time"

	"github.com/mbd888/sentinel/internal/actions"
)

var (
	ErrResolved     = errors.New("crisis: incident already resolved")
	ErrDeescalation = errors.New("crisis: escalation level cannot decrease")
)

// Severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Escalation levels.
const (
	LevelLow      = 1
	LevelMedium   = 2
	LevelHigh     = 3
	LevelCritical = 4
)

// Communication SLAs.
const (
	SLAImmediate = "immediate"
	SLAOneHour   = "1h"
	SLAFourHours = "4h"
	SLAOneDay    = "24h"
)

var levels = map[string]int{
	SeverityLow:      LevelLow,
	SeverityMedium:   LevelMedium,
	SeverityHigh:     LevelHigh,
	SeverityCritical: LevelCritical,
}

var slas = map[int]string{
	LevelLow:      SLAOneDay,
	LevelMedium:   SLAFourHours,
	LevelHigh:     SLAOneHour,
	LevelCritical: SLAImmediate,
}

var slaDurations = map[string]time.Duration{
	SLAImmediate: 0,
	SLAOneHour:   time.Hour,
	SLAFourHours: 4 * time.Hour,
	SLAOneDay:    24 * time.Hour,
}

// EscalationLevel maps a severity to 1..4. Unknown severities are critical.
func EscalationLevel(severity string) int {
	if l, ok := levels[normalize(severity)]; ok {
		return l
	}
	return LevelCritical
}

// SLA is the communication deadline for a severity.
func SLA(severity string) string {
	return slas[EscalationLevel(severity)]
}

// SLADuration is SLA as a duration; immediate is zero.
func SLADuration(sla string) time.Duration {
	return slaDurations[sla]
}

// KnownSeverity reports whether severity is one of the four levels.
func KnownSeverity(severity string) bool {
	_, ok := levels[normalize(severity)]
	return ok
}

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Event is one incident and its response.
type Event struct {
	ID              string              `json:"id"`
	EventType       string              `json:"eventType"`
	Severity        string              `json:"severity"`
	Description     string              `json:"description,omitempty"`
	AffectedSystems []string            `json:"affectedSystems"`
	Actions         []actions.Directive `json:"actions"`
	EscalationLevel int                 `json:"escalationLevel"`
	Status          Status              `json:"status"`
	Plan            *Plan               `json:"plan"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ResolvedAt      *time.Time          `json:"resolvedAt,omitempty"`
	Revision        int64               `json:"revision"`
}

// NewEvent creates an active incident for plan. Directives are keyed by id
// so re-running the same plan is idempotent at the executor.
func NewEvent(id string, plan *Plan, at time.Time) *Event {
	at = at.UTC()
	target := plan.Target()
	dirs := make([]actions.Directive, len(plan.Actions))
	for i, kind := range plan.Actions {
		dirs[i] = actions.NewDirective(id, kind, target)
	}
	return &Event{
		ID:              id,
		EventType:       plan.EventType,
		Severity:        plan.Severity,
		Description:     plan.Description,
		AffectedSystems: append([]string{}, plan.AffectedSystems...),
		Actions:         dirs,
		EscalationLevel: plan.EscalationLevel,
		Status:          StatusActive,
		Plan:            plan,
		CreatedAt:       at,
		UpdatedAt:       at,
		Revision:        1,
	}
}

// Escalate returns a copy raised to severity. Raising to the current level
// is a no-op; lowering fails with ErrDeescalation.
func (e *Event) Escalate(severity string, at time.Time) (*Event, error) {
	if e.Status == StatusResolved {
		return nil, ErrResolved
	}
	level := EscalationLevel(severity)
	if level < e.EscalationLevel {
		return nil, ErrDeescalation
	}
	cp := e.Clone()
	if level == e.EscalationLevel {
		return cp, nil
	}
	cp.Severity = normalize(severity)
	cp.EscalationLevel = level
	if cp.Plan != nil {
		cp.Plan.Severity = cp.Severity
		cp.Plan.EscalationLevel = level
		cp.Plan.CommunicationPlan.SLA = slas[level]
	}
	cp.UpdatedAt = at.UTC()
	cp.Revision++
	return cp, nil
}

// Resolve returns a resolved copy.
func (e *Event) Resolve(at time.Time) (*Event, error) {
	if e.Status == StatusResolved {
		return nil, ErrResolved
	}
	cp := e.Clone()
	at = at.UTC()
	cp.Status = StatusResolved
	cp.ResolvedAt = &at
	cp.UpdatedAt = at
	cp.Revision++
	return cp, nil
}

// WithActions returns a copy carrying executed directives.
func (e *Event) WithActions(dirs []actions.Directive) *Event {
	cp := e.Clone()
	cp.Actions = append([]actions.Directive(nil), dirs...)
	return cp
}

// FailedActions counts directives whose execution failed.
func (e *Event) FailedActions() int {
	n := 0
	for _, d := range e.Actions {
		if d.Failed() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	cp := *e
	cp.AffectedSystems = append([]string(nil), e.AffectedSystems...)
	cp.Actions = append([]actions.Directive(nil), e.Actions...)
	if e.Plan != nil {
		cp.Plan = e.Plan.Clone()
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
