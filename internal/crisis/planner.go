package crisis

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mbd888/sentinel/internal/signals"
	"gopkg.in/yaml.v3"
)

// FallbackPlaybook is the playbook key for unrecognized event types.
const FallbackPlaybook = "fallback"

//go:embed playbooks.yaml
var defaultPlaybooks []byte

// CommunicationPlan is who to tell, how, and how fast.
type CommunicationPlan struct {
	SLA          string   `yaml:"-" json:"sla"`
	Stakeholders []string `yaml:"stakeholders" json:"stakeholders"`
	Channels     []string `yaml:"channels" json:"channels"`
	Message      string   `yaml:"message" json:"message"`
}

// Playbook is the fixed response for one event type.
type Playbook struct {
	Actions            []string          `yaml:"actions" json:"actions"`
	ImmediateActions   []string          `yaml:"immediateActions" json:"immediateActions"`
	CommunicationPlan  CommunicationPlan `yaml:"communicationPlan" json:"communicationPlan"`
	RecoveryStrategy   []string          `yaml:"recoveryStrategy" json:"recoveryStrategy"`
	PreventionMeasures []string          `yaml:"preventionMeasures" json:"preventionMeasures"`
}

// Plan is the response to one incident report.
type Plan struct {
	EventType          string            `json:"eventType"`
	Severity           string            `json:"severity"`
	Description        string            `json:"description,omitempty"`
	AffectedSystems    []string          `json:"affectedSystems"`
	KnownEventType     bool              `json:"knownEventType"`
	EscalationLevel    int               `json:"escalationLevel"`
	Actions            []string          `json:"actions"`
	ImmediateActions   []string          `json:"immediateActions"`
	CommunicationPlan  CommunicationPlan `json:"communicationPlan"`
	RecoveryStrategy   []string          `json:"recoveryStrategy"`
	PreventionMeasures []string          `json:"preventionMeasures"`
}

// Target is the directive target for the plan's actions: the affected
// systems, or the event type when none are listed.
func (p *Plan) Target() string {
	if len(p.AffectedSystems) == 0 {
		return p.EventType
	}
	return strings.Join(p.AffectedSystems, ",")
}

// Clone returns a deep copy of p.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.AffectedSystems = append([]string(nil), p.AffectedSystems...)
	cp.Actions = append([]string(nil), p.Actions...)
	cp.ImmediateActions = append([]string(nil), p.ImmediateActions...)
	cp.RecoveryStrategy = append([]string(nil), p.RecoveryStrategy...)
	cp.PreventionMeasures = append([]string(nil), p.PreventionMeasures...)
	cp.CommunicationPlan.Stakeholders = append([]string(nil), p.CommunicationPlan.Stakeholders...)
	cp.CommunicationPlan.Channels = append([]string(nil), p.CommunicationPlan.Channels...)
	return &cp
}

// Planner maps incident reports to plans. It is immutable after
// construction and safe for concurrent use.
type Planner struct {
	playbooks map[string]Playbook
}

// NewPlanner creates a planner with the built-in playbooks.
func NewPlanner() *Planner {
	p, err := ParsePlaybooks(defaultPlaybooks)
	if err != nil {
		panic(fmt.Sprintf("crisis: embedded playbooks: %v", err))
	}
	return p
}

// LoadPlaybooks reads playbooks from path. An empty path returns the
// built-in set.
func LoadPlaybooks(path string) (*Planner, error) {
	if path == "" {
		return NewPlanner(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crisis: read %s: %w", path, err)
	}
	return ParsePlaybooks(data)
}

// ParsePlaybooks decodes a playbook table. A fallback playbook is required.
func ParsePlaybooks(data []byte) (*Planner, error) {
	raw := map[string]Playbook{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("crisis: decode playbooks: %w", err)
	}
	books := make(map[string]Playbook, len(raw))
	for k, pb := range raw {
		key := normalize(k)
		if len(pb.Actions) == 0 {
			return nil, fmt.Errorf("crisis: playbook %q has no actions", key)
		}
		books[key] = pb
	}
	if _, ok := books[FallbackPlaybook]; !ok {
		return nil, fmt.Errorf("crisis: missing %q playbook", FallbackPlaybook)
	}
	return &Planner{playbooks: books}, nil
}

// EventTypes lists the recognized event types in sorted order.
func (p *Planner) EventTypes() []string {
	out := make([]string, 0, len(p.playbooks))
	for k := range p.playbooks {
		if k != FallbackPlaybook {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Plan validates the report and builds its response plan.
func (p *Planner) Plan(r signals.IncidentReport) (*Plan, error) {
	if err := signals.Validate(r); err != nil {
		return nil, err
	}

	eventType := normalize(r.EventType)
	pb, known := p.playbooks[eventType]
	if !known || eventType == FallbackPlaybook {
		pb, known = p.playbooks[FallbackPlaybook], false
	}

	severity := normalize(r.Severity)
	level := EscalationLevel(severity)
	comm := pb.CommunicationPlan
	comm.SLA = slas[level]

	plan := &Plan{
		EventType:          eventType,
		Severity:           severity,
		Description:        r.Description,
		AffectedSystems:    append([]string{}, r.AffectedSystems...),
		KnownEventType:     known,
		EscalationLevel:    level,
		Actions:            append([]string(nil), pb.Actions...),
		ImmediateActions:   append([]string(nil), pb.ImmediateActions...),
		CommunicationPlan:  comm,
		RecoveryStrategy:   append([]string(nil), pb.RecoveryStrategy...),
		PreventionMeasures: append([]string(nil), pb.PreventionMeasures...),
	}
	return plan.Clone(), nil
}
