package crisis

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/signals"
)

var t0 = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestPlanCriticalBreach(t *testing.T) {
	plan, err := NewPlanner().Plan(signals.IncidentReport{
		EventType:       "security_breach",
		Severity:        "critical",
		AffectedSystems: []string{"auth", "billing"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.EscalationLevel != 4 {
		t.Errorf("level = %d, want 4", plan.EscalationLevel)
	}
	if plan.CommunicationPlan.SLA != SLAImmediate {
		t.Errorf("sla = %s, want immediate", plan.CommunicationPlan.SLA)
	}
	if !contains(plan.Actions, "isolate_affected_systems") {
		t.Errorf("actions %v missing isolate_affected_systems", plan.Actions)
	}
	if !plan.KnownEventType {
		t.Error("security_breach should be known")
	}
	if len(plan.RecoveryStrategy) == 0 || len(plan.PreventionMeasures) == 0 || len(plan.ImmediateActions) == 0 {
		t.Error("long-form response should be populated")
	}
	if plan.Target() != "auth,billing" {
		t.Errorf("target = %q", plan.Target())
	}
}

func TestPlaybookActions(t *testing.T) {
	want := map[string][]string{
		"security_breach":   {"isolate_affected_systems", "activate_incident_response_team", "notify_security_team", "implement_emergency_protocols"},
		"system_failure":    {"activate_backup_systems", "notify_technical_team", "implement_failover_procedures", "monitor_system_recovery"},
		"data_leak":         {"contain_data_exposure", "notify_legal_team", "assess_data_impact", "prepare_user_notifications"},
		"ddos_attack":       {"activate_ddos_protection", "scale_infrastructure", "block_malicious_traffic", "notify_network_team"},
		"content_violation": {"remove_violating_content", "suspend_offending_accounts", "notify_moderation_team", "review_content_policies"},
	}
	p := NewPlanner()
	if got := p.EventTypes(); len(got) != len(want) {
		t.Errorf("event types = %v", got)
	}
	for eventType, actions := range want {
		plan, err := p.Plan(signals.IncidentReport{EventType: eventType, Severity: "low"})
		if err != nil {
			t.Fatalf("%s: %v", eventType, err)
		}
		if len(plan.Actions) != len(actions) {
			t.Fatalf("%s: actions = %v", eventType, plan.Actions)
		}
		for i := range actions {
			if plan.Actions[i] != actions[i] {
				t.Errorf("%s: action[%d] = %s, want %s", eventType, i, plan.Actions[i], actions[i])
			}
		}
	}
}

func TestSeverityTable(t *testing.T) {
	tests := []struct {
		severity string
		level    int
		sla      string
	}{
		{"low", 1, "24h"},
		{"medium", 2, "4h"},
		{"high", 3, "1h"},
		{"critical", 4, "immediate"},
		{"HIGH", 3, "1h"},
		{"catastrophic", 4, "immediate"},
		{"", 4, "immediate"},
	}
	for _, tt := range tests {
		if got := EscalationLevel(tt.severity); got != tt.level {
			t.Errorf("EscalationLevel(%q) = %d, want %d", tt.severity, got, tt.level)
		}
		if got := SLA(tt.severity); got != tt.sla {
			t.Errorf("SLA(%q) = %s, want %s", tt.severity, got, tt.sla)
		}
	}
	if SLADuration(SLAOneHour) != time.Hour || SLADuration(SLAImmediate) != 0 {
		t.Error("unexpected SLA durations")
	}
}

func TestUnknownEventTypeUsesFallback(t *testing.T) {
	plan, err := NewPlanner().Plan(signals.IncidentReport{EventType: "alien_invasion", Severity: "bizarre"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.KnownEventType {
		t.Error("unknown type should not be known")
	}
	if plan.EventType != "alien_invasion" {
		t.Errorf("event type should be preserved, got %s", plan.EventType)
	}
	if !contains(plan.Actions, "isolate_affected_systems") || !contains(plan.Actions, "implement_emergency_protocols") {
		t.Errorf("fallback actions %v are not conservative", plan.Actions)
	}
	if plan.EscalationLevel != LevelCritical {
		t.Errorf("unknown severity level = %d", plan.EscalationLevel)
	}

	// The fallback key itself is not a valid event type.
	plan, _ = NewPlanner().Plan(signals.IncidentReport{EventType: "fallback", Severity: "low"})
	if plan.KnownEventType {
		t.Error("fallback must not count as a known event type")
	}
}

func TestPlanValidation(t *testing.T) {
	_, err := NewPlanner().Plan(signals.IncidentReport{EventType: "data_leak"})
	if !errors.Is(err, decision.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPlanDoesNotAliasPlaybook(t *testing.T) {
	p := NewPlanner()
	a, _ := p.Plan(signals.IncidentReport{EventType: "data_leak", Severity: "high"})
	a.Actions[0] = "tampered"
	a.CommunicationPlan.Stakeholders[0] = "tampered"
	b, _ := p.Plan(signals.IncidentReport{EventType: "data_leak", Severity: "high"})
	if b.Actions[0] == "tampered" || b.CommunicationPlan.Stakeholders[0] == "tampered" {
		t.Error("plans must not share slices with the playbook table")
	}
}

func TestLoadPlaybooks(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	_ = os.WriteFile(good, []byte(`
phishing:
  actions: [reset_credentials, notify_security_team]
fallback:
  actions: [notify_security_team]
`), 0o600)
	p, err := LoadPlaybooks(good)
	if err != nil {
		t.Fatalf("LoadPlaybooks: %v", err)
	}
	plan, _ := p.Plan(signals.IncidentReport{EventType: "Phishing", Severity: "medium"})
	if !plan.KnownEventType || plan.Actions[0] != "reset_credentials" {
		t.Errorf("unexpected plan %+v", plan)
	}

	noFallback := filepath.Join(dir, "nofallback.yaml")
	_ = os.WriteFile(noFallback, []byte("phishing:\n  actions: [x]\n"), 0o600)
	if _, err := LoadPlaybooks(noFallback); err == nil {
		t.Error("expected error without fallback playbook")
	}

	empty := filepath.Join(dir, "empty.yaml")
	_ = os.WriteFile(empty, []byte("fallback:\n  actions: []\n"), 0o600)
	if _, err := LoadPlaybooks(empty); err == nil {
		t.Error("expected error for playbook without actions")
	}
}

// ---------------------------------------------------------------------------
// Event lifecycle
// ---------------------------------------------------------------------------

func newEvent(t *testing.T, severity string) *Event {
	t.Helper()
	plan, err := NewPlanner().Plan(signals.IncidentReport{EventType: "system_failure", Severity: severity, AffectedSystems: []string{"db"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return NewEvent("inc_1", plan, t0)
}

func TestNewEvent(t *testing.T) {
	e := newEvent(t, "medium")
	if e.Status != StatusActive || e.EscalationLevel != 2 {
		t.Errorf("unexpected event %+v", e)
	}
	if len(e.Actions) != 4 {
		t.Fatalf("expected 4 directives, got %d", len(e.Actions))
	}
	d := e.Actions[0]
	if d.IdempotencyKey != "inc_1:activate_backup_systems" || d.Target != "db" {
		t.Errorf("unexpected directive %+v", d)
	}
	if d.Outcome != nil {
		t.Error("the planner must not set outcomes")
	}
}

func TestEscalateIsMonotonic(t *testing.T) {
	e := newEvent(t, "medium")

	up, err := e.Escalate("critical", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if up.EscalationLevel != 4 || up.Severity != "critical" || up.Plan.CommunicationPlan.SLA != SLAImmediate {
		t.Errorf("unexpected escalated event %+v", up)
	}
	if e.EscalationLevel != 2 {
		t.Error("Escalate must not mutate the receiver")
	}
	if e.Revision != 1 || up.Revision != 2 {
		t.Errorf("revisions = %d -> %d, want 1 -> 2", e.Revision, up.Revision)
	}

	if _, err := up.Escalate("low", t0); !errors.Is(err, ErrDeescalation) {
		t.Errorf("expected ErrDeescalation, got %v", err)
	}

	same, err := up.Escalate("critical", t0.Add(2*time.Minute))
	if err != nil || same.EscalationLevel != 4 || !same.UpdatedAt.Equal(up.UpdatedAt) || same.Revision != up.Revision {
		t.Errorf("same-level escalate should be a no-op, got %+v %v", same, err)
	}
}

func TestResolve(t *testing.T) {
	e := newEvent(t, "high")
	done, err := e.Resolve(t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if done.Status != StatusResolved || done.ResolvedAt == nil || done.Revision != e.Revision+1 {
		t.Errorf("unexpected resolved event %+v", done)
	}
	if _, err := done.Resolve(t0); !errors.Is(err, ErrResolved) {
		t.Errorf("double resolve: got %v", err)
	}
	if _, err := done.Escalate("critical", t0); !errors.Is(err, ErrResolved) {
		t.Errorf("escalate resolved: got %v", err)
	}
}

// TestEscalationPurity verifies the level depends only on severity and
// stays within 1..4 no matter how an event is escalated.
func TestEscalationPurity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	severities := []string{"low", "medium", "high", "critical", "unknown", " Medium "}
	planner := NewPlanner()

	properties.Property("level is a function of severity in 1..4", prop.ForAll(
		func(i int) bool {
			l := EscalationLevel(severities[i])
			return l >= 1 && l <= 4 && l == EscalationLevel(severities[i])
		},
		gen.IntRange(0, len(severities)-1),
	))

	properties.Property("escalation never lowers the level", prop.ForAll(
		func(start int, steps []int) bool {
			plan, err := planner.Plan(signals.IncidentReport{EventType: "ddos_attack", Severity: severities[start]})
			if err != nil {
				return false
			}
			e := NewEvent("inc", plan, t0)
			for _, s := range steps {
				next, err := e.Escalate(severities[s], t0)
				if err != nil {
					if !errors.Is(err, ErrDeescalation) {
						return false
					}
					continue
				}
				if next.EscalationLevel < e.EscalationLevel || next.EscalationLevel != EscalationLevel(next.Severity) {
					return false
				}
				e = next
			}
			return true
		},
		gen.IntRange(0, len(severities)-1),
		gen.SliceOf(gen.IntRange(0, len(severities)-1)),
	))

	properties.TestingRun(t)
}
