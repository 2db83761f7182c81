package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/signals"
	"github.com/mbd888/sentinel/internal/traces"
)

// RespondToIncident plans the response to a report, fans out its actions and
// records the resulting incident.
func (e *Engine) RespondToIncident(ctx context.Context, r signals.IncidentReport) (*IncidentResult, error) {
	ctx, span := traces.StartSpan(ctx, "engine.RespondToIncident",
		traces.Surface(string(decision.SurfaceCrisis)))
	defer span.End()

	plan, err := e.planner.Plan(r)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	ev := crisis.NewEvent(e.ids.New(idgen.PrefixIncident), plan, e.clock())
	span.SetAttributes(traces.IncidentID(ev.ID), traces.EscalationLevel(ev.EscalationLevel))
	metrics.CrisisPlansTotal.WithLabelValues(ev.EventType, strconv.Itoa(ev.EscalationLevel)).Inc()
	e.trackOpen(ev.ID)

	if !plan.KnownEventType {
		e.log(ctx).Warn("unrecognized incident type, using fallback playbook",
			"incident_id", ev.ID, "event_type", ev.EventType)
	}

	done, warnings := e.execute(ctx, ev.ID, decision.SurfaceCrisis, ev.Actions)
	ev = ev.WithActions(done)

	out := &IncidentResult{Event: ev, Warnings: warnings}
	out.Warnings = append(out.Warnings, e.record(ctx, audit.FromCrisis(ev.Clone()))...)
	e.log(ctx).Info("incident planned",
		"incident_id", ev.ID, "event_type", ev.EventType, "level", ev.EscalationLevel,
		"actions", len(ev.Actions), "failed_actions", ev.FailedActions())
	return out, nil
}

// Incident returns the current state of an incident.
func (e *Engine) Incident(ctx context.Context, id string) (*crisis.Event, error) {
	latest, err := e.recorder.Latest(ctx, id, decision.SurfaceCrisis)
	if err != nil {
		return nil, err
	}
	if latest.Crisis == nil {
		return nil, &decision.StorageError{Op: "latest", Err: errors.New("record has no crisis payload")}
	}
	return latest.Crisis, nil
}

// incidentWriteAttempts bounds re-reads when a concurrent update to the same
// incident lands first.
const incidentWriteAttempts = 5

// updateIncident applies change to the current incident and writes the
// result, re-reading and reapplying when another writer got there first.
// A change that keeps the revision is returned without a write. Storage
// failures other than a conflict are reported as warnings.
func (e *Engine) updateIncident(ctx context.Context, id string, change func(*crisis.Event) (*crisis.Event, error)) (prev, next *crisis.Event, warnings []decision.Warning, err error) {
	for attempt := 1; ; attempt++ {
		prev, err = e.Incident(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		next, err = change(prev)
		if err != nil {
			return nil, nil, nil, err
		}
		if next.Revision == prev.Revision {
			return prev, next, nil, nil
		}
		rec := audit.FromCrisis(next.Clone())
		err = e.recorder.Record(ctx, rec)
		switch {
		case err == nil:
			return prev, next, nil, nil
		case !errors.Is(err, audit.ErrConflict):
			return prev, next, e.storageWarning(ctx, rec, err), nil
		case attempt >= incidentWriteAttempts:
			return nil, nil, nil, err
		}
		e.log(ctx).Debug("incident changed concurrently, re-reading",
			"incident_id", id, "attempt", attempt, "revision", next.Revision)
	}
}

// EscalateIncident raises an active incident to severity. Lowering the level
// fails with crisis.ErrDeescalation. Concurrent escalations are applied one
// on top of the other, so the stored level never drops.
func (e *Engine) EscalateIncident(ctx context.Context, id, severity string) (*IncidentResult, error) {
	if severity == "" {
		return nil, decision.Invalid("severity", "is required")
	}
	ev, up, warnings, err := e.updateIncident(ctx, id, func(ev *crisis.Event) (*crisis.Event, error) {
		return ev.Escalate(severity, e.clock())
	})
	if err != nil {
		return nil, err
	}
	if up.Revision == ev.Revision {
		return &IncidentResult{Event: up}, nil
	}
	metrics.CrisisPlansTotal.WithLabelValues(up.EventType, strconv.Itoa(up.EscalationLevel)).Inc()
	e.log(ctx).Info("incident escalated",
		"incident_id", id, "from", ev.EscalationLevel, "to", up.EscalationLevel)
	return &IncidentResult{Event: up, Warnings: warnings}, nil
}

// ResolveIncident closes an active incident. A resolve racing another update
// re-reads first, so it cannot be overwritten by a stale escalation.
func (e *Engine) ResolveIncident(ctx context.Context, id string) (*IncidentResult, error) {
	_, done, warnings, err := e.updateIncident(ctx, id, func(ev *crisis.Event) (*crisis.Event, error) {
		return ev.Resolve(e.clock())
	})
	if err != nil {
		return nil, err
	}
	e.untrackOpen(id)
	return &IncidentResult{Event: done, Warnings: warnings}, nil
}

// trackOpen counts an incident planned by this process as active.
func (e *Engine) trackOpen(id string) {
	e.openMu.Lock()
	defer e.openMu.Unlock()
	if _, ok := e.open[id]; !ok {
		e.open[id] = struct{}{}
		metrics.ActiveIncidents.Inc()
	}
}

// untrackOpen stops counting id. Incidents planned by another process or
// before a restart were never counted and leave the gauge alone.
func (e *Engine) untrackOpen(id string) {
	e.openMu.Lock()
	defer e.openMu.Unlock()
	if _, ok := e.open[id]; ok {
		delete(e.open, id)
		metrics.ActiveIncidents.Dec()
	}
}

// OpenIncidents is the number of incidents this engine planned and has not
// resolved.
func (e *Engine) OpenIncidents() int {
	e.openMu.Lock()
	defer e.openMu.Unlock()
	return len(e.open)
}
