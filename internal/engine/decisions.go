package engine

import (
	"context"
	"errors"

	"github.com/mbd888/sentinel/internal/actions"
	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/signals"
	"github.com/mbd888/sentinel/internal/traces"
	"github.com/mbd888/sentinel/internal/verified"
)

// EvaluateActivity scores an activity on the fraud surface. Any action
// stricter than monitor is executed as a directive against the subject.
func (e *Engine) EvaluateActivity(ctx context.Context, a signals.Activity) (*DecisionResult, error) {
	ctx, span := traces.StartSpan(ctx, "engine.EvaluateActivity",
		traces.SubjectID(a.SubjectID), traces.Surface(string(decision.SurfaceFraud)))
	defer span.End()

	if a.TimestampUTC.IsZero() {
		a.TimestampUTC = e.clock()
	}
	res, err := e.evaluate(ctx, a)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	if res.Record.Action != decision.ActionMonitor {
		dir := actions.NewDirective(res.Record.ID, string(res.Record.Action), res.Record.SubjectID)
		done, warnings := e.execute(ctx, res.Record.SubjectID, decision.SurfaceFraud, []actions.Directive{dir})
		res.Actions = done
		res.Warnings = append(res.Warnings, warnings...)
	}
	span.SetAttributes(traces.Action(string(res.Record.Action)), traces.Score(res.Record.Score))
	return res, nil
}

// EvaluateBehavior scores a usage sample on the behavior surface. Behavior
// decisions are advisory; no directives are executed.
func (e *Engine) EvaluateBehavior(ctx context.Context, b signals.BehaviorSample) (*DecisionResult, error) {
	ctx, span := traces.StartSpan(ctx, "engine.EvaluateBehavior",
		traces.SubjectID(b.SubjectID), traces.Surface(string(decision.SurfaceBehavior)))
	defer span.End()

	if b.ObservedAt.IsZero() {
		b.ObservedAt = e.clock()
	}
	res, err := e.evaluate(ctx, b)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Action(string(res.Record.Action)), traces.Score(res.Record.Score))
	return res, nil
}

// evaluate runs collect, score, resolve and record for one event.
func (e *Engine) evaluate(ctx context.Context, ev signals.Event) (*DecisionResult, error) {
	col, err := e.collector.Collect(ev)
	if err != nil {
		return nil, err
	}
	score, err := e.scorer.Score(col)
	if err != nil {
		return nil, err
	}
	res := e.ladder.Resolve(score.Value, score.Indicators)

	rec := &decision.Record{
		ID:         e.ids.New(idgen.PrefixDecision),
		SubjectID:  col.SubjectID,
		Surface:    score.Surface,
		Score:      decision.Clamp01(score.Value),
		Confidence: score.Confidence,
		Factors:    score.Factors,
		Indicators: score.Indicators,
		Action:     res.Action,
		PolicyTier: res.Tier,
		CreatedAt:  e.clock(),
	}

	metrics.DecisionsTotal.WithLabelValues(string(rec.Surface), string(rec.Action)).Inc()
	metrics.DecisionScore.WithLabelValues(string(rec.Surface)).Observe(rec.Score)
	e.log(ctx).Debug("decision",
		"subject", rec.SubjectID, "surface", rec.Surface, "score", rec.Score,
		"action", rec.Action, "tier", rec.PolicyTier, "indicators", rec.Indicators.Strings())

	out := &DecisionResult{Decision: rec.Decision(), Record: rec}
	out.Warnings = e.record(ctx, audit.FromDecision(rec.Clone()))
	return out, nil
}

// ResolveDecision marks the latest fraud or behavior decision for a subject
// as resolved. Only resolvedAt changes.
func (e *Engine) ResolveDecision(ctx context.Context, subjectID string, surface decision.Surface) (*DecisionResult, error) {
	if surface != decision.SurfaceFraud && surface != decision.SurfaceBehavior {
		return nil, decision.Invalid("surface", "only fraud and behavior decisions can be resolved")
	}
	latest, err := e.recorder.Latest(ctx, subjectID, surface)
	if err != nil {
		return nil, err
	}
	if latest.Decision == nil {
		return nil, &decision.StorageError{Op: "latest", Err: errors.New("record has no decision payload")}
	}
	resolved, err := latest.Decision.Resolve(e.clock())
	if err != nil {
		return nil, err
	}
	out := &DecisionResult{Decision: resolved.Decision(), Record: resolved}
	out.Warnings = e.record(ctx, audit.FromDecision(resolved.Clone()))
	return out, nil
}

// VerifyCredential scores a titled-player claim.
func (e *Engine) VerifyCredential(ctx context.Context, subjectID string, claim signals.CredentialClaim) (*VerificationResult, error) {
	ctx, span := traces.StartSpan(ctx, "engine.VerifyCredential",
		traces.SubjectID(subjectID), traces.Surface(string(decision.SurfaceVerification)))
	defer span.End()

	res, err := e.verifier.Verify(subjectID, claim)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	metrics.VerificationsTotal.WithLabelValues(string(res.Status)).Inc()
	span.SetAttributes(traces.Score(res.AggregateScore))

	out := &VerificationResult{ID: e.ids.New(idgen.PrefixVerification), Result: res}
	out.Warnings = e.record(ctx, audit.FromVerification(out.ID, res.Clone(), e.clock()))
	return out, nil
}

// SettleVerification moves the subject's latest pending verification to a
// terminal status on a reviewer's decision.
func (e *Engine) SettleVerification(ctx context.Context, subjectID string, to verified.Status, reviewer string) (*VerificationResult, error) {
	if !to.IsTerminal() {
		return nil, decision.Invalid("status", "must be verified or rejected")
	}
	if reviewer == "" {
		return nil, decision.Invalid("reviewer", "is required")
	}
	latest, err := e.recorder.Latest(ctx, subjectID, decision.SurfaceVerification)
	if err != nil {
		return nil, err
	}
	if latest.Verification == nil {
		return nil, &decision.StorageError{Op: "latest", Err: errors.New("record has no verification payload")}
	}
	settled, err := latest.Verification.Settle(to, reviewer, e.clock())
	if err != nil {
		return nil, err
	}
	metrics.VerificationsTotal.WithLabelValues(string(settled.Status)).Inc()

	out := &VerificationResult{ID: latest.ID, Result: settled}
	out.Warnings = e.record(ctx, audit.FromVerification(latest.ID, settled.Clone(), latest.CreatedAt))
	return out, nil
}
