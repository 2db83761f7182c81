// Package engine runs the decision pipeline for every surface.
//
// Each operation computes its decision from pure components first, then
// executes directives and writes the audit record. Collaborator failures in
// those last two steps never invalidate the decision; they are reported as
// warnings on the result. Only input validation fails an evaluation.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/actions"
	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/policy"
	"github.com/mbd888/sentinel/internal/risk"
	"github.com/mbd888/sentinel/internal/signals"
	"github.com/mbd888/sentinel/internal/verified"
)

// Engine is the decision façade. Construct with New and configure with the
// With* methods before serving traffic; it is safe for concurrent use after
// that.
type Engine struct {
	collector *signals.Collector
	scorer    risk.Scorer
	ladder    *policy.Ladder
	verifier  *verified.Scorer
	planner   *crisis.Planner
	fanout    *actions.FanOut
	recorder  *audit.Recorder
	ids       idgen.Generator
	now       func() time.Time
	logger    *slog.Logger

	openMu sync.Mutex
	open   map[string]struct{} // incidents planned here and not yet resolved here
}

// New creates an engine recording to recorder with the built-in collector,
// aggregator, ladder, scorer and playbooks. No directives are executed until
// WithFanOut is set.
func New(recorder *audit.Recorder) *Engine {
	return &Engine{
		collector: signals.NewCollector(),
		scorer:    risk.NewAggregator(),
		ladder:    policy.Default(),
		verifier:  verified.NewScorer(),
		planner:   crisis.NewPlanner(),
		recorder:  recorder,
		ids:       idgen.UUID{},
		now:       time.Now,
		logger:    slog.Default(),
		open:      make(map[string]struct{}),
	}
}

// WithCollector sets the signal collector.
func (e *Engine) WithCollector(c *signals.Collector) *Engine {
	e.collector = c
	return e
}

// WithScorer replaces the heuristic aggregator.
func (e *Engine) WithScorer(s risk.Scorer) *Engine {
	e.scorer = s
	return e
}

// WithLadder sets the policy ladder.
func (e *Engine) WithLadder(l *policy.Ladder) *Engine {
	e.ladder = l
	return e
}

// WithVerifier sets the credential scorer.
func (e *Engine) WithVerifier(v *verified.Scorer) *Engine {
	e.verifier = v
	return e
}

// WithPlanner sets the crisis planner.
func (e *Engine) WithPlanner(p *crisis.Planner) *Engine {
	e.planner = p
	return e
}

// WithFanOut enables directive execution.
func (e *Engine) WithFanOut(f *actions.FanOut) *Engine {
	e.fanout = f
	return e
}

// WithIDs sets the identifier generator.
func (e *Engine) WithIDs(g idgen.Generator) *Engine {
	e.ids = g
	return e
}

// WithClock sets the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// Ladder returns the active policy ladder.
func (e *Engine) Ladder() *policy.Ladder { return e.ladder }

// Planner returns the active crisis planner.
func (e *Engine) Planner() *crisis.Planner { return e.planner }

// Ping checks the audit store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.recorder.Ping(ctx)
}

// DecisionResult is returned by the fraud and behavior surfaces.
type DecisionResult struct {
	Decision decision.Decision   `json:"decision"`
	Record   *decision.Record    `json:"record"`
	Actions  []actions.Directive `json:"actions,omitempty"`
	Warnings []decision.Warning  `json:"warnings,omitempty"`
}

// VerificationResult is returned by the verification surface.
type VerificationResult struct {
	ID       string             `json:"id"`
	Result   *verified.Result   `json:"result"`
	Warnings []decision.Warning `json:"warnings,omitempty"`
}

// IncidentResult is returned by the crisis surface.
type IncidentResult struct {
	Event    *crisis.Event      `json:"event"`
	Warnings []decision.Warning `json:"warnings,omitempty"`
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.Tagged(ctx, e.logger)
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// record writes rec and converts a failure into a warning.
func (e *Engine) record(ctx context.Context, rec *audit.Record) []decision.Warning {
	if err := e.recorder.Record(ctx, rec); err != nil {
		return e.storageWarning(ctx, rec, err)
	}
	return nil
}

func (e *Engine) storageWarning(ctx context.Context, rec *audit.Record, err error) []decision.Warning {
	metrics.StorageFailuresTotal.WithLabelValues(string(rec.Surface)).Inc()
	e.log(ctx).Warn("audit record not persisted",
		"subject", rec.SubjectID, "surface", rec.Surface, "record_id", rec.ID, "error", err)
	return []decision.Warning{decision.WarningFor(err)}
}

// execute runs directives and converts failures into warnings. Without a
// fan-out the directives are returned unexecuted.
func (e *Engine) execute(ctx context.Context, subject string, surface decision.Surface, dirs []actions.Directive) ([]actions.Directive, []decision.Warning) {
	if e.fanout == nil || len(dirs) == 0 {
		return dirs, nil
	}
	done, errs := e.fanout.Run(ctx, dirs)
	var warnings []decision.Warning
	for _, err := range errs {
		e.log(ctx).Warn("action failed", "subject", subject, "surface", surface, "error", err)
		warnings = append(warnings, decision.WarningFor(err))
	}
	return done, warnings
}
