package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Fan-out defaults.
const (
	DefaultConcurrency = 8
	DefaultTimeout     = 5 * time.Second
)

var actionExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "action",
	Name:      "executions_total",
	Help:      "Action executions by kind and status.",
}, []string{"kind", "status"})

func init() {
	prometheus.MustRegister(actionExecutions)
}

// FanOut runs directives with bounded concurrency.
type FanOut struct {
	exec        Executor
	concurrency int
	timeout     time.Duration
}

// NewFanOut creates a fan-out runner. Non-positive values fall back to the
// defaults.
func NewFanOut(exec Executor, concurrency int, timeout time.Duration) *FanOut {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FanOut{exec: exec, concurrency: concurrency, timeout: timeout}
}

// Run executes every directive and returns copies with ExecutedAt and
// Outcome filled, in input order. Failures are captured per directive as
// ActionExecutionErrors and never stop the batch.
func (f *FanOut) Run(ctx context.Context, directives []Directive) ([]Directive, []error) {
	out := make([]Directive, len(directives))
	errs := make([]error, len(directives))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, d := range directives {
		g.Go(func() error {
			out[i], errs[i] = f.runOne(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	return out, failures
}

func (f *FanOut) runOne(ctx context.Context, d Directive) (res Directive, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &decision.ActionExecutionError{Action: d.Kind, Err: fmt.Errorf("panic: %v", r)}
			res = withOutcome(d, Outcome{Status: StatusFailed, At: time.Now().UTC(), Error: err.Error()})
		}
		actionExecutions.WithLabelValues(d.Kind, string(res.Outcome.Status)).Inc()
	}()

	outcome, execErr := f.exec.Execute(ctx, d)
	if execErr != nil {
		err = &decision.ActionExecutionError{Action: d.Kind, Err: execErr}
		return withOutcome(d, Outcome{Status: StatusFailed, At: time.Now().UTC(), Error: execErr.Error()}), err
	}
	if outcome.Status == "" {
		outcome.Status = StatusExecuted
	}
	if outcome.At.IsZero() {
		outcome.At = time.Now().UTC()
	}
	if outcome.Status == StatusFailed {
		err = &decision.ActionExecutionError{Action: d.Kind, Err: fmt.Errorf("executor reported failure: %s", outcome.Error)}
	}
	return withOutcome(d, outcome), err
}

func withOutcome(d Directive, o Outcome) Directive {
	at := o.At
	d.ExecutedAt = &at
	d.Outcome = &o
	return d
}
