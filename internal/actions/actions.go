// Package actions executes the side-effecting directives produced by the
// fraud and crisis surfaces.
//
// The engine builds Directives; an Executor carries them out and reports an
// Outcome. Executors must be idempotent for a given IdempotencyKey and may be
// called concurrently for different directives of the same plan. FanOut runs
// a batch with bounded concurrency and never lets one failure abort or roll
// back its siblings.
package actions

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCircuitOpen = errors.New("actions: circuit open")
	ErrNoExecutor  = errors.New("actions: no executor for kind")
)

// Status is the result of one execution attempt.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Directive is one executable action.
type Directive struct {
	Kind           string     `json:"kind"`
	Target         string     `json:"target"`
	IdempotencyKey string     `json:"idempotencyKey"`
	ExecutedAt     *time.Time `json:"executedAt,omitempty"`
	Outcome        *Outcome   `json:"outcome,omitempty"`
}

// Outcome is reported by the executor, never set by the engine itself.
type Outcome struct {
	Status Status    `json:"status"`
	At     time.Time `json:"timestampUtc"`
	Error  string    `json:"error,omitempty"`
}

// Executor carries out a single directive.
type Executor interface {
	Execute(ctx context.Context, d Directive) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, d Directive) (Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, d Directive) (Outcome, error) {
	return f(ctx, d)
}

// NewDirective builds a directive whose idempotency key is scoped to the
// owning plan or decision.
func NewDirective(ownerID, kind, target string) Directive {
	return Directive{
		Kind:           kind,
		Target:         target,
		IdempotencyKey: ownerID + ":" + kind,
	}
}

// Executed returns a success outcome stamped now.
func Executed() Outcome {
	return Outcome{Status: StatusExecuted, At: time.Now().UTC()}
}

// Failed reports whether the directive has a failed outcome.
func (d Directive) Failed() bool {
	return d.Outcome != nil && d.Outcome.Status == StatusFailed
}
