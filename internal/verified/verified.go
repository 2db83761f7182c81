// Package verified implements multi-factor verification of claimed chess
// titles.
//
// A claim runs four independent checks (title validity, rating threshold,
// supporting documents, experience). The aggregate is the arithmetic mean of
// the check scores and maps to a status:
//
//	aggregate >= 0.8        verified
//	0.6 <= aggregate < 0.8  pending
//	aggregate < 0.6         rejected
//
// Verification is a pure function of the claim: identical input yields a
// byte-identical Result. A pending result may later be settled to verified
// or rejected by a reviewer; settled results never change status again.
package verified

import (
	"errors"
	"time"
)

var (
	ErrInvalidTransition = errors.New("verified: invalid status transition")
)

// Status is the outcome of a verification.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// CanTransition reports whether from may move to to. Only pending results
// move, and only to a terminal status.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.IsTerminal()
}

// Check is one independent verification step.
type Check struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
	Detail string  `json:"detail"`
}

// NextStep is a remediation hint for a check that scored below
// PassThreshold.
type NextStep struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Result is the outcome of verifying one credential claim.
type Result struct {
	SubjectID      string     `json:"subjectId"`
	ClaimedTitle   string     `json:"claimedTitle"`
	Checks         []Check    `json:"checks"`
	AggregateScore float64    `json:"aggregateScore"`
	Status         Status     `json:"status"`
	NextSteps      []NextStep `json:"nextSteps"`
	SettledAt      *time.Time `json:"settledAt,omitempty"`
	SettledBy      string     `json:"settledBy,omitempty"`
}

// Settle moves a pending result to a terminal status and returns the
// settled copy. The receiver is untouched.
func (r *Result) Settle(to Status, by string, at time.Time) (*Result, error) {
	if !CanTransition(r.Status, to) {
		return nil, ErrInvalidTransition
	}
	cp := r.Clone()
	at = at.UTC()
	cp.Status = to
	cp.SettledAt = &at
	cp.SettledBy = by
	return cp, nil
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	cp := *r
	cp.Checks = append([]Check(nil), r.Checks...)
	cp.NextSteps = append([]NextStep(nil), r.NextSteps...)
	if r.SettledAt != nil {
		t := *r.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}
