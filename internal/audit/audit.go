// Package audit persists every decision the engine makes.
//
// A Record is a tagged envelope holding exactly one typed payload: a
// decision record (fraud, behavior), a verification result, or a crisis
// event. Stores keep two views: an append-only history keyed by record ID,
// and a latest pointer per (subject, surface). The pointer never moves to a
// record older than the one it holds, so a late write of an old record
// cannot hide a newer one. Crisis events are revisioned: a write lands only
// on top of the revision it was derived from and fails with ErrConflict
// otherwise.
//
// JSON encoding happens only inside the store adapters.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/verified"
)

// DefaultHistoryLimit caps history reads when no limit is given.
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the largest limit a history read honours.
const MaxHistoryLimit = 1000

var (
	ErrNotFound      = errors.New("audit: record not found")
	ErrInvalidRecord = errors.New("audit: invalid record")
	ErrConflict      = errors.New("audit: record changed since it was read")
)

// Record is one audit entry.
type Record struct {
	ID        string
	SubjectID string
	Surface   decision.Surface
	CreatedAt time.Time
	Digest    string

	Decision     *decision.Record
	Verification *verified.Result
	Crisis       *crisis.Event
}

// Store persists audit records.
type Store interface {
	// Put appends rec to history (replacing an entry with the same ID) and
	// moves the latest pointer for (rec.SubjectID, rec.Surface) unless it
	// holds a newer record. A revisioned rec whose predecessor is not the
	// current latest fails with ErrConflict and writes nothing.
	Put(ctx context.Context, rec *Record) error

	// GetHistory returns up to limit records, newest first.
	GetHistory(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*Record, error)

	// Latest returns the most recently written record or ErrNotFound.
	Latest(ctx context.Context, subjectID string, surface decision.Surface) (*Record, error)
}

// Pinger is implemented by stores backed by a remote resource.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FromDecision wraps a fraud or behavior decision.
func FromDecision(r *decision.Record) *Record {
	return &Record{
		ID:        r.ID,
		SubjectID: r.SubjectID,
		Surface:   r.Surface,
		CreatedAt: r.CreatedAt.UTC(),
		Decision:  r,
	}
}

// FromVerification wraps a verification result.
func FromVerification(id string, res *verified.Result, at time.Time) *Record {
	return &Record{
		ID:           id,
		SubjectID:    res.SubjectID,
		Surface:      decision.SurfaceVerification,
		CreatedAt:    at.UTC(),
		Verification: res,
	}
}

// FromCrisis wraps a crisis event. The incident ID doubles as the subject.
func FromCrisis(ev *crisis.Event) *Record {
	return &Record{
		ID:        ev.ID,
		SubjectID: ev.ID,
		Surface:   decision.SurfaceCrisis,
		CreatedAt: ev.CreatedAt.UTC(),
		Crisis:    ev,
	}
}

// Validate checks that rec is well formed and carries the payload its
// surface requires.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.ID == "" || r.SubjectID == "" {
		return fmt.Errorf("%w: id and subject are required", ErrInvalidRecord)
	}
	n := 0
	for _, set := range []bool{r.Decision != nil, r.Verification != nil, r.Crisis != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: exactly one payload required, got %d", ErrInvalidRecord, n)
	}
	switch r.Surface {
	case decision.SurfaceFraud, decision.SurfaceBehavior:
		if r.Decision == nil {
			return fmt.Errorf("%w: %s record without decision", ErrInvalidRecord, r.Surface)
		}
	case decision.SurfaceVerification:
		if r.Verification == nil {
			return fmt.Errorf("%w: verification record without result", ErrInvalidRecord)
		}
	case decision.SurfaceCrisis:
		if r.Crisis == nil {
			return fmt.Errorf("%w: crisis record without event", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown surface %q", ErrInvalidRecord, r.Surface)
	}
	return nil
}

// ResolvedAt returns when the payload was resolved or settled, if ever.
func (r *Record) ResolvedAt() *time.Time {
	switch {
	case r.Decision != nil:
		return r.Decision.ResolvedAt
	case r.Verification != nil:
		return r.Verification.SettledAt
	case r.Crisis != nil:
		return r.Crisis.ResolvedAt
	}
	return nil
}

// Revision is the payload's revision, or zero for unrevisioned payloads.
func (r *Record) Revision() int64 {
	if r.Crisis != nil {
		return r.Crisis.Revision
	}
	return 0
}

// pointer is the position of the record a latest pointer holds.
type pointer struct {
	createdAt time.Time
	revision  int64
	digest    string
}

func pointerOf(r *Record) pointer {
	return pointer{createdAt: r.CreatedAt, revision: r.Revision(), digest: r.Digest}
}

// advance reports whether writing rec should move a latest pointer at cur.
// A nil cur is an empty slot and always takes the write. Rewriting the
// current revision with the same digest is accepted so retried writes stay
// idempotent.
func advance(cur *pointer, rec *Record) (bool, error) {
	if cur == nil {
		return true, nil
	}
	rev := rec.Revision()
	if rev == 0 {
		return !rec.CreatedAt.Before(cur.createdAt), nil
	}
	if cur.revision == rev-1 || (cur.revision == rev && cur.digest == rec.Digest) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %s at revision %d, write is %d", ErrConflict, rec.ID, cur.revision, rev)
}

// Score is the record's primary score, used for trend analysis.
func (r *Record) Score() float64 {
	switch {
	case r.Decision != nil:
		return r.Decision.Score
	case r.Verification != nil:
		return r.Verification.AggregateScore
	case r.Crisis != nil:
		return float64(r.Crisis.EscalationLevel) / crisis.LevelCritical
	}
	return 0
}

// Outcome is the record's discrete result: the action for decisions, the
// status for verifications and incidents.
func (r *Record) Outcome() string {
	switch {
	case r.Decision != nil:
		return string(r.Decision.Action)
	case r.Verification != nil:
		return string(r.Verification.Status)
	case r.Crisis != nil:
		return string(r.Crisis.Status)
	}
	return ""
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
