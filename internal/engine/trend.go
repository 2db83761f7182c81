package engine

import (
	"context"
	"time"

	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/pagination"
)

// TrendThreshold is the mean-score shift between the older and newer halves
// of a history window that counts as rising or falling.
const TrendThreshold = 0.1

// Direction of a score trend.
type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
	DirectionStable  Direction = "stable"
)

// Trend summarizes a subject's recent history on one surface.
type Trend struct {
	SubjectID   string           `json:"subjectId"`
	Surface     decision.Surface `json:"surface"`
	Count       int              `json:"count"`
	MeanScore   float64          `json:"meanScore"`
	LatestScore float64          `json:"latestScore"`
	Direction   Direction        `json:"direction"`
	Outcomes    map[string]int   `json:"outcomes"`
}

// History returns up to limit records, newest first.
func (e *Engine) History(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*audit.Record, error) {
	if !surface.Valid() {
		return nil, decision.Invalid("surface", "unknown surface")
	}
	return e.recorder.History(ctx, subjectID, surface, limit)
}

// HistoryPage is one page of a subject's history, newest first.
type HistoryPage struct {
	Records    []*audit.Record `json:"records"`
	Count      int             `json:"count"`
	NextCursor string          `json:"nextCursor,omitempty"`
	HasMore    bool            `json:"hasMore"`
}

func recordKey(r *audit.Record) (time.Time, string) { return r.CreatedAt, r.ID }

// HistoryPaged returns up to limit records older than cursor. Paging covers
// the newest audit.MaxHistoryLimit records.
func (e *Engine) HistoryPaged(ctx context.Context, subjectID string, surface decision.Surface, limit int, cursor string) (*HistoryPage, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, decision.Invalid("cursor", err.Error())
	}
	if limit <= 0 {
		limit = audit.DefaultHistoryLimit
	}
	fetch := min(limit+1, audit.MaxHistoryLimit)
	if cur != nil {
		fetch = audit.MaxHistoryLimit
	}
	recs, err := e.History(ctx, subjectID, surface, fetch)
	if err != nil {
		return nil, err
	}
	page := pagination.ComputePage(pagination.After(recs, cur, recordKey), limit, recordKey)
	if page.Items == nil {
		page.Items = []*audit.Record{}
	}
	return &HistoryPage{
		Records:    page.Items,
		Count:      len(page.Items),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}, nil
}

// Trend analyzes up to limit of the subject's most recent records.
func (e *Engine) Trend(ctx context.Context, subjectID string, surface decision.Surface, limit int) (*Trend, error) {
	recs, err := e.History(ctx, subjectID, surface, limit)
	if err != nil {
		return nil, err
	}
	t := AnalyzeTrend(recs)
	t.SubjectID = subjectID
	t.Surface = surface
	return &t, nil
}

// AnalyzeTrend summarizes records given newest first. The direction compares
// the mean score of the newer half against the older half; with fewer than
// two records the trend is stable.
func AnalyzeTrend(recs []*audit.Record) Trend {
	t := Trend{Direction: DirectionStable, Outcomes: map[string]int{}}
	if len(recs) == 0 {
		return t
	}

	var total float64
	for _, r := range recs {
		total += r.Score()
		t.Outcomes[r.Outcome()]++
	}
	t.Count = len(recs)
	t.MeanScore = decision.Round3(total / float64(len(recs)))
	t.LatestScore = recs[0].Score()

	if len(recs) < 2 {
		return t
	}
	half := len(recs) / 2
	newer := mean(recs[:half])
	older := mean(recs[half:])
	switch delta := newer - older; {
	case delta > TrendThreshold:
		t.Direction = DirectionRising
	case delta < -TrendThreshold:
		t.Direction = DirectionFalling
	}
	return t
}

func mean(recs []*audit.Record) float64 {
	var total float64
	for _, r := range recs {
		total += r.Score()
	}
	return total / float64(len(recs))
}
