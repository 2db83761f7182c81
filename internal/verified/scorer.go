package verified

import (
	"fmt"
	"strings"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/signals"
)

// Check names.
const (
	CheckTitle      = "title_validity"
	CheckRating     = "rating_threshold"
	CheckDocuments  = "document_presence"
	CheckExperience = "experience_threshold"
)

// Scoring constants.
const (
	PassThreshold      = 0.8
	VerifiedThreshold  = 0.8
	PendingThreshold   = 0.6
	MinYearsExperience = 2.0

	belowRatingScore    = 0.5 // partial credit
	documentsScore      = 0.8
	lowExperienceScore  = 0.6
	conservativeMinimum = 2500 // applied when the title is unrecognized
)

// DefaultTitleMinimums maps recognized titles to their minimum rating.
var DefaultTitleMinimums = map[string]int{
	"GM":  2500,
	"IM":  2400,
	"FM":  2300,
	"WGM": 2300,
	"WIM": 2200,
	"CM":  2200,
	"WCM": 2200,
	"WFM": 2100,
	"NM":  2200,
}

// Scorer runs the verification checks. It holds only its immutable title
// table and is safe for concurrent use.
type Scorer struct {
	minimums map[string]int
}

// NewScorer creates a scorer with the default title table.
func NewScorer() *Scorer {
	return &Scorer{minimums: DefaultTitleMinimums}
}

// NewScorerWithTitles creates a scorer with a custom title table. Keys are
// matched case-insensitively.
func NewScorerWithTitles(minimums map[string]int) *Scorer {
	m := make(map[string]int, len(minimums))
	for k, v := range minimums {
		m[normalizeTitle(k)] = v
	}
	return &Scorer{minimums: m}
}

// Verify validates the claim and runs all four checks.
func (s *Scorer) Verify(subjectID string, claim signals.CredentialClaim) (*Result, error) {
	if err := signals.Validate(claim); err != nil {
		return nil, err
	}
	if strings.TrimSpace(subjectID) == "" {
		return nil, decision.Invalid("subjectId", "required")
	}

	title := normalizeTitle(claim.Title)
	minimum, known := s.minimums[title]
	if !known {
		minimum = conservativeMinimum
	}

	checks := []Check{
		titleCheck(title, known),
		ratingCheck(title, claim.Rating, minimum, known),
		documentsCheck(claim.Documents),
		experienceCheck(claim.YearsExperience),
	}

	var total float64
	steps := make([]NextStep, 0, len(checks))
	for _, c := range checks {
		total += c.Score
		if c.Score < PassThreshold {
			steps = append(steps, NextStep{Check: c.Name, Detail: c.Detail})
		}
	}
	aggregate := decision.Round3(total / float64(len(checks)))

	return &Result{
		SubjectID:      subjectID,
		ClaimedTitle:   title,
		Checks:         checks,
		AggregateScore: aggregate,
		Status:         StatusFor(aggregate),
		NextSteps:      steps,
	}, nil
}

// StatusFor maps an aggregate score to a status.
func StatusFor(aggregate float64) Status {
	switch {
	case aggregate >= VerifiedThreshold:
		return StatusVerified
	case aggregate >= PendingThreshold:
		return StatusPending
	default:
		return StatusRejected
	}
}

func titleCheck(title string, known bool) Check {
	if !known {
		return newCheck(CheckTitle, 0, fmt.Sprintf("title %q is not a recognized title", title))
	}
	return newCheck(CheckTitle, 1, fmt.Sprintf("title %s is recognized", title))
}

func ratingCheck(title string, rating, minimum int, known bool) Check {
	if rating >= minimum {
		return newCheck(CheckRating, 1, fmt.Sprintf("rating %d meets minimum %d", rating, minimum))
	}
	if !known {
		return newCheck(CheckRating, belowRatingScore, fmt.Sprintf("rating %d below conservative minimum %d; submit an official rating history", rating, minimum))
	}
	return newCheck(CheckRating, belowRatingScore, fmt.Sprintf("rating %d below %s minimum %d; submit an official rating history", rating, title, minimum))
}

func documentsCheck(docs []string) Check {
	if len(docs) == 0 {
		return newCheck(CheckDocuments, 0, "no supporting documents attached; upload a federation card or title certificate")
	}
	return newCheck(CheckDocuments, documentsScore, fmt.Sprintf("%d supporting document(s) attached, pending manual review", len(docs)))
}

func experienceCheck(years float64) Check {
	if years >= MinYearsExperience {
		return newCheck(CheckExperience, 1, fmt.Sprintf("%g years of experience meets minimum %g", years, MinYearsExperience))
	}
	return newCheck(CheckExperience, lowExperienceScore, fmt.Sprintf("%g years of experience below minimum %g; provide tournament history", years, MinYearsExperience))
}

func newCheck(name string, score float64, detail string) Check {
	return Check{Name: name, Score: score, Passed: score >= PassThreshold, Detail: detail}
}

func normalizeTitle(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
