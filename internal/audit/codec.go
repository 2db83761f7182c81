package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/verified"
)

// envelope is the stored form of a Record.
type envelope struct {
	ID           string           `json:"id"`
	SubjectID    string           `json:"subjectId"`
	Surface      decision.Surface `json:"surface"`
	CreatedAt    time.Time        `json:"createdAt"`
	Digest       string           `json:"digest"`
	Decision     *decision.Record `json:"decision,omitempty"`
	Verification *verified.Result `json:"verification,omitempty"`
	Crisis       *crisis.Event    `json:"crisis,omitempty"`
}

// Encode serializes rec for storage.
func Encode(rec *Record) ([]byte, error) {
	return json.Marshal(envelope{
		ID:           rec.ID,
		SubjectID:    rec.SubjectID,
		Surface:      rec.Surface,
		CreatedAt:    rec.CreatedAt.UTC(),
		Digest:       rec.Digest,
		Decision:     rec.Decision,
		Verification: rec.Verification,
		Crisis:       rec.Crisis,
	})
}

// MarshalJSON renders the stored form, so API responses match what the
// adapters persist.
func (r *Record) MarshalJSON() ([]byte, error) {
	return Encode(r)
}

// Decode parses a stored record.
func Decode(data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode audit record: %w", err)
	}
	return &Record{
		ID:           env.ID,
		SubjectID:    env.SubjectID,
		Surface:      env.Surface,
		CreatedAt:    env.CreatedAt,
		Digest:       env.Digest,
		Decision:     env.Decision,
		Verification: env.Verification,
		Crisis:       env.Crisis,
	}, nil
}

// decisionContent is the identity-free part of a decision record.
type decisionContent struct {
	SubjectID  string              `json:"subjectId"`
	Surface    decision.Surface    `json:"surface"`
	Score      float64             `json:"score"`
	Confidence float64             `json:"confidence"`
	Factors    map[string]float64  `json:"factors"`
	Indicators decision.Indicators `json:"indicators"`
	Action     decision.Action     `json:"action"`
	PolicyTier string              `json:"policyTier"`
	Resolved   bool                `json:"resolved"`
}

// crisisContent is the identity-free part of a crisis event.
type crisisContent struct {
	Plan            *crisis.Plan  `json:"plan"`
	EscalationLevel int           `json:"escalationLevel"`
	Status          crisis.Status `json:"status"`
}

// Digest is the hex SHA-256 of the RFC 8785 canonical JSON of the record's
// content. IDs and timestamps are excluded, so identical inputs produce
// identical digests.
func Digest(rec *Record) (string, error) {
	var content any
	switch {
	case rec.Decision != nil:
		d := rec.Decision
		content = decisionContent{
			SubjectID:  d.SubjectID,
			Surface:    d.Surface,
			Score:      d.Score,
			Confidence: d.Confidence,
			Factors:    d.Factors,
			Indicators: d.Indicators,
			Action:     d.Action,
			PolicyTier: d.PolicyTier,
			Resolved:   d.Resolved(),
		}
	case rec.Verification != nil:
		v := *rec.Verification
		v.SettledAt = nil
		content = v
	case rec.Crisis != nil:
		content = crisisContent{
			Plan:            rec.Crisis.Plan,
			EscalationLevel: rec.Crisis.EscalationLevel,
			Status:          rec.Crisis.Status,
		}
	default:
		return "", fmt.Errorf("%w: no payload", ErrInvalidRecord)
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal digest content: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize digest content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
