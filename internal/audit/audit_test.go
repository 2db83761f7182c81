package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/signals"
	"github.com/mbd888/sentinel/internal/verified"
)

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func fraudRecord(id, subject string, score float64, at time.Time) *Record {
	return FromDecision(&decision.Record{
		ID:         id,
		SubjectID:  subject,
		Surface:    decision.SurfaceFraud,
		Score:      score,
		Confidence: 0.9,
		Factors:    map[string]float64{"activity_type": score},
		Indicators: decision.NewIndicators(decision.IndicatorTimeAnomaly),
		Action:     decision.ActionFlagForReview,
		PolicyTier: "review",
		CreatedAt:  at,
	})
}

func verificationRecord(t *testing.T, id, subject string) *Record {
	t.Helper()
	res, err := verified.NewScorer().Verify(subject, signals.CredentialClaim{
		Title:           "GM",
		Rating:          2600,
		Documents:       []string{"fide_card"},
		YearsExperience: 10,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return FromVerification(id, res, t0)
}

func crisisRecord(t *testing.T, id string) *Record {
	t.Helper()
	plan, err := crisis.NewPlanner().Plan(signals.IncidentReport{EventType: "data_leak", Severity: "high"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return FromCrisis(crisis.NewEvent(id, plan, t0))
}

// ---------------------------------------------------------------------------
// Record validation
// ---------------------------------------------------------------------------

func TestRecordValidate(t *testing.T) {
	good := fraudRecord("r1", "s1", 0.5, t0)
	if err := good.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name string
		rec  *Record
	}{
		{"nil", nil},
		{"no id", &Record{SubjectID: "s", Surface: decision.SurfaceFraud, Decision: good.Decision}},
		{"no payload", &Record{ID: "x", SubjectID: "s", Surface: decision.SurfaceFraud}},
		{"two payloads", &Record{ID: "x", SubjectID: "s", Surface: decision.SurfaceFraud, Decision: good.Decision, Crisis: &crisis.Event{}}},
		{"surface mismatch", &Record{ID: "x", SubjectID: "s", Surface: decision.SurfaceCrisis, Decision: good.Decision}},
		{"unknown surface", &Record{ID: "x", SubjectID: "s", Surface: "weather", Decision: good.Decision}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rec.Validate(); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestRecordProjections(t *testing.T) {
	rec := fraudRecord("r1", "s1", 0.42, t0)
	if rec.Score() != 0.42 || rec.Outcome() != "flag_for_review" {
		t.Errorf("decision projection: %v %s", rec.Score(), rec.Outcome())
	}
	v := verificationRecord(t, "v1", "s1")
	if v.Outcome() != "verified" || v.SubjectID != "s1" {
		t.Errorf("verification projection: %s", v.Outcome())
	}
	c := crisisRecord(t, "inc_1")
	if c.SubjectID != "inc_1" || c.Outcome() != "active" || c.Score() != 0.75 {
		t.Errorf("crisis projection: %s %s %v", c.SubjectID, c.Outcome(), c.Score())
	}
}

// ---------------------------------------------------------------------------
// Codec and digest
// ---------------------------------------------------------------------------

func TestEncodeDecodeKeepsPayload(t *testing.T) {
	for _, rec := range []*Record{
		fraudRecord("r1", "s1", 0.5, t0),
		verificationRecord(t, "v1", "s1"),
		crisisRecord(t, "inc_1"),
	} {
		data, err := Encode(rec)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.ID != rec.ID || got.Surface != rec.Surface || !got.CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("envelope mismatch: %+v", got)
		}
		if err := got.Validate(); err != nil {
			t.Errorf("decoded record invalid: %v", err)
		}
	}
}

func TestDigestIgnoresIdentity(t *testing.T) {
	a, err := Digest(fraudRecord("r1", "s1", 0.5, t0))
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	b, _ := Digest(fraudRecord("r2", "s1", 0.5, t0.Add(time.Hour)))
	if a != b {
		t.Errorf("digest should ignore id and time: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d", len(a))
	}

	c, _ := Digest(fraudRecord("r1", "s1", 0.51, t0))
	if a == c {
		t.Error("digest should change with score")
	}

	v1, _ := Digest(verificationRecord(t, "v1", "s1"))
	v2, _ := Digest(verificationRecord(t, "v2", "s1"))
	if v1 != v2 {
		t.Error("identical verifications should share a digest")
	}

	if _, err := Digest(&Record{}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("empty record: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStoreHistoryAndLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.Put(ctx, fraudRecord(id, "s1", 0.1*float64(i+1), t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	_ = s.Put(ctx, fraudRecord("other", "s2", 0.9, t0))

	hist, err := s.GetHistory(ctx, "s1", decision.SurfaceFraud, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 3 || hist[0].ID != "r3" || hist[2].ID != "r1" {
		t.Fatalf("unexpected history order: %v", ids(hist))
	}

	limited, _ := s.GetHistory(ctx, "s1", decision.SurfaceFraud, 2)
	if len(limited) != 2 || limited[0].ID != "r3" {
		t.Errorf("limit not honoured: %v", ids(limited))
	}

	latest, err := s.Latest(ctx, "s1", decision.SurfaceFraud)
	if err != nil || latest.ID != "r3" {
		t.Errorf("Latest = %v, %v", latest, err)
	}

	if _, err := s.Latest(ctx, "s1", decision.SurfaceBehavior); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpsertByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := fraudRecord("r1", "s1", 0.5, t0)
	_ = s.Put(ctx, rec)

	resolved, _ := rec.Decision.Resolve(t0.Add(time.Hour))
	_ = s.Put(ctx, FromDecision(resolved))

	hist, _ := s.GetHistory(ctx, "s1", decision.SurfaceFraud, 10)
	if len(hist) != 1 {
		t.Fatalf("re-put should replace, got %d entries", len(hist))
	}
	if hist[0].Decision.ResolvedAt == nil {
		t.Error("history entry should carry the resolution")
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := fraudRecord("r1", "s1", 0.5, t0)
	_ = s.Put(ctx, rec)
	rec.Decision.Score = 0.99

	got, _ := s.Latest(ctx, "s1", decision.SurfaceFraud)
	if got.Decision.Score != 0.5 {
		t.Error("store must not alias caller records")
	}
	got.Decision.Score = 0.01
	again, _ := s.Latest(ctx, "s1", decision.SurfaceFraud)
	if again.Decision.Score != 0.5 {
		t.Error("store must not alias returned records")
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	if err := NewMemoryStore().Put(context.Background(), &Record{ID: "x"}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestMemoryStoreLatestPointer(t *testing.T) {
	testLatestPointerRules(t, NewMemoryStore())
}

// stamp sets the digest the recorder would set.
func stamp(t *testing.T, rec *Record) *Record {
	t.Helper()
	d, err := Digest(rec)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	rec.Digest = d
	return rec
}

// testLatestPointerRules checks the pointer rules every Store shares: an
// older record never displaces a newer one, and a revisioned write only
// lands on the revision it was derived from.
func testLatestPointerRules(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	older := fraudRecord("r1", "s1", 0.5, t0)
	newer := fraudRecord("r2", "s1", 0.7, t0.Add(time.Minute))
	for _, rec := range []*Record{older, newer} {
		if err := s.Put(ctx, stamp(t, rec)); err != nil {
			t.Fatalf("Put %s: %v", rec.ID, err)
		}
	}
	resolved, _ := older.Decision.Resolve(t0.Add(time.Hour))
	if err := s.Put(ctx, stamp(t, FromDecision(resolved))); err != nil {
		t.Fatalf("Put resolved: %v", err)
	}
	latest, err := s.Latest(ctx, "s1", decision.SurfaceFraud)
	if err != nil || latest.ID != "r2" {
		t.Fatalf("resolving an older record moved the pointer: %v, %v", latest, err)
	}
	hist, _ := s.GetHistory(ctx, "s1", decision.SurfaceFraud, 10)
	if len(hist) != 2 || hist[1].ID != "r1" || hist[1].Decision.ResolvedAt == nil {
		t.Errorf("history should carry the resolution: %v", ids(hist))
	}

	base := crisisRecord(t, "inc_1")
	if err := s.Put(ctx, stamp(t, base)); err != nil {
		t.Fatalf("Put incident: %v", err)
	}
	// Retrying the same write is accepted.
	if err := s.Put(ctx, stamp(t, FromCrisis(base.Crisis.Clone()))); err != nil {
		t.Fatalf("re-Put incident: %v", err)
	}

	up, _ := base.Crisis.Escalate("critical", t0.Add(time.Minute))
	if err := s.Put(ctx, stamp(t, FromCrisis(up))); err != nil {
		t.Fatalf("Put escalation: %v", err)
	}
	stale, _ := base.Crisis.Resolve(t0.Add(2 * time.Minute))
	if err := s.Put(ctx, stamp(t, FromCrisis(stale))); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale write: expected ErrConflict, got %v", err)
	}

	cur, err := s.Latest(ctx, "inc_1", decision.SurfaceCrisis)
	if err != nil {
		t.Fatalf("Latest incident: %v", err)
	}
	if cur.Crisis.EscalationLevel != crisis.LevelCritical || cur.Crisis.Status != crisis.StatusActive || cur.Crisis.Revision != 2 {
		t.Errorf("a rejected write changed the incident: %+v", cur.Crisis)
	}
	hist, _ = s.GetHistory(ctx, "inc_1", decision.SurfaceCrisis, 10)
	if len(hist) != 1 || hist[0].Crisis.Status != crisis.StatusActive {
		t.Errorf("a rejected write reached history: %+v", hist)
	}

	done, _ := cur.Crisis.Resolve(t0.Add(3 * time.Minute))
	if err := s.Put(ctx, stamp(t, FromCrisis(done))); err != nil {
		t.Errorf("resolve on current revision: %v", err)
	}
}

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

type flakyStore struct {
	*MemoryStore
	failures int32
	calls    atomic.Int32
}

func (f *flakyStore) Put(ctx context.Context, rec *Record) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Put(ctx, rec)
}

func TestRecorderRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	r := NewRecorder(store).WithRetry(3, time.Millisecond)

	rec := fraudRecord("r1", "s1", 0.5, t0)
	if err := r.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if store.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", store.calls.Load())
	}
	if rec.Digest == "" {
		t.Error("Record should stamp the digest")
	}
	got, _ := r.Latest(context.Background(), "s1", decision.SurfaceFraud)
	if got.Digest != rec.Digest {
		t.Error("stored digest mismatch")
	}
}

func TestRecorderSurfacesStorageError(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 100}
	r := NewRecorder(store).WithRetry(2, time.Millisecond)

	err := r.Record(context.Background(), fraudRecord("r1", "s1", 0.5, t0))
	if !errors.Is(err, decision.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	var se *decision.StorageError
	if !errors.As(err, &se) || se.Op != "put" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRecorderInvalidRecordIsNotRetried(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewRecorder(store)
	err := r.Record(context.Background(), &Record{ID: "x"})
	if !errors.Is(err, ErrInvalidRecord) || !errors.Is(err, decision.ErrStorage) {
		t.Errorf("unexpected error %v", err)
	}
	if store.calls.Load() != 0 {
		t.Error("invalid records must not reach the store")
	}
}

func TestRecorderConflictIsNotRetried(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewRecorder(store).WithRetry(3, time.Millisecond)
	ctx := context.Background()

	base := crisisRecord(t, "inc_1")
	if err := r.Record(ctx, base); err != nil {
		t.Fatalf("Record: %v", err)
	}
	up, _ := base.Crisis.Escalate("critical", t0)
	if err := r.Record(ctx, FromCrisis(up)); err != nil {
		t.Fatalf("Record escalation: %v", err)
	}
	stale, _ := base.Crisis.Resolve(t0)
	err := r.Record(ctx, FromCrisis(stale))
	if !errors.Is(err, ErrConflict) || !errors.Is(err, decision.ErrStorage) {
		t.Fatalf("expected a conflict storage error, got %v", err)
	}
	if store.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", store.calls.Load())
	}
}

func TestRecorderLatestNotFound(t *testing.T) {
	r := NewRecorder(NewMemoryStore())
	if _, err := r.Latest(context.Background(), "nobody", decision.SurfaceFraud); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Ping(context.Background()); err != nil {
		t.Errorf("memory store ping: %v", err)
	}
}
