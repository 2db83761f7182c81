package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
)

func openTempSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTempSQLite(t)

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.Put(ctx, fraudRecord(id, "s1", 0.2*float64(i+1), t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	if err := s.Put(ctx, verificationRecord(t, "v1", "s1")); err != nil {
		t.Fatalf("Put verification: %v", err)
	}

	hist, err := s.GetHistory(ctx, "s1", decision.SurfaceFraud, 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != "r3" || hist[1].ID != "r2" {
		t.Fatalf("unexpected history: %v", ids(hist))
	}

	latest, err := s.Latest(ctx, "s1", decision.SurfaceVerification)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Verification == nil || latest.Verification.AggregateScore != 0.95 {
		t.Errorf("unexpected verification %+v", latest.Verification)
	}

	if _, err := s.Latest(ctx, "nobody", decision.SurfaceFraud); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreLatestPointer(t *testing.T) {
	t.Parallel()
	testLatestPointerRules(t, openTempSQLite(t))
}

func TestSQLiteStoreUpsertResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTempSQLite(t)

	rec := fraudRecord("r1", "s1", 0.5, t0)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	resolved, _ := rec.Decision.Resolve(t0.Add(time.Hour))
	if err := s.Put(ctx, FromDecision(resolved)); err != nil {
		t.Fatalf("Put resolved: %v", err)
	}

	n, err := s.recordCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("record count = %d, %v", n, err)
	}
	latest, _ := s.Latest(ctx, "s1", decision.SurfaceFraud)
	if latest.Decision.ResolvedAt == nil {
		t.Error("latest should reflect the resolution")
	}
}

func TestSQLiteStoreMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTempSQLite(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), "  "); err == nil {
		t.Error("expected error for blank path")
	}
}
