package audit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mbd888/sentinel/internal/decision"
)

// TestRedisStore_Integration requires a running Redis and skips otherwise.
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	store := DialRedis(addr, "", 0)
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	subject := "redis-test-" + uuid.NewString()
	for i, id := range []string{"a", "b", "c"} {
		rec := fraudRecord(subject+"-"+id, subject, 0.3, t0.Add(time.Duration(i)*time.Second))
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	hist, err := store.GetHistory(ctx, subject, decision.SurfaceFraud, 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != subject+"-c" {
		t.Fatalf("unexpected history: %v", ids(hist))
	}

	latest, err := store.Latest(ctx, subject, decision.SurfaceFraud)
	if err != nil || latest.ID != subject+"-c" {
		t.Errorf("Latest = %v, %v", latest, err)
	}

	if _, err := store.Latest(ctx, subject, decision.SurfaceBehavior); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
