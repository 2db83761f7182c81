package audit

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Integration(t *testing.T) {
	db := testutil.PGTest(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	rec := NewRecorder(store)
	first := fraudRecord("dec_1", "subj", 0.2, t0)
	second := fraudRecord("dec_2", "subj", 0.9, t0.Add(time.Minute))
	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, rec.Record(ctx, second))

	hist, err := rec.History(ctx, "subj", decision.SurfaceFraud, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dec_2", "dec_1"}, ids(hist))
	assert.Equal(t, second.Digest, hist[0].Digest)

	latest, err := rec.Latest(ctx, "subj", decision.SurfaceFraud)
	require.NoError(t, err)
	assert.Equal(t, "dec_2", latest.ID)

	resolved, err := latest.Decision.Resolve(t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, rec.Record(ctx, FromDecision(resolved)))

	hist, err = rec.History(ctx, "subj", decision.SurfaceFraud, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Decision.Resolved())

	inc := crisisRecord(t, "inc_1")
	require.NoError(t, rec.Record(ctx, inc))
	got, err := rec.Latest(ctx, "inc_1", decision.SurfaceCrisis)
	require.NoError(t, err)
	assert.Equal(t, inc.Crisis.EscalationLevel, got.Crisis.EscalationLevel)
}

func TestPostgresStore_IntegrationLatestPointer(t *testing.T) {
	testLatestPointerRules(t, NewPostgresStore(testutil.PGTest(t)))
}
