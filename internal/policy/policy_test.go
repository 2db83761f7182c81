package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mbd888/sentinel/internal/decision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ============================================================================
// Ladder resolution
// ============================================================================

func TestDefaultLadder(t *testing.T) {
	l := Default()
	tests := []struct {
		name       string
		score      float64
		indicators decision.Indicators
		want       decision.Action
	}{
		{"fraud block scenario", 1.0, nil, decision.ActionBlockAccount},
		{"fraud monitor scenario", 0.1, nil, decision.ActionMonitor},
		{"just above block", 0.81, nil, decision.ActionBlockAccount},
		{"block boundary is exclusive", 0.8, nil, decision.ActionRequireVerification},
		{"verify boundary is exclusive", 0.6, nil, decision.ActionFlagForReview},
		{"review boundary is exclusive", 0.4, nil, decision.ActionMonitor},
		{"review", 0.5, nil, decision.ActionFlagForReview},
		{"zero", 0, nil, decision.ActionMonitor},
		{
			"critical indicator forces block",
			0.1,
			decision.NewIndicators(decision.IndicatorCriticalFraud),
			decision.ActionBlockAccount,
		},
		{
			"three indicators force verification",
			0.1,
			decision.NewIndicators(decision.IndicatorAutomatedClient, decision.IndicatorGeographicAnomaly, decision.IndicatorHighValuePayment),
			decision.ActionRequireVerification,
		},
		{
			"two indicators do not",
			0.1,
			decision.NewIndicators(decision.IndicatorAutomatedClient, decision.IndicatorGeographicAnomaly),
			decision.ActionMonitor,
		},
		{
			"duplicates count once",
			0.1,
			decision.Indicators{decision.IndicatorAutomatedClient, decision.IndicatorAutomatedClient, decision.IndicatorGeographicAnomaly},
			decision.ActionMonitor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Resolve(tt.score, tt.indicators)
			if got.Action != tt.want {
				t.Errorf("Resolve(%v, %v) = %s (tier %s), want %s", tt.score, tt.indicators, got.Action, got.Tier, tt.want)
			}
		})
	}
}

func TestResolveReportsTier(t *testing.T) {
	got := Default().Resolve(0.95, nil)
	if got.Tier != "block" || got.Rank != 0 {
		t.Errorf("expected block tier at rank 0, got %+v", got)
	}
	got = Default().Resolve(0.0, nil)
	if got.Tier != "monitor" || got.Rank != 3 {
		t.Errorf("expected monitor tier at rank 3, got %+v", got)
	}
}

func TestNoMatchFallsBackToStrictest(t *testing.T) {
	l, err := Compile(Document{Tiers: []Tier{
		{Name: "block", Action: decision.ActionBlockAccount, When: "score > 0.9"},
		{Name: "review", Action: decision.ActionFlagForReview, When: "score > 0.5"},
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := l.Resolve(0.1, nil)
	if got.Action != decision.ActionBlockAccount {
		t.Errorf("unmatched input resolved to %s, want block_account", got.Action)
	}
}

func TestResolveClampsScore(t *testing.T) {
	l := Default()
	if got := l.Resolve(7, nil).Action; got != decision.ActionBlockAccount {
		t.Errorf("score 7 resolved to %s", got)
	}
	if got := l.Resolve(-1, nil).Action; got != decision.ActionMonitor {
		t.Errorf("score -1 resolved to %s", got)
	}
}

func TestRank(t *testing.T) {
	l := Default()
	if l.Rank(decision.ActionBlockAccount) != 0 || l.Rank(decision.ActionMonitor) != 3 {
		t.Error("unexpected ranks for default ladder")
	}
	if l.Rank("suspend") != -1 {
		t.Error("unknown action should rank -1")
	}
}

// ============================================================================
// Loading and compile errors
// ============================================================================

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"empty", Document{}},
		{"unknown action", Document{Tiers: []Tier{{Name: "a", Action: "suspend", When: "true"}}}},
		{"empty condition", Document{Tiers: []Tier{{Name: "a", Action: decision.ActionMonitor}}}},
		{"syntax error", Document{Tiers: []Tier{{Name: "a", Action: decision.ActionMonitor, When: "score >"}}}},
		{"non-bool condition", Document{Tiers: []Tier{{Name: "a", Action: decision.ActionMonitor, When: "score + 1.0"}}}},
		{"unknown variable", Document{Tiers: []Tier{{Name: "a", Action: decision.ActionMonitor, When: "amount > 10"}}}},
		{"duplicate names", Document{Tiers: []Tier{
			{Name: "a", Action: decision.ActionMonitor, When: "true"},
			{Name: "a", Action: decision.ActionMonitor, When: "true"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.doc); err == nil {
				t.Error("expected compile error")
			}
		})
	}

	if _, err := Compile(Document{}); !errors.Is(err, ErrEmptyLadder) {
		t.Errorf("expected ErrEmptyLadder, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ladder.yaml")
	doc := `name: strict
version: 2
tiers:
  - name: block
    action: block_account
    when: score > 0.5 || size(indicators) > 0
  - name: monitor
    action: monitor
    when: "true"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if l.Document().Name != "strict" || l.Document().Version != 2 {
		t.Errorf("unexpected document %+v", l.Document())
	}
	if got := l.Resolve(0.1, decision.NewIndicators(decision.IndicatorTimeAnomaly)).Action; got != decision.ActionBlockAccount {
		t.Errorf("got %s, want block_account", got)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if l, err := LoadFile(""); err != nil || l.Document().Name != "default" {
		t.Errorf("empty path should load default ladder, got %v", err)
	}
}

// ============================================================================
// Properties
// ============================================================================

var allIndicators = []decision.Indicator{
	decision.IndicatorCriticalFraud,
	decision.IndicatorGeographicAnomaly,
	decision.IndicatorSuspiciousNetwork,
	decision.IndicatorAutomatedClient,
	decision.IndicatorHighValuePayment,
	decision.IndicatorUnknownActivity,
	decision.IndicatorTimeAnomaly,
	decision.IndicatorHighFrequency,
	decision.IndicatorPatternMatch,
	decision.IndicatorErrorBurst,
	decision.IndicatorShortSession,
}

func indicatorsFromMask(mask uint16) decision.Indicators {
	var out []decision.Indicator
	for i, ind := range allIndicators {
		if mask&(1<<i) != 0 {
			out = append(out, ind)
		}
	}
	return decision.NewIndicators(out...)
}

// TestMonotonicity verifies that adding an indicator never resolves to a
// less strict tier.
func TestMonotonicity(t *testing.T) {
	l := Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("extra indicator never relaxes the action", prop.ForAll(
		func(score float64, mask uint16, extra int) bool {
			base := indicatorsFromMask(mask)
			before := l.Resolve(score, base)
			after := l.Resolve(score, base.With(allIndicators[extra]))
			return after.Rank <= before.Rank
		},
		gen.Float64Range(0, 1),
		gen.UInt16Range(0, 1<<len(allIndicators)-1),
		gen.IntRange(0, len(allIndicators)-1),
	))

	properties.Property("higher score never relaxes the action", prop.ForAll(
		func(a, b float64, mask uint16) bool {
			if a > b {
				a, b = b, a
			}
			ind := indicatorsFromMask(mask)
			return l.Resolve(b, ind).Rank <= l.Resolve(a, ind).Rank
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.UInt16Range(0, 1<<len(allIndicators)-1),
	))

	properties.TestingRun(t)
}

// ============================================================================
// HTTP
// ============================================================================

func TestHandler(t *testing.T) {
	r := gin.New()
	NewHandler(Default()).RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/policy", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /v1/policy: status %d", w.Code)
	}
	var got struct {
		Policy Document `json:"policy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Policy.Tiers) != 4 {
		t.Errorf("expected 4 tiers, got %d", len(got.Policy.Tiers))
	}

	body, _ := json.Marshal(map[string]any{"score": 0.2, "indicators": []string{"critical_fraud"}})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/policy/resolve", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /v1/policy/resolve: status %d", w.Code)
	}
	var res struct {
		Resolution Resolution `json:"resolution"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Resolution.Action != decision.ActionBlockAccount {
		t.Errorf("got %s, want block_account", res.Resolution.Action)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/policy/resolve", bytes.NewReader([]byte(`{"score":2}`))))
	if w.Code != http.StatusBadRequest {
		t.Errorf("out of range score: status %d, want 400", w.Code)
	}
}
