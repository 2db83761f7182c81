package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (map[string]any, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--compact"))

	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &body), "output: %s", out.String())
	return body, nil
}

func TestFraudCommand(t *testing.T) {
	body, err := run(t, `{"subjectId":"u1","activityType":"payment","timestampUtc":"2026-09-01T02:00:00Z"}`, "fraud")
	require.NoError(t, err)

	dec := body["decision"].(map[string]any)
	assert.Equal(t, "block_account", dec["action"])
	assert.InDelta(t, 1.0, dec["score"], 1e-9)
}

func TestFraudCommandReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"subjectId":"u2","activityType":"login","timestampUtc":"2026-09-01T14:00:00Z"}`), 0o600))

	body, err := run(t, "", "fraud", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "monitor", body["decision"].(map[string]any)["action"])
}

func TestFraudCommandRejectsInvalid(t *testing.T) {
	_, err := run(t, `{"activityType":"login"}`, "fraud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subjectId")
}

func TestBehaviorCommand(t *testing.T) {
	body, err := run(t,
		`{"subjectId":"u3","frequency":150,"patternFlags":["scripted"],"dataPoints":50,"observedAt":"2026-09-01T14:00:00Z"}`,
		"behavior")
	require.NoError(t, err)
	assert.Equal(t, "require_verification", body["decision"].(map[string]any)["action"])
}

func TestVerifyCommand(t *testing.T) {
	body, err := run(t,
		`{"subjectId":"p1","claim":{"title":"GM","rating":2600,"documents":["fide_card"],"yearsExperience":5}}`,
		"verify")
	require.NoError(t, err)

	res := body["result"].(map[string]any)
	assert.Equal(t, "verified", res["status"])
	assert.InDelta(t, 0.95, res["aggregateScore"], 1e-9)
}

func TestCrisisCommand(t *testing.T) {
	body, err := run(t, `{"eventType":"security_breach","severity":"critical","affectedSystems":["auth"]}`, "crisis")
	require.NoError(t, err)

	ev := body["event"].(map[string]any)
	assert.Equal(t, 4.0, ev["escalationLevel"])
	assert.Len(t, ev["actions"], 4)
}

func TestCrisisList(t *testing.T) {
	body, err := run(t, "", "crisis", "--list")
	require.NoError(t, err)
	assert.Contains(t, body["eventTypes"], "security_breach")
}

func TestPolicyCommands(t *testing.T) {
	body, err := run(t, "", "policy", "show")
	require.NoError(t, err)
	assert.NotEmpty(t, body["tiers"])

	body, err = run(t, "", "policy", "resolve", "--score", "0.1")
	require.NoError(t, err)
	assert.Equal(t, "monitor", body["action"])

	_, err = run(t, "", "policy", "resolve", "--score", "1.5")
	assert.Error(t, err)
}

func TestBadTimezone(t *testing.T) {
	_, err := run(t, `{"subjectId":"u1","activityType":"login"}`, "fraud", "--timezone", "Mars/Olympus")
	assert.Error(t, err)
}
