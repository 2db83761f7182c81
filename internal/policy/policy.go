// Package policy maps a composite score and its fired indicators to a
// discrete action.
//
// The mapping is an ordered ladder of tiers loaded from YAML. Each tier
// carries a CEL condition over `score` and `indicators`; the first tier whose
// condition holds wins. Tiers are listed strictest first, so indicator
// conditions on an upper tier can force a stricter action than the raw score
// alone would reach. A ladder that matches nothing resolves to its strictest
// tier.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/mbd888/sentinel/internal/decision"
	"gopkg.in/yaml.v3"
)

// celCostLimit bounds the evaluation cost of a single tier condition.
const celCostLimit = 10000

// Errors
var (
	ErrEmptyLadder   = errors.New("policy: ladder has no tiers")
	ErrUnknownAction = errors.New("policy: unknown action")
)

//go:embed ladder.yaml
var defaultLadder []byte

// knownActions are the actions a ladder tier may resolve to.
var knownActions = map[decision.Action]bool{
	decision.ActionBlockAccount:        true,
	decision.ActionRequireVerification: true,
	decision.ActionFlagForReview:       true,
	decision.ActionMonitor:             true,
}

// Tier is one rung of the ladder as written in the policy file.
type Tier struct {
	Name   string          `yaml:"name" json:"name"`
	Action decision.Action `yaml:"action" json:"action"`
	When   string          `yaml:"when" json:"when"`
}

// Document is the on-disk policy file.
type Document struct {
	Name    string `yaml:"name" json:"name"`
	Version int    `yaml:"version" json:"version"`
	Tiers   []Tier `yaml:"tiers" json:"tiers"`
}

// Resolution is the outcome of resolving one (score, indicators) pair.
type Resolution struct {
	Action decision.Action `json:"action"`
	Tier   string          `json:"tier"`
	Rank   int             `json:"rank"` // 0 is the strictest tier
}

type compiledTier struct {
	Tier
	prg cel.Program
}

// Ladder is a compiled, immutable policy table. It is safe for concurrent
// use.
type Ladder struct {
	doc   Document
	tiers []compiledTier
}

// Default returns the built-in ladder.
func Default() *Ladder {
	l, err := Parse(defaultLadder)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded ladder: %v", err))
	}
	return l
}

// LoadFile reads and compiles a ladder from path. An empty path returns the
// built-in ladder.
func LoadFile(path string) (*Ladder, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse compiles a ladder from YAML.
func Parse(data []byte) (*Ladder, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	return Compile(doc)
}

// Compile type-checks every tier condition and builds the ladder.
func Compile(doc Document) (*Ladder, error) {
	if len(doc.Tiers) == 0 {
		return nil, ErrEmptyLadder
	}

	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	l := &Ladder{doc: doc, tiers: make([]compiledTier, 0, len(doc.Tiers))}
	seen := make(map[string]bool, len(doc.Tiers))
	for i, t := range doc.Tiers {
		if t.Name == "" {
			t.Name = fmt.Sprintf("tier_%d", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("policy: tier[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		if !knownActions[t.Action] {
			return nil, fmt.Errorf("%w: tier[%d] %q", ErrUnknownAction, i, t.Action)
		}
		expr := strings.TrimSpace(t.When)
		if expr == "" {
			return nil, fmt.Errorf("policy: tier[%d] %s: empty condition", i, t.Name)
		}

		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: tier[%d] %s: compile: %w", i, t.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("policy: tier[%d] %s: condition must be bool, got %s", i, t.Name, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(celCostLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("policy: tier[%d] %s: program: %w", i, t.Name, err)
		}
		t.When = expr
		l.tiers = append(l.tiers, compiledTier{Tier: t, prg: prg})
	}
	return l, nil
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("indicators", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return env, nil
}

// Resolve walks the ladder top to bottom and returns the first tier whose
// condition holds. A condition that fails to evaluate counts as a match.
func (l *Ladder) Resolve(score float64, indicators decision.Indicators) Resolution {
	input := map[string]any{
		"score":      decision.Clamp01(score),
		"indicators": decision.NewIndicators(indicators...).Strings(),
	}
	for i, t := range l.tiers {
		if matches(t.prg, input) {
			return Resolution{Action: t.Action, Tier: t.Name, Rank: i}
		}
	}
	top := l.tiers[0]
	return Resolution{Action: top.Action, Tier: top.Name, Rank: 0}
}

func matches(prg cel.Program, input map[string]any) bool {
	out, _, err := prg.Eval(input)
	if err != nil {
		return true
	}
	v, ok := out.Value().(bool)
	return !ok || v
}

// Document returns a copy of the policy as loaded.
func (l *Ladder) Document() Document {
	doc := l.doc
	doc.Tiers = make([]Tier, len(l.tiers))
	for i, t := range l.tiers {
		doc.Tiers[i] = t.Tier
	}
	return doc
}

// Rank returns the position of action in the ladder, or -1 if no tier
// resolves to it. Lower ranks are stricter.
func (l *Ladder) Rank(action decision.Action) int {
	for i, t := range l.tiers {
		if t.Action == action {
			return i
		}
	}
	return -1
}
