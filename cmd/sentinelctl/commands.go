package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mbd888/sentinel/internal/actions"
	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/engine"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/policy"
	"github.com/mbd888/sentinel/internal/signals"
	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	input        string
	policyFile   string
	playbookFile string
	timezone     string
	logLevel     string
	compact      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Evaluate trust and risk events offline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.input, "file", "f", "-", "JSON input file, - for stdin")
	root.PersistentFlags().StringVar(&opts.policyFile, "policy", "", "YAML policy ladder override")
	root.PersistentFlags().StringVar(&opts.playbookFile, "playbooks", "", "YAML crisis playbook override")
	root.PersistentFlags().StringVar(&opts.timezone, "timezone", "UTC", "timezone for time-of-day indicators")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.compact, "compact", false, "print single-line JSON")

	root.AddCommand(
		newFraudCmd(opts),
		newBehaviorCmd(opts),
		newVerifyCmd(opts),
		newCrisisCmd(opts),
		newPolicyCmd(opts),
	)
	return root
}

// -----------------------------------------------------------------------------
// Evaluation commands
// -----------------------------------------------------------------------------

func newFraudCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fraud",
		Short: "Score a user activity and resolve its fraud action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := readEvent(cmd, opts, signals.KindActivity)
			if err != nil {
				return err
			}
			eng, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.EvaluateActivity(cmd.Context(), ev.(signals.Activity))
			if err != nil {
				return err
			}
			return opts.print(cmd, res)
		},
	}
}

func newBehaviorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "behavior",
		Short: "Score a behavior sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := readEvent(cmd, opts, signals.KindBehavior)
			if err != nil {
				return err
			}
			eng, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.EvaluateBehavior(cmd.Context(), ev.(signals.BehaviorSample))
			if err != nil {
				return err
			}
			return opts.print(cmd, res)
		},
	}
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify a titled-player credential claim",
		Long:  `Input is {"subjectId": "...", "claim": {...}}, the same body as POST /v1/credentials/verify.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readInput(cmd, opts)
			if err != nil {
				return err
			}
			var req struct {
				SubjectID string          `json:"subjectId"`
				Claim     json.RawMessage `json:"claim"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				return decision.Invalid("body", err.Error())
			}
			ev, err := signals.Decode(signals.KindCredential, req.Claim)
			if err != nil {
				return err
			}
			eng, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			res, err := eng.VerifyCredential(cmd.Context(), req.SubjectID, ev.(signals.CredentialClaim))
			if err != nil {
				return err
			}
			return opts.print(cmd, res)
		},
	}
}

func newCrisisCmd(opts *options) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "crisis",
		Short: "Plan the response to an incident report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			if list {
				return opts.print(cmd, map[string]any{"eventTypes": eng.Planner().EventTypes()})
			}
			ev, err := readEvent(cmd, opts, signals.KindIncident)
			if err != nil {
				return err
			}
			res, err := eng.RespondToIncident(cmd.Context(), ev.(signals.IncidentReport))
			if err != nil {
				return err
			}
			return opts.print(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list known incident types and exit")
	return cmd
}

// -----------------------------------------------------------------------------
// Policy commands
// -----------------------------------------------------------------------------

func newPolicyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect or dry-run the policy ladder",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active policy ladder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ladder, err := opts.ladder()
			if err != nil {
				return err
			}
			return opts.print(cmd, ladder.Document())
		},
	}

	var (
		score      float64
		indicators []string
	)
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the action for a score and indicator set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if score < 0 || score > 1 {
				return decision.Invalid("score", "must be within [0, 1]")
			}
			ladder, err := opts.ladder()
			if err != nil {
				return err
			}
			set := make([]decision.Indicator, len(indicators))
			for i, n := range indicators {
				set[i] = decision.Indicator(n)
			}
			return opts.print(cmd, ladder.Resolve(score, decision.NewIndicators(set...)))
		},
	}
	resolve.Flags().Float64Var(&score, "score", 0, "risk score in [0, 1]")
	resolve.Flags().StringSliceVar(&indicators, "indicator", nil, "indicator name (repeatable)")
	_ = resolve.MarkFlagRequired("score")

	cmd.AddCommand(show, resolve)
	return cmd
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (o *options) ladder() (*policy.Ladder, error) {
	if o.policyFile == "" {
		return policy.Default(), nil
	}
	return policy.LoadFile(o.policyFile)
}

// engine builds a throwaway engine over a memory store. Actions are logged
// to stderr at info level.
func (o *options) engine(cmd *cobra.Command) (*engine.Engine, error) {
	if _, err := logging.ParseLevel(o.logLevel); err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), o.logLevel, "text")

	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	ladder, err := o.ladder()
	if err != nil {
		return nil, err
	}
	planner := crisis.NewPlanner()
	if o.playbookFile != "" {
		if planner, err = crisis.LoadPlaybooks(o.playbookFile); err != nil {
			return nil, err
		}
	}

	recorder := audit.NewRecorder(audit.NewMemoryStore()).WithLogger(logger)
	return engine.New(recorder).
		WithCollector(signals.NewCollector(signals.WithLocation(loc))).
		WithLadder(ladder).
		WithPlanner(planner).
		WithFanOut(actions.NewFanOut(actions.NewLogExecutor(logger), 4, 5*time.Second)).
		WithLogger(logger), nil
}

func (o *options) print(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if !o.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func readInput(cmd *cobra.Command, o *options) ([]byte, error) {
	if o.input == "" || o.input == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(o.input)
}

func readEvent(cmd *cobra.Command, o *options, kind signals.Kind) (signals.Event, error) {
	body, err := readInput(cmd, o)
	if err != nil {
		return nil, err
	}
	return signals.Decode(kind, body)
}
