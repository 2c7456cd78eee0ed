package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
	"github.com/straja-ai/vlaguard/internal/robot"
	"github.com/straja-ai/vlaguard/internal/safety"
)

// EvaluateOptions holds options for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	Robot       string
	Action      string
	Environment string
	Previous    string
	Hz          float64
}

type evaluateOutput struct {
	Decision  safety.Decision  `json:"decision"`
	Score     float64          `json:"safety_score"`
	Action    []float64        `json:"action,omitempty"`
	RawAction []float64        `json:"raw_action"`
	Verdicts  []safety.Verdict `json:"verdicts"`
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the safety checks on one action offline",
		Example: `  vlaguard evaluate --robot franka_panda --action 0.1,0.1,0.1,0,0,0,0.5
  vlaguard evaluate --robot widowx_250 --action 0.3,0,0.2,0,0,0,1 --prev 0.2,0,0.2 --hz 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Robot, "robot", "", "robot type (required)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "comma-separated 7-DoF action (required)")
	cmd.Flags().StringVar(&opts.Environment, "env", "", "environment type")
	cmd.Flags().StringVar(&opts.Previous, "prev", "", "previous position x,y,z")
	cmd.Flags().Float64Var(&opts.Hz, "hz", 0, "control frequency override")
	_ = cmd.MarkFlagRequired("robot")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func runEvaluate(cmd *cobra.Command, opts *EvaluateOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	robots, err := robot.NewRegistry(cfg.Robots)
	if err != nil {
		return err
	}
	eval, err := safety.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	raw, err := parseFloats(opts.Action)
	if err != nil {
		return fmt.Errorf("--action: %w", err)
	}
	action, err := qualitygate.ValidateAction(raw)
	if err != nil {
		return err
	}
	profile, err := robots.Lookup(opts.Robot)
	if err != nil {
		return err
	}

	ctx := inference.Context{
		RequestID:          uuid.NewString(),
		RobotType:          profile.Type,
		EnvironmentType:    opts.Environment,
		ControlFrequencyHz: opts.Hz,
	}
	if opts.Previous != "" {
		prev, err := parseFloats(opts.Previous)
		if err != nil {
			return fmt.Errorf("--prev: %w", err)
		}
		if len(prev) != 3 {
			return fmt.Errorf("--prev: want 3 values, got %d", len(prev))
		}
		ctx.Previous = &inference.PreviousCommand{
			Position: inference.Position{prev[0], prev[1], prev[2]},
			IssuedAt: time.Now(),
		}
	}

	res := eval.Evaluate(action, profile, ctx)
	out := evaluateOutput{
		Decision:  res.Decision,
		Score:     res.Score,
		RawAction: action.Slice(),
		Verdicts:  res.Verdicts,
	}
	switch res.Decision {
	case safety.DecisionAllow:
		out.Action = action.Slice()
	case safety.DecisionClamp:
		out.Action = res.Clamped.Slice()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}
