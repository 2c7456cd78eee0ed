package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/provider"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
	"github.com/straja-ai/vlaguard/internal/robot"
	"github.com/straja-ai/vlaguard/internal/safety"
)

// BenchOptions holds options for the bench command.
type BenchOptions struct {
	*RootOptions
	Iterations  int
	Warmup      int
	Robot       string
	Instruction string
	ImagePath   string
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time model inference plus safety evaluation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Iterations, "n", 200, "number of iterations")
	cmd.Flags().IntVar(&opts.Warmup, "warmup", 5, "untimed warmup iterations")
	cmd.Flags().StringVar(&opts.Robot, "robot", "franka_panda", "robot type")
	cmd.Flags().StringVar(&opts.Instruction, "instruction", "pick up the red block", "instruction text")
	cmd.Flags().StringVar(&opts.ImagePath, "image", "", "PNG or JPEG frame sent to the model")

	return cmd
}

type benchResult struct {
	Inference []time.Duration
	Evaluate  []time.Duration
}

func runBench(cmd *cobra.Command, opts *BenchOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	robots, err := robot.NewRegistry(cfg.Robots)
	if err != nil {
		return err
	}
	profile, err := robots.Lookup(opts.Robot)
	if err != nil {
		return err
	}
	eval, err := safety.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	prov, err := provider.New(cfg.Inference)
	if err != nil {
		return err
	}

	req := &inference.Request{Context: inference.Context{
		RequestID:   uuid.NewString(),
		CustomerID:  "bench",
		RobotType:   profile.Type,
		Instruction: opts.Instruction,
	}}
	if opts.ImagePath != "" {
		if req.Image, err = os.ReadFile(opts.ImagePath); err != nil {
			return fmt.Errorf("read image: %w", err)
		}
	}

	n := opts.Iterations
	if n <= 0 {
		n = 1
	}
	for i := 0; i < opts.Warmup; i++ {
		if _, err := benchOnce(cmd.Context(), prov, eval, profile, req); err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
	}

	res := benchResult{
		Inference: make([]time.Duration, 0, n),
		Evaluate:  make([]time.Duration, 0, n),
	}
	for i := 0; i < n; i++ {
		d, err := benchOnce(cmd.Context(), prov, eval, profile, req)
		if err != nil {
			return err
		}
		res.Inference = append(res.Inference, d[0])
		res.Evaluate = append(res.Evaluate, d[1])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "provider=%s robot=%s iterations=%d\n", prov.Name(), profile.Type, n)
	printLatency(cmd, "inference", res.Inference)
	printLatency(cmd, "evaluate", res.Evaluate)
	return nil
}

func benchOnce(ctx context.Context, prov provider.Provider, eval *safety.Evaluator, profile robot.Profile, req *inference.Request) ([2]time.Duration, error) {
	var d [2]time.Duration
	start := time.Now()
	raw, err := prov.Infer(ctx, req)
	if err != nil {
		return d, err
	}
	d[0] = time.Since(start)

	action, err := qualitygate.ValidateAction(raw)
	if err != nil {
		return d, err
	}
	start = time.Now()
	eval.Evaluate(action, profile, req.Context)
	d[1] = time.Since(start)
	return d, nil
}

func printLatency(cmd *cobra.Command, label string, durations []time.Duration) {
	if len(durations) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg := total / time.Duration(len(sorted))
	fmt.Fprintf(cmd.OutOrStdout(), "%-10s avg=%s p50=%s p95=%s max=%s\n",
		label, avg, percentile(sorted, 0.50), percentile(sorted, 0.95), sorted[len(sorted)-1])
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
