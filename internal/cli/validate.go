package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/robot"
	"github.com/straja-ai/vlaguard/internal/safety"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file",
		Long:  "Loads the config, applies env overrides and defaults, and builds the robot registry and safety checks without starting anything.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	robots, err := robot.NewRegistry(cfg.Robots)
	if err != nil {
		return fmt.Errorf("robots: %w", err)
	}
	eval, err := safety.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("safety: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config OK: %s\n", opts.ConfigPath)
	fmt.Fprintf(out, "  robots:       %v\n", robots.Types())
	fmt.Fprintf(out, "  checks:       %v\n", eval.Registry().Names())
	fmt.Fprintf(out, "  inference:    %s\n", cfg.Inference.Type)
	fmt.Fprintf(out, "  sessions:     %s\n", cfg.Sessions.Backend)
	fmt.Fprintf(out, "  environments: %d\n", len(cfg.Environments))
	fmt.Fprintf(out, "  customers:    %d\n", len(cfg.Customers))
	return nil
}
