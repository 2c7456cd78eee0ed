// Package cli holds the vlaguard command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/config"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the vlaguard CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "vlaguard",
		Short:         "vlaguard - safety gateway for vision-language-action models",
		Long:          "Validates VLA model actions against robot safety checks before they reach a controller.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "vlaguard.yaml", "path to config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewIncidentsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewMockModelCommand())
	cmd.AddCommand(NewBenchCommand(opts))
	cmd.AddCommand(NewReceiveEventsCommand())

	return cmd
}

// loadConfig reads and validates the config named by --config. A missing
// file yields the built-in defaults.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
