package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/mockmodel"
)

// NewMockModelCommand creates the mock-model command.
func NewMockModelCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "mock-model",
		Short: "Run a scripted VLA inference server for local testing",
		Long: `Serves POST /v1/infer with a fixed action. Instructions containing
"nan", "short", "far", "edge" or "squeeze" return malformed or unsafe actions.
MOCK_DELAY_MS adds latency to every response.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, baseURL, err := mockmodel.Start(addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mock model listening on %s\n", baseURL)

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default 127.0.0.1:$MOCK_MODEL_PORT or :19000)")

	return cmd
}
