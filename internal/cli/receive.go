package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/activation"
	"github.com/straja-ai/vlaguard/internal/redact"
)

// NewReceiveEventsCommand creates the receive-events command.
func NewReceiveEventsCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "receive-events",
		Short: "Log decision events POSTed by a webhook sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           eventReceiver(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			redact.Logf("event receiver listening on %s (POST JSON to /events)", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8099", "listen address")

	return cmd
}

func eventReceiver() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		var ev activation.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			redact.Logf("receiver: undecodable event path=%s len=%d: %v", r.URL.Path, len(body), err)
			http.Error(w, "invalid event", http.StatusBadRequest)
			return
		}
		activation.LogEvent(&ev)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
	})
	return mux
}
