// Package mockmodel serves a stand-in VLA runtime for local testing. It
// answers POST /v1/infer with canned actions chosen by keywords in the
// instruction, so every gateway decision path can be driven by hand.
package mockmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort    = 19000
	defaultDelayMS = 20
)

// scripted maps instruction keywords to the raw JSON action returned. The
// first matching keyword wins. Bare NaN mimics Python runtimes.
var scripted = []struct {
	keyword string
	action  string
}{
	{"nan", `[NaN, 0.1, 0.1, 0, 0, 0, 0.5]`},
	{"short", `[0.1, 0.1, 0.1]`},
	{"far", `[2.0, 0, 0, 0, 0, 0, 0.5]`},
	{"edge", `[0.61, 0, 0, 0, 0, 0, 0.5]`},
	{"squeeze", `[0.1, 0.1, 0.1, 0, 0, 0, 1.5]`},
}

const defaultAction = `[0.1, 0.1, 0.1, 0, 0, 0, 0.5]`

// Start launches the mock model server. If addr is empty, it listens on
// 127.0.0.1:MOCK_MODEL_PORT (default 19000). It returns a shutdown function
// and the base URL.
func Start(addr string) (func(context.Context) error, string, error) {
	if strings.TrimSpace(addr) == "" {
		port := strings.TrimSpace(os.Getenv("MOCK_MODEL_PORT"))
		if port == "" {
			port = strconv.Itoa(defaultPort)
		}
		addr = "127.0.0.1:" + port
	}

	delay := defaultDelayMS
	if val := strings.TrimSpace(os.Getenv("MOCK_DELAY_MS")); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			delay = parsed
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(time.Duration(delay) * time.Millisecond),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("mockmodel: server error: %v", err)
		}
	}()

	baseURL := "http://" + ln.Addr().String()
	log.Printf("mockmodel: listening on %s delay_ms=%d", baseURL, delay)
	return srv.Shutdown, baseURL, nil
}

// Handler returns the mock runtime's routes.
func Handler(delay time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/infer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			Image       string `json:"image"`
			Instruction string `json:"instruction"`
			RobotType   string `json:"robot_type"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Image == "" {
			writeError(w, http.StatusBadRequest, "image is required")
			return
		}
		log.Printf("mockmodel: infer robot_type=%s instruction_len=%d", req.RobotType, len(req.Instruction))

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if strings.Contains(strings.ToLower(req.Instruction), "fail") {
			writeError(w, http.StatusInternalServerError, "model crashed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"action": %s}`, actionFor(req.Instruction))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return mux
}

func actionFor(instruction string) string {
	lower := strings.ToLower(instruction)
	for _, s := range scripted {
		if strings.Contains(lower, s.keyword) {
			return s.action
		}
	}
	return defaultAction
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "mock_error",
		},
	})
}
