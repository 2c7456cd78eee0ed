// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/straja-ai/vlaguard/internal/auth"
	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/incident"
	"github.com/straja-ai/vlaguard/internal/pipeline"
	"github.com/straja-ai/vlaguard/internal/redact"
	"github.com/straja-ai/vlaguard/internal/robot"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Robots    *robot.Registry
	Incidents incident.Lister // nil disables GET /v1/incidents
	Auth      *auth.Auth
}

// Server wires routes to the pipeline.
type Server struct {
	mux       *http.ServeMux
	cfg       *config.Config
	auth      *auth.Auth
	pipeline  *pipeline.Pipeline
	robots    *robot.Registry
	incidents incident.Lister
}

// New builds the server and registers its routes.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		auth:      deps.Auth,
		pipeline:  deps.Pipeline,
		robots:    deps.Robots,
		incidents: deps.Incidents,
	}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/robots.txt", handleRobotsTxt)
	s.mux.HandleFunc("/v1/act", s.handleAct)
	s.mux.HandleFunc("/v1/robots", s.handleRobots)
	s.mux.HandleFunc("/v1/incidents", s.handleIncidents)
	s.mux.HandleFunc("/v1/incidents/", s.handleIncident)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		redact.Logf("server: vlaguard listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		redact.Logf("server: shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

const robotsTxt = "User-agent: *\nDisallow: /\n"

func handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(robotsTxt))
}

// authenticate resolves the calling customer. With auth disabled it returns
// "" and true; the body's customer_id is used instead.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.auth.Enabled() {
		return "", true
	}
	key := auth.KeyFromRequest(r)
	if key == "" {
		writeError(w, http.StatusUnauthorized, errorBody{Error: errAuthentication, Reason: "api_key_missing"})
		return "", false
	}
	c, ok := s.auth.Lookup(key)
	if !ok {
		writeError(w, http.StatusUnauthorized, errorBody{Error: errAuthentication, Reason: "api_key_invalid"})
		return "", false
	}
	return c.ID, true
}
