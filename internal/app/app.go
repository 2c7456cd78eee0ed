// Package app assembles the gateway from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/straja-ai/vlaguard/internal/activation"
	"github.com/straja-ai/vlaguard/internal/auth"
	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/incident"
	"github.com/straja-ai/vlaguard/internal/pipeline"
	"github.com/straja-ai/vlaguard/internal/provider"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
	"github.com/straja-ai/vlaguard/internal/redact"
	"github.com/straja-ai/vlaguard/internal/robot"
	"github.com/straja-ai/vlaguard/internal/safety"
	"github.com/straja-ai/vlaguard/internal/server"
	"github.com/straja-ai/vlaguard/internal/session"
	"github.com/straja-ai/vlaguard/internal/telemetry"
)

// App owns every long-lived component. Close releases them in reverse
// construction order.
type App struct {
	Config    *config.Config
	Robots    *robot.Registry
	Evaluator *safety.Evaluator
	Pipeline  *pipeline.Pipeline
	Server    *server.Server
	Emitter   *activation.Emitter
	Telemetry *telemetry.Provider
	Sessions  session.Store
	Incidents *incident.SQLiteStore

	closers []func(context.Context) error
}

// New builds the App. The config must already be validated.
func New(ctx context.Context, cfg *config.Config, version string) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.Telemetry, err = telemetry.NewProvider(ctx, telemetry.ConfigFrom(cfg.Telemetry, version)); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) error {
		a.Telemetry.Shutdown(ctx)
		return nil
	})

	if a.Robots, err = robot.NewRegistry(cfg.Robots); err != nil {
		return nil, fmt.Errorf("robots: %w", err)
	}
	if a.Evaluator, err = safety.NewFromConfig(cfg); err != nil {
		return nil, fmt.Errorf("safety: %w", err)
	}

	prov, err := provider.New(cfg.Inference)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	if c, ok := closerOf(prov); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	if a.Sessions, err = session.New(cfg.Sessions); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Sessions.Close() })

	recorder, err := a.buildRecorder(cfg.Incidents)
	if err != nil {
		return nil, err
	}

	sinks, err := activation.NewSinks(cfg.Activation.Sinks)
	if err != nil {
		return nil, err
	}
	a.Emitter = activation.NewEmitter(activation.EmitterConfig{
		QueueSize:       cfg.Activation.QueueSize,
		Workers:         cfg.Activation.Workers,
		ShutdownTimeout: 5 * time.Second,
	}, sinks)
	a.closers = append(a.closers, func(ctx context.Context) error {
		a.Emitter.Close(ctx)
		return nil
	})

	a.Pipeline, err = pipeline.New(pipeline.Options{
		Gate:            qualitygate.New(cfg.QualityGate, a.Robots, environmentNames(cfg.Environments)),
		Provider:        prov,
		Profiles:        a.Robots,
		Evaluator:       a.Evaluator,
		Sessions:        a.Sessions,
		Recorder:        recorder,
		Events:          logAndEmit{a.Emitter, len(sinks) == 0},
		Telemetry:       a.Telemetry,
		StaleAfter:      cfg.Safety.Velocity.StaleAfter,
		IncidentTimeout: cfg.Incidents.WriteTimeout,
		LoggingLevel:    strings.ToLower(cfg.Logging.ActivationLevel),
	})
	if err != nil {
		return nil, err
	}

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !authz.Enabled() {
		redact.Logf("app: no customers configured; API keys are not enforced")
	}

	var lister incident.Lister
	if a.Incidents != nil {
		lister = a.Incidents
	}
	a.Server = server.New(cfg, server.Deps{
		Pipeline:  a.Pipeline,
		Robots:    a.Robots,
		Incidents: lister,
		Auth:      authz,
	})

	redact.Logf("app: ready inference=%s sessions=%s robots=%v checks=%v",
		prov.Name(), cfg.Sessions.Backend, a.Robots.Types(), a.Evaluator.Registry().Names())
	return a, nil
}

func (a *App) buildRecorder(cfg config.IncidentConfig) (incident.Recorder, error) {
	var recorders incident.Multi
	if cfg.SQLitePath != "" {
		store, err := incident.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("incidents: %w", err)
		}
		a.Incidents = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		recorders = append(recorders, store)
	}
	if cfg.JSONLPath != "" {
		file, err := incident.NewFileRecorder(cfg.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("incidents: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return file.Close() })
		recorders = append(recorders, file)
	}
	if len(recorders) == 0 {
		return incident.Discard{}, nil
	}
	return recorders, nil
}

// Close releases everything New acquired.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func environmentNames(envs []config.EnvironmentConfig) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Name)
	}
	return out
}

type closer interface{ Close() error }

// closerOf finds a Close method on p or the provider it wraps.
func closerOf(p provider.Provider) (closer, bool) {
	for p != nil {
		if c, ok := p.(closer); ok {
			return c, true
		}
		u, ok := p.(interface{ Unwrap() provider.Provider })
		if !ok {
			return nil, false
		}
		p = u.Unwrap()
	}
	return nil, false
}

// logAndEmit sends events to the emitter and, when no sink is configured,
// writes them to the process log instead.
type logAndEmit struct {
	emitter *activation.Emitter
	log     bool
}

func (l logAndEmit) Emit(ev *activation.Event) {
	if l.log {
		activation.LogEvent(ev)
		return
	}
	l.emitter.Emit(ev)
}
