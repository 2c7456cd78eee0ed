package safety

import (
	"github.com/straja-ai/vlaguard/internal/config"
)

// NewDefaultRegistry registers the built-in checks in their reporting order:
// workspace bounds, velocity limit, gripper range, collision heuristic.
func NewDefaultRegistry(cfg config.SafetyConfig, envs []config.EnvironmentConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, c := range []Check{
		NewWorkspaceBoundsCheck(cfg.Workspace),
		NewVelocityLimitCheck(cfg.Velocity),
		GripperRangeCheck{},
		NewCollisionHeuristicCheck(envs),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// NewFromConfig builds an evaluator with the built-in checks registered.
func NewFromConfig(cfg *config.Config) (*Evaluator, error) {
	reg, err := NewDefaultRegistry(cfg.Safety, cfg.Environments)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(cfg.Safety, reg)
}
