package safety

import (
	"fmt"
	"strings"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

const CollisionHeuristicName = "collision_heuristic"

// collisionConfidence reflects that keep-out boxes are a coarse stand-in for
// the real scene geometry.
const collisionConfidence = 0.9

// KeepOutZone is a static axis-aligned box the end effector must not enter.
type KeepOutZone struct {
	Name string
	Min  inference.Position
	Max  inference.Position
}

func (z KeepOutZone) contains(p inference.Position) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < z.Min[axis] || p[axis] > z.Max[axis] {
			return false
		}
	}
	return true
}

// CollisionHeuristicCheck rejects positions inside the keep-out zones declared
// for the request's environment_type.
type CollisionHeuristicCheck struct {
	zones map[string][]KeepOutZone
}

// NewCollisionHeuristicCheck indexes keep-out zones by environment name.
// Malformed boxes are skipped; config.Validate reports them.
func NewCollisionHeuristicCheck(envs []config.EnvironmentConfig) *CollisionHeuristicCheck {
	c := &CollisionHeuristicCheck{zones: make(map[string][]KeepOutZone, len(envs))}
	for _, env := range envs {
		name := strings.ToLower(strings.TrimSpace(env.Name))
		for _, ko := range env.KeepOut {
			if len(ko.Min) != 3 || len(ko.Max) != 3 {
				continue
			}
			z := KeepOutZone{Name: ko.Name}
			copy(z.Min[:], ko.Min)
			copy(z.Max[:], ko.Max)
			c.zones[name] = append(c.zones[name], z)
		}
	}
	return c
}

func (c *CollisionHeuristicCheck) Name() string { return CollisionHeuristicName }

func (c *CollisionHeuristicCheck) Evaluate(action inference.ActionVector, _ robot.Profile, ctx inference.Context) Verdict {
	zones := c.zones[strings.ToLower(strings.TrimSpace(ctx.EnvironmentType))]
	if len(zones) == 0 {
		return Pass(CollisionHeuristicName, "no keep-out zones for environment")
	}
	pos := action.Position()
	var hit []string
	for _, z := range zones {
		if z.contains(pos) {
			hit = append(hit, z.Name)
		}
	}
	if len(hit) == 0 {
		return Pass(CollisionHeuristicName, fmt.Sprintf("clear of %d keep-out zones", len(zones)))
	}
	return Fail(CollisionHeuristicName, SeverityHigh, collisionConfidence,
		fmt.Sprintf("position (%.4f, %.4f, %.4f) inside keep-out zone %s",
			pos[0], pos[1], pos[2], strings.Join(hit, ", ")))
}
