package safety

import (
	"fmt"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

const WorkspaceBoundsName = "workspace_bounds"

// WorkspaceBoundsCheck keeps the commanded position inside the robot's
// workspace box. The largest per-axis overshoot picks the severity.
type WorkspaceBoundsCheck struct {
	LowMargin    float64
	MediumMargin float64
}

func NewWorkspaceBoundsCheck(cfg config.WorkspaceCheckConfig) *WorkspaceBoundsCheck {
	return &WorkspaceBoundsCheck{LowMargin: cfg.LowMargin, MediumMargin: cfg.MediumMargin}
}

func (c *WorkspaceBoundsCheck) Name() string { return WorkspaceBoundsName }

func (c *WorkspaceBoundsCheck) Evaluate(action inference.ActionVector, profile robot.Profile, _ inference.Context) Verdict {
	worstAxis, worst := -1, 0.0
	for axis := 0; axis < 3; axis++ {
		if d := profile.Workspace[axis].Distance(action[axis]); d > worst {
			worstAxis, worst = axis, d
		}
	}
	if worstAxis < 0 {
		return Pass(WorkspaceBoundsName, "position within workspace bounds")
	}

	iv := profile.Workspace[worstAxis]
	return Fail(WorkspaceBoundsName, c.severity(worst), 1,
		fmt.Sprintf("%s=%.4f outside [%.4f, %.4f] by %.4f m",
			inference.AxisNames[worstAxis], action[worstAxis], iv.Min, iv.Max, worst))
}

func (c *WorkspaceBoundsCheck) severity(distance float64) Severity {
	switch {
	case distance <= c.LowMargin:
		return SeverityLow
	case distance <= c.MediumMargin:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func (c *WorkspaceBoundsCheck) Envelope(profile robot.Profile, _ inference.Context) Box {
	return Box{
		inference.AxisX: profile.Workspace[0],
		inference.AxisY: profile.Workspace[1],
		inference.AxisZ: profile.Workspace[2],
	}
}
