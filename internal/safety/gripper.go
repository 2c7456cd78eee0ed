package safety

import (
	"fmt"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

const GripperRangeName = "gripper_range"

// GripperRangeCheck validates the gripper aperture. A value outside [0,1] is
// malformed output and is critical; a value inside [0,1] but outside the
// profile's gripper bounds is clampable.
type GripperRangeCheck struct{}

func (GripperRangeCheck) Name() string { return GripperRangeName }

func (GripperRangeCheck) Evaluate(action inference.ActionVector, profile robot.Profile, _ inference.Context) Verdict {
	g := action.Gripper()
	if g < 0 || g > 1 {
		return Fail(GripperRangeName, SeverityCritical, 1,
			fmt.Sprintf("gripper %.4f outside normalized range [0, 1]", g))
	}
	if !profile.Gripper.Contains(g) {
		return Fail(GripperRangeName, SeverityMedium, 1,
			fmt.Sprintf("gripper %.4f outside %s bounds [%.4f, %.4f]", g, profile.Type, profile.Gripper.Min, profile.Gripper.Max))
	}
	return Pass(GripperRangeName, "gripper within bounds")
}

func (GripperRangeCheck) Envelope(profile robot.Profile, _ inference.Context) Box {
	return Box{inference.AxisGripper: profile.Gripper}
}
