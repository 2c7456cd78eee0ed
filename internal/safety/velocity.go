package safety

import (
	"fmt"
	"math"
	"time"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

const VelocityLimitName = "velocity_limit"

// velocitySlack absorbs rounding when a position clipped to prev±limit/hz is
// checked again.
const velocitySlack = 1e-9

// VelocityLimitCheck bounds the per-axis speed implied by moving from the
// session's previous position to the commanded one within one control tick.
// Without a previous position it passes.
type VelocityLimitCheck struct {
	LowRatio    float64
	MediumRatio float64
}

func NewVelocityLimitCheck(cfg config.VelocityCheckConfig) *VelocityLimitCheck {
	return &VelocityLimitCheck{LowRatio: cfg.LowRatio, MediumRatio: cfg.MediumRatio}
}

func (c *VelocityLimitCheck) Name() string { return VelocityLimitName }

func (c *VelocityLimitCheck) Evaluate(action inference.ActionVector, profile robot.Profile, ctx inference.Context) Verdict {
	if ctx.Previous == nil {
		return Pass(VelocityLimitName, "no previous command for session")
	}
	hz := controlFrequency(profile, ctx)
	prev := ctx.Previous.Position

	worstAxis, worstRatio, worstSpeed := -1, 1.0, 0.0
	for axis := 0; axis < 3; axis++ {
		speed := math.Abs(action[axis]-prev[axis]) * hz
		ratio := speed / profile.VelocityLimits[axis]
		if ratio > worstRatio && ratio > 1+velocitySlack {
			worstAxis, worstRatio, worstSpeed = axis, ratio, speed
		}
	}
	if worstAxis < 0 {
		return Pass(VelocityLimitName, fmt.Sprintf("implied velocity within limits at %.1f Hz", hz))
	}

	return Fail(VelocityLimitName, c.severity(worstRatio), 1,
		fmt.Sprintf("%s velocity %.4f m/s exceeds limit %.4f m/s (x%.2f at %.1f Hz)",
			inference.AxisNames[worstAxis], worstSpeed, profile.VelocityLimits[worstAxis], worstRatio, hz))
}

func (c *VelocityLimitCheck) severity(ratio float64) Severity {
	switch {
	case ratio <= c.LowRatio:
		return SeverityLow
	case ratio <= c.MediumRatio:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Envelope is the reachable box around the previous position in one tick.
func (c *VelocityLimitCheck) Envelope(profile robot.Profile, ctx inference.Context) Box {
	if ctx.Previous == nil {
		return nil
	}
	hz := controlFrequency(profile, ctx)
	box := make(Box, 3)
	for axis := 0; axis < 3; axis++ {
		step := profile.VelocityLimits[axis] / hz
		p := ctx.Previous.Position[axis]
		box[axis] = robot.Interval{Min: p - step, Max: p + step}
	}
	return box
}

func controlFrequency(profile robot.Profile, ctx inference.Context) float64 {
	if ctx.ControlFrequencyHz > 0 {
		return ctx.ControlFrequencyHz
	}
	return profile.ControlFrequencyHz
}

// FreshPrevious drops a previous command older than staleAfter. A zero
// staleAfter keeps every command.
func FreshPrevious(prev *inference.PreviousCommand, now time.Time, staleAfter time.Duration) *inference.PreviousCommand {
	if prev == nil {
		return nil
	}
	if staleAfter > 0 && !prev.IssuedAt.IsZero() && now.Sub(prev.IssuedAt) > staleAfter {
		return nil
	}
	return prev
}
