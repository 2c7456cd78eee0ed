package robot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/straja-ai/vlaguard/internal/config"
)

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(config.Default().Robots)
	require.NoError(t, err)

	p, err := reg.Lookup("Franka_Panda ")
	require.NoError(t, err)
	require.Equal(t, "franka_panda", p.Type)
	require.Equal(t, Interval{Min: -0.6, Max: 0.6}, p.Workspace[0])
	require.Equal(t, 10.0, p.ControlFrequencyHz)

	_, err = reg.Lookup("spot")
	var unknown *UnknownRobotError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "spot", unknown.RobotType)

	require.Equal(t, []string{"franka_panda", "widowx_250"}, reg.Types())
	require.True(t, reg.Has("widowx_250"))
	require.False(t, reg.Has(UnknownType))
}

func TestRegistryRejectsUnknownAndDuplicates(t *testing.T) {
	base := Profile{
		Type:               "arm",
		Workspace:          [3]Interval{{-1, 1}, {-1, 1}, {-1, 1}},
		VelocityLimits:     [3]float64{1, 1, 1},
		Gripper:            Interval{0, 1},
		ControlFrequencyHz: 10,
	}

	_, err := NewRegistryFromProfiles(base, base)
	require.ErrorContains(t, err, "registered twice")

	unknown := base
	unknown.Type = "Unknown"
	_, err = NewRegistryFromProfiles(unknown)
	require.ErrorContains(t, err, "cannot be registered")
}

func TestNewRegistryValidatesProfiles(t *testing.T) {
	robots := config.Default().Robots
	robots[0].VelocityLimits = []float64{1, 0, 1}
	_, err := NewRegistry(robots)
	require.ErrorContains(t, err, "velocity limit axis 1")
}

func TestIntervalHelpers(t *testing.T) {
	iv := Interval{Min: -0.6, Max: 0.6}
	require.True(t, iv.Contains(0.6))
	require.False(t, iv.Contains(0.61))
	require.InDelta(t, 1.4, iv.Distance(2.0), 1e-9)
	require.Zero(t, iv.Distance(0.1))
	require.Equal(t, 0.6, iv.Clip(0.61))
	require.Equal(t, -0.6, iv.Clip(-5))
	require.Equal(t, 0.3, iv.Clip(0.3))
}
