// Package robot holds the static per-robot-type profiles the safety checks
// measure actions against. Profiles are built once at startup and are
// read-only afterwards, so a Registry is safe for concurrent use.
package robot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/straja-ai/vlaguard/internal/config"
)

// UnknownType is the placeholder robot type that is never registrable.
const UnknownType = "unknown"

// Interval is a closed range [Min, Max].
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Min && v <= i.Max
}

// Distance returns how far v lies outside the interval, 0 when inside.
func (i Interval) Distance(v float64) float64 {
	switch {
	case v < i.Min:
		return i.Min - v
	case v > i.Max:
		return v - i.Max
	default:
		return 0
	}
}

// Clip projects v into the interval.
func (i Interval) Clip(v float64) float64 {
	if v < i.Min {
		return i.Min
	}
	if v > i.Max {
		return i.Max
	}
	return v
}

// Profile describes the physical envelope of one robot type.
type Profile struct {
	Type               string      `json:"robot_type"`
	Workspace          [3]Interval `json:"workspace_bounds"`
	VelocityLimits     [3]float64  `json:"velocity_limits"`
	Gripper            Interval    `json:"gripper_bounds"`
	ControlFrequencyHz float64     `json:"control_frequency_hz"`
}

// UnknownRobotError is returned when a robot type has no registered profile.
type UnknownRobotError struct {
	RobotType string
}

func (e *UnknownRobotError) Error() string {
	return fmt.Sprintf("robot type %q is not registered", e.RobotType)
}

// Registry maps robot types to profiles.
type Registry struct {
	profiles map[string]Profile
	types    []string
}

// NewRegistry builds a registry from the robots config section.
func NewRegistry(robots []config.RobotConfig) (*Registry, error) {
	profiles := make([]Profile, 0, len(robots))
	for i, rc := range robots {
		p, err := profileFromConfig(rc)
		if err != nil {
			return nil, fmt.Errorf("robots[%d]: %w", i, err)
		}
		profiles = append(profiles, p)
	}
	return NewRegistryFromProfiles(profiles...)
}

// NewRegistryFromProfiles builds a registry from already-constructed profiles.
func NewRegistryFromProfiles(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		key := Normalize(p.Type)
		if key == "" || key == UnknownType {
			return nil, fmt.Errorf("robot type %q cannot be registered", p.Type)
		}
		if _, dup := r.profiles[key]; dup {
			return nil, fmt.Errorf("robot type %q registered twice", p.Type)
		}
		p.Type = key
		r.profiles[key] = p
		r.types = append(r.types, key)
	}
	sort.Strings(r.types)
	return r, nil
}

// Lookup returns the profile registered for robotType.
func (r *Registry) Lookup(robotType string) (Profile, error) {
	if r != nil {
		if p, ok := r.profiles[Normalize(robotType)]; ok {
			return p, nil
		}
	}
	return Profile{}, &UnknownRobotError{RobotType: robotType}
}

// Has reports whether robotType is registered.
func (r *Registry) Has(robotType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.profiles[Normalize(robotType)]
	return ok
}

// Types lists the registered robot types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

// Profiles lists every registered profile ordered by type.
func (r *Registry) Profiles() []Profile {
	if r == nil {
		return nil
	}
	out := make([]Profile, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, r.profiles[t])
	}
	return out
}

// Normalize canonicalizes a robot type for lookup.
func Normalize(robotType string) string {
	return strings.ToLower(strings.TrimSpace(robotType))
}

func profileFromConfig(rc config.RobotConfig) (Profile, error) {
	if len(rc.Workspace.Min) != 3 || len(rc.Workspace.Max) != 3 {
		return Profile{}, fmt.Errorf("workspace min/max must have 3 entries")
	}
	if len(rc.VelocityLimits) != 3 {
		return Profile{}, fmt.Errorf("velocity_limits must have 3 entries")
	}
	p := Profile{
		Type:               rc.Type,
		Gripper:            Interval{Min: rc.Gripper.Min, Max: rc.Gripper.Max},
		ControlFrequencyHz: rc.ControlFrequencyHz,
	}
	for axis := 0; axis < 3; axis++ {
		p.Workspace[axis] = Interval{Min: rc.Workspace.Min[axis], Max: rc.Workspace.Max[axis]}
		if p.Workspace[axis].Min >= p.Workspace[axis].Max {
			return Profile{}, fmt.Errorf("workspace axis %d has min >= max", axis)
		}
		if rc.VelocityLimits[axis] <= 0 {
			return Profile{}, fmt.Errorf("velocity limit axis %d must be positive", axis)
		}
		p.VelocityLimits[axis] = rc.VelocityLimits[axis]
	}
	if p.Gripper.Min < 0 || p.Gripper.Max > 1 || p.Gripper.Min >= p.Gripper.Max {
		return Profile{}, fmt.Errorf("gripper bounds must satisfy 0 <= min < max <= 1")
	}
	if p.ControlFrequencyHz <= 0 {
		return Profile{}, fmt.Errorf("control_frequency_hz must be positive")
	}
	return p, nil
}
