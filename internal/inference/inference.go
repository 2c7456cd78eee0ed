package inference

import (
	"math"
	"time"
)

// ActionDims is the number of components in an action vector.
const ActionDims = 7

// Component indices of an ActionVector.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisRoll
	AxisPitch
	AxisYaw
	AxisGripper
)

// AxisNames maps component indices to their wire names.
var AxisNames = [ActionDims]string{"x", "y", "z", "roll", "pitch", "yaw", "gripper"}

// ActionVector is a 7-DoF end-effector command: [x, y, z, roll, pitch, yaw, gripper].
type ActionVector [ActionDims]float64

// Position returns the translational components.
func (a ActionVector) Position() Position {
	return Position{a[AxisX], a[AxisY], a[AxisZ]}
}

// Gripper returns the gripper aperture command.
func (a ActionVector) Gripper() float64 {
	return a[AxisGripper]
}

// Finite reports whether every component is a finite number.
func (a ActionVector) Finite() bool {
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Slice returns the components as a fresh slice, the shape used on the wire.
func (a ActionVector) Slice() []float64 {
	out := make([]float64, ActionDims)
	copy(out, a[:])
	return out
}

// ActionFromSlice copies a 7-element slice into an ActionVector.
// The caller is expected to have checked the length.
func ActionFromSlice(v []float64) ActionVector {
	var a ActionVector
	copy(a[:], v)
	return a
}

// Position is a Cartesian end-effector position in meters.
type Position [3]float64

// PreviousCommand is the last position released to a session's controller.
type PreviousCommand struct {
	Position  Position
	IssuedAt  time.Time
	RequestID string
}

// Context carries the per-request facts the safety checks reason about.
type Context struct {
	RequestID          string
	CustomerID         string
	SessionID          string
	RobotType          string
	EnvironmentType    string
	Instruction        string
	ControlFrequencyHz float64

	// Previous is nil when the session has no recorded command.
	Previous *PreviousCommand
}

// Request represents a normalized inference request that vlaguard operates on.
type Request struct {
	Context Context

	// Image holds the encoded camera frame (PNG or JPEG).
	Image []byte

	// Timings captures per-stage latency for debugging/observability.
	Timings *Timings
}

// Timings holds latency measurements for key stages of request processing.
type Timings struct {
	QualityGate time.Duration
	Inference   time.Duration
	Evaluation  time.Duration
	Incident    time.Duration
}
