// Package incident persists audit records for every non-clean safety decision.
// Incidents are append-only: there is no update or delete path.
package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action taken values.
const (
	ActionAllow  = "allow"
	ActionClamp  = "clamp"
	ActionReject = "reject"
)

// ViolatedCheck is one failed check as captured in an incident.
type ViolatedCheck struct {
	Name        string  `json:"name"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// Incident is an immutable audit record.
type Incident struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	RequestID       string          `json:"request_id,omitempty"`
	CustomerID      string          `json:"customer_id"`
	RobotType       string          `json:"robot_type"`
	EnvironmentType string          `json:"environment_type,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	ViolatedChecks  []ViolatedCheck `json:"violated_checks"`
	Severity        string          `json:"severity"`
	ActionTaken     string          `json:"action_taken"`
	SafetyScore     float64         `json:"safety_score"`
	RawAction       []float64       `json:"raw_action"`
	ClampedAction   []float64       `json:"clamped_action"`
}

// CheckNames lists the violated check names in order.
func (i Incident) CheckNames() []string {
	out := make([]string, 0, len(i.ViolatedChecks))
	for _, c := range i.ViolatedChecks {
		out = append(out, c.Name)
	}
	return out
}

// Prepare fills the id and timestamp when absent and checks required fields.
func (i *Incident) Prepare(now time.Time) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = now
	}
	i.Timestamp = i.Timestamp.UTC()
	switch {
	case strings.TrimSpace(i.CustomerID) == "":
		return errors.New("customer id is required")
	case strings.TrimSpace(i.RobotType) == "":
		return errors.New("robot type is required")
	case i.ActionTaken == "":
		return errors.New("action taken is required")
	case len(i.RawAction) == 0:
		return errors.New("raw action is required")
	}
	return nil
}

// Recorder persists incidents.
type Recorder interface {
	Record(ctx context.Context, inc Incident) error
}

// Filter narrows an incident listing.
type Filter struct {
	CustomerID string
	Limit      int
}

// Lister reads incidents back, newest first.
type Lister interface {
	List(ctx context.Context, f Filter) ([]Incident, error)
}

// DefaultListLimit applies when a Filter has no limit.
const DefaultListLimit = 50

// MaxListLimit caps a single listing.
const MaxListLimit = 1000

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// StorageError reports a failed incident write or read.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("incident storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Multi fans an incident out to several recorders. Every recorder is tried;
// failures are joined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, inc Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now().UTC()
	}
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, inc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every incident.
type Discard struct{}

func (Discard) Record(context.Context, Incident) error { return nil }
