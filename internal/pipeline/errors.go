package pipeline

import (
	"fmt"
	"strings"

	"github.com/straja-ai/vlaguard/internal/safety"
)

// SafetyRejectError is returned instead of an action the evaluator rejected.
type SafetyRejectError struct {
	RequestID  string
	Score      float64
	Severity   safety.Severity
	Violated   []safety.Verdict
	IncidentID string
}

func (e *SafetyRejectError) Error() string {
	return fmt.Sprintf("safety reject: score=%.4f severity=%s checks=%s", e.Score, e.Severity, strings.Join(e.CheckNames(), ","))
}

// CheckNames lists the violated checks in evaluation order.
func (e *SafetyRejectError) CheckNames() []string {
	out := make([]string, 0, len(e.Violated))
	for _, v := range e.Violated {
		out = append(out, v.CheckName)
	}
	return out
}

// SessionError wraps a session store failure. The request fails closed.
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
