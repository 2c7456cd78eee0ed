package safety

import (
	"fmt"
	"strings"
)

// Severity ranks how dangerous a failed check is.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity maps a config or wire name to a Severity.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range severityNames {
		if s == n {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Verdict is the outcome of one check against one action.
type Verdict struct {
	CheckName   string   `json:"check_name"`
	Passed      bool     `json:"passed"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Severity    Severity `json:"severity"`
}

// Pass builds a passing verdict.
func Pass(name, explanation string) Verdict {
	return Verdict{CheckName: name, Passed: true, Confidence: 1, Explanation: explanation}
}

// Fail builds a failing verdict.
func Fail(name string, sev Severity, confidence float64, explanation string) Verdict {
	return Verdict{CheckName: name, Confidence: confidence, Explanation: explanation, Severity: sev}
}

// normalize pins a verdict to the invariants the scorer relies on.
// Confidence is clamped into [0,1] and a NaN confidence counts as certain.
// Failed verdicts carry at least low severity; passed ones carry none.
func (v Verdict) normalize(name string) Verdict {
	if v.CheckName == "" {
		v.CheckName = name
	}
	switch {
	case v.Confidence != v.Confidence, v.Confidence > 1:
		v.Confidence = 1
	case v.Confidence < 0:
		v.Confidence = 0
	}
	if v.Passed {
		v.Severity = SeverityNone
	} else if v.Severity <= SeverityNone {
		v.Severity = SeverityLow
	} else if v.Severity > SeverityCritical {
		v.Severity = SeverityCritical
	}
	return v
}
