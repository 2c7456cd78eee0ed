// Package qualitygate screens request and model-output shape before any
// safety logic runs. Every failure carries a machine-readable reason code.
package qualitygate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

// Stage tells whether the caller's input or the model's output was malformed.
type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// Reason is a stable, machine-readable rejection code.
type Reason string

const (
	ReasonCustomerIDMissing       Reason = "customer_id_missing"
	ReasonRobotTypeMissing        Reason = "robot_type_missing"
	ReasonRobotTypeUnknown        Reason = "robot_type_unknown"
	ReasonRobotTypeUnregistered   Reason = "robot_type_unregistered"
	ReasonEnvironmentTypeUnknown  Reason = "environment_type_unknown"
	ReasonInstructionEmpty        Reason = "instruction_empty"
	ReasonInstructionTooLong      Reason = "instruction_too_long"
	ReasonInstructionInvalidUTF8  Reason = "instruction_invalid_utf8"
	ReasonImageMissing            Reason = "image_missing"
	ReasonImageTooLarge           Reason = "image_too_large"
	ReasonImageUndecodable        Reason = "image_undecodable"
	ReasonImageDimensionsOutRange Reason = "image_dimensions_out_of_range"
	ReasonControlFrequencyInvalid Reason = "control_frequency_invalid"
	ReasonSessionIDInvalid        Reason = "session_id_invalid"
	ReasonActionWrongLength       Reason = "action_wrong_length"
	ReasonActionNonFinite         Reason = "action_non_finite"
)

// Error is a structured quality gate rejection.
type Error struct {
	Stage  Stage  `json:"stage"`
	Reason Reason `json:"reason"`
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("quality gate %s: %s (%s): %s", e.Stage, e.Reason, e.Field, e.Detail)
}

// RobotTypes is the slice of the robot registry the gate needs.
type RobotTypes interface {
	Has(robotType string) bool
}

// Gate validates requests and predicted actions.
type Gate struct {
	limits       config.QualityGateConfig
	robots       RobotTypes
	environments map[string]struct{}
}

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// New creates a gate. environments lists the configured environment names;
// an empty list accepts any environment_type.
func New(limits config.QualityGateConfig, robots RobotTypes, environments []string) *Gate {
	envs := make(map[string]struct{}, len(environments))
	for _, e := range environments {
		if e = normalizeEnv(e); e != "" {
			envs[e] = struct{}{}
		}
	}
	return &Gate{limits: limits, robots: robots, environments: envs}
}

// ValidateRequest checks the caller-supplied request. It returns a *Error on the
// first violation found.
func (g *Gate) ValidateRequest(req *inference.Request) error {
	if req == nil {
		return reqErr(ReasonInstructionEmpty, "request", "request is empty")
	}
	c := req.Context

	if strings.TrimSpace(c.CustomerID) == "" {
		return reqErr(ReasonCustomerIDMissing, "customer_id", "customer_id is required")
	}
	if err := g.checkRobotType(c.RobotType); err != nil {
		return err
	}
	if err := g.checkEnvironment(c.EnvironmentType); err != nil {
		return err
	}
	if err := g.checkInstruction(c.Instruction); err != nil {
		return err
	}
	if err := g.checkImage(req.Image); err != nil {
		return err
	}
	if err := g.checkControlFrequency(c.ControlFrequencyHz); err != nil {
		return err
	}
	if c.SessionID != "" && !sessionIDRe.MatchString(c.SessionID) {
		return reqErr(ReasonSessionIDInvalid, "session_id", "session_id must be 1-128 characters of [A-Za-z0-9._:-]")
	}
	return nil
}

// ValidateAction checks a model-predicted action and converts it to an ActionVector.
func (g *Gate) ValidateAction(raw []float64) (inference.ActionVector, error) {
	return ValidateAction(raw)
}

// ValidateAction checks that raw holds exactly seven finite components.
func ValidateAction(raw []float64) (inference.ActionVector, error) {
	if len(raw) != inference.ActionDims {
		return inference.ActionVector{}, &Error{
			Stage:  StageResponse,
			Reason: ReasonActionWrongLength,
			Field:  "action",
			Detail: fmt.Sprintf("expected %d components, got %d", inference.ActionDims, len(raw)),
		}
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return inference.ActionVector{}, &Error{
				Stage:  StageResponse,
				Reason: ReasonActionNonFinite,
				Field:  "action." + inference.AxisNames[i],
				Detail: fmt.Sprintf("component %s is %v", inference.AxisNames[i], v),
			}
		}
	}
	return inference.ActionFromSlice(raw), nil
}

func (g *Gate) checkRobotType(robotType string) error {
	rt := robot.Normalize(robotType)
	switch {
	case rt == "":
		return reqErr(ReasonRobotTypeMissing, "robot_type", "robot_type is required")
	case rt == robot.UnknownType:
		return reqErr(ReasonRobotTypeUnknown, "robot_type", "robot_type \"unknown\" cannot be evaluated against a profile")
	case g.robots == nil || !g.robots.Has(rt):
		return reqErr(ReasonRobotTypeUnregistered, "robot_type", fmt.Sprintf("robot_type %q is not registered", robotType))
	}
	return nil
}

func (g *Gate) checkEnvironment(env string) error {
	env = normalizeEnv(env)
	if env == "" || len(g.environments) == 0 {
		return nil
	}
	if _, ok := g.environments[env]; !ok {
		return reqErr(ReasonEnvironmentTypeUnknown, "environment_type", fmt.Sprintf("environment_type %q is not configured", env))
	}
	return nil
}

func (g *Gate) checkInstruction(instruction string) error {
	if !utf8.ValidString(instruction) {
		return reqErr(ReasonInstructionInvalidUTF8, "instruction", "instruction must be valid UTF-8")
	}
	trimmed := strings.TrimSpace(instruction)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 {
		return reqErr(ReasonInstructionEmpty, "instruction", "instruction is required")
	}
	if max := g.limits.MaxInstructionChars; max > 0 && n > max {
		return reqErr(ReasonInstructionTooLong, "instruction", fmt.Sprintf("instruction has %d characters, limit is %d", n, max))
	}
	return nil
}

func (g *Gate) checkImage(data []byte) error {
	if len(data) == 0 {
		return reqErr(ReasonImageMissing, "image", "image is required")
	}
	if max := g.limits.MaxImageBytes; max > 0 && int64(len(data)) > max {
		return reqErr(ReasonImageTooLarge, "image", fmt.Sprintf("image is %d bytes, limit is %d", len(data), max))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return reqErr(ReasonImageUndecodable, "image", "image is not a decodable PNG or JPEG")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 ||
		(g.limits.MinImageDim > 0 && (cfg.Width < g.limits.MinImageDim || cfg.Height < g.limits.MinImageDim)) ||
		(g.limits.MaxImageDim > 0 && (cfg.Width > g.limits.MaxImageDim || cfg.Height > g.limits.MaxImageDim)) {
		return reqErr(ReasonImageDimensionsOutRange, "image",
			fmt.Sprintf("image is %dx%d, allowed side length is [%d, %d]", cfg.Width, cfg.Height, g.limits.MinImageDim, g.limits.MaxImageDim))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil || img.Bounds().Empty() {
		return reqErr(ReasonImageUndecodable, "image", "image data is truncated or empty")
	}
	return nil
}

func (g *Gate) checkControlFrequency(hz float64) error {
	if hz == 0 {
		return nil
	}
	if math.IsNaN(hz) || math.IsInf(hz, 0) || hz < 0 {
		return reqErr(ReasonControlFrequencyInvalid, "control_frequency_hz", "control_frequency_hz must be a positive finite number")
	}
	if max := g.limits.MaxControlFrequencyHz; max > 0 && hz > max {
		return reqErr(ReasonControlFrequencyInvalid, "control_frequency_hz", fmt.Sprintf("control_frequency_hz %v exceeds limit %v", hz, max))
	}
	return nil
}

func reqErr(reason Reason, field, detail string) *Error {
	return &Error{Stage: StageRequest, Reason: reason, Field: field, Detail: detail}
}

func normalizeEnv(env string) string {
	return strings.ToLower(strings.TrimSpace(env))
}
