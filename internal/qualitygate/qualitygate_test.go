package qualitygate

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
)

type robotSet map[string]bool

func (s robotSet) Has(rt string) bool { return s[rt] }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testGate() *Gate {
	return New(config.QualityGateConfig{
		MaxInstructionChars:   20,
		MaxImageBytes:         1 << 20,
		MinImageDim:           16,
		MaxImageDim:           256,
		MaxControlFrequencyHz: 100,
	}, robotSet{"franka_panda": true}, []string{"Kitchen", "lab"})
}

func validRequest(t *testing.T) *inference.Request {
	return &inference.Request{
		Context: inference.Context{
			CustomerID:      "acme",
			RobotType:       "franka_panda",
			EnvironmentType: "kitchen",
			Instruction:     "pick up the block",
			SessionID:       "arm-1:episode.7",
		},
		Image: pngBytes(t, 32, 32),
	}
}

func TestValidateRequestAcceptsWellFormed(t *testing.T) {
	if err := testGate().ValidateRequest(validRequest(t)); err != nil {
		t.Fatalf("expected request to pass, got %v", err)
	}
}

func TestValidateRequestReasons(t *testing.T) {
	truncated := pngBytes(t, 32, 32)
	truncated = truncated[:len(truncated)/2]

	cases := []struct {
		name   string
		mutate func(r *inference.Request)
		reason Reason
		field  string
	}{
		{"missing customer", func(r *inference.Request) { r.Context.CustomerID = " " }, ReasonCustomerIDMissing, "customer_id"},
		{"empty robot type", func(r *inference.Request) { r.Context.RobotType = "" }, ReasonRobotTypeMissing, "robot_type"},
		{"unknown robot type", func(r *inference.Request) { r.Context.RobotType = "Unknown" }, ReasonRobotTypeUnknown, "robot_type"},
		{"unregistered robot type", func(r *inference.Request) { r.Context.RobotType = "ur5" }, ReasonRobotTypeUnregistered, "robot_type"},
		{"unknown environment", func(r *inference.Request) { r.Context.EnvironmentType = "warehouse" }, ReasonEnvironmentTypeUnknown, "environment_type"},
		{"blank instruction", func(r *inference.Request) { r.Context.Instruction = "   " }, ReasonInstructionEmpty, "instruction"},
		{"long instruction", func(r *inference.Request) { r.Context.Instruction = strings.Repeat("é", 21) }, ReasonInstructionTooLong, "instruction"},
		{"invalid utf8", func(r *inference.Request) { r.Context.Instruction = "pick \xff" }, ReasonInstructionInvalidUTF8, "instruction"},
		{"missing image", func(r *inference.Request) { r.Image = nil }, ReasonImageMissing, "image"},
		{"image too large", func(r *inference.Request) { r.Image = make([]byte, 2<<20) }, ReasonImageTooLarge, "image"},
		{"not an image", func(r *inference.Request) { r.Image = []byte("hello") }, ReasonImageUndecodable, "image"},
		{"truncated image", func(r *inference.Request) { r.Image = truncated }, ReasonImageUndecodable, "image"},
		{"image too small", func(r *inference.Request) { r.Image = pngBytes(t, 8, 32) }, ReasonImageDimensionsOutRange, "image"},
		{"image too big", func(r *inference.Request) { r.Image = pngBytes(t, 512, 32) }, ReasonImageDimensionsOutRange, "image"},
		{"negative hz", func(r *inference.Request) { r.Context.ControlFrequencyHz = -5 }, ReasonControlFrequencyInvalid, "control_frequency_hz"},
		{"nan hz", func(r *inference.Request) { r.Context.ControlFrequencyHz = math.NaN() }, ReasonControlFrequencyInvalid, "control_frequency_hz"},
		{"hz over limit", func(r *inference.Request) { r.Context.ControlFrequencyHz = 500 }, ReasonControlFrequencyInvalid, "control_frequency_hz"},
		{"bad session id", func(r *inference.Request) { r.Context.SessionID = "arm 1" }, ReasonSessionIDInvalid, "session_id"},
	}

	gate := testGate()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(t)
			tc.mutate(req)
			err := gate.ValidateRequest(req)
			var qe *Error
			if !errors.As(err, &qe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if qe.Reason != tc.reason || qe.Field != tc.field || qe.Stage != StageRequest {
				t.Fatalf("got %s/%s/%s, want %s/%s/request", qe.Reason, qe.Field, qe.Stage, tc.reason, tc.field)
			}
		})
	}
}

func TestEnvironmentCheckSkippedWithoutConfig(t *testing.T) {
	gate := New(config.QualityGateConfig{}, robotSet{"franka_panda": true}, nil)
	req := validRequest(t)
	req.Context.EnvironmentType = "anywhere"
	if err := gate.ValidateRequest(req); err != nil {
		t.Fatalf("expected any environment to pass without config, got %v", err)
	}
}

func TestValidateAction(t *testing.T) {
	a, err := ValidateAction([]float64{0.1, 0.1, 0.1, 0, 0, 0, 0.5})
	if err != nil {
		t.Fatalf("expected finite action to pass, got %v", err)
	}
	if a.Gripper() != 0.5 {
		t.Fatalf("unexpected gripper %v", a.Gripper())
	}

	_, err = ValidateAction([]float64{0.1, 0.1})
	var qe *Error
	if !errors.As(err, &qe) || qe.Reason != ReasonActionWrongLength || qe.Stage != StageResponse {
		t.Fatalf("expected wrong length response error, got %v", err)
	}

	_, err = testGate().ValidateAction([]float64{0.1, math.NaN(), 0.1, 0, 0, 0, 0.5})
	if !errors.As(err, &qe) || qe.Reason != ReasonActionNonFinite || qe.Field != "action.y" {
		t.Fatalf("expected non-finite error on action.y, got %v", err)
	}

	_, err = ValidateAction([]float64{0, 0, 0, 0, 0, math.Inf(-1), 0.5})
	if !errors.As(err, &qe) || qe.Field != "action.yaw" {
		t.Fatalf("expected non-finite error on action.yaw, got %v", err)
	}
}
