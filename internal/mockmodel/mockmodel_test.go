package mockmodel

import (
	"context"
	"math"
	"testing"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/provider"
)

func TestMockModelServesScriptedActions(t *testing.T) {
	shutdown, baseURL, err := Start("127.0.0.1:0")
	if err != nil {
		t.Skipf("start mock model: %v", err)
	}
	defer shutdown(context.Background())

	p := provider.NewHTTP(baseURL, "", 0)
	infer := func(instruction string) ([]float64, error) {
		return p.Infer(context.Background(), &inference.Request{
			Context: inference.Context{RobotType: "franka_panda", Instruction: instruction},
			Image:   []byte("frame"),
		})
	}

	action, err := infer("pick up the block")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(action) != 7 || action[6] != 0.5 {
		t.Fatalf("unexpected default action %v", action)
	}

	action, err = infer("reach far away")
	if err != nil || action[0] != 2.0 {
		t.Fatalf("expected far action, got %v %v", action, err)
	}

	action, err = infer("nan please")
	if err != nil || !math.IsNaN(action[0]) {
		t.Fatalf("expected NaN component, got %v %v", action, err)
	}

	if _, err := infer("fail now"); err == nil {
		t.Fatalf("expected runtime error")
	}
}
