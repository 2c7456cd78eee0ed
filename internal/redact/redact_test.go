package redact

import (
	"strings"
	"testing"
)

func TestStringRedaction(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		disallow []string
		require  []string
	}{
		{
			name:     "bearer header",
			input:    "Authorization: Bearer vlg-secret-123",
			disallow: []string{"vlg-secret-123"},
			require:  []string{"Bearer [REDACTED]"},
		},
		{
			name:     "api keys slice",
			input:    "api_keys=[cust-key-1 cust-key-2]",
			disallow: []string{"cust-key-1", "cust-key-2"},
			require:  []string{"api_keys=[REDACTED]"},
		},
		{
			name:     "api key header",
			input:    "X-API-Key: abcdef0123",
			disallow: []string{"abcdef0123"},
			require:  []string{"X-API-Key: [REDACTED]"},
		},
		{
			name:     "redis url with password",
			input:    "dial redis://:hunter2@cache.internal:6379/0 failed",
			disallow: []string{"hunter2"},
			require:  []string{"redis://[REDACTED]@cache.internal:6379/0"},
		},
		{
			name:     "inference url with query",
			input:    "POST https://vla.example.com/v1/infer?sig=abc123",
			disallow: []string{"sig=abc123"},
			require:  []string{"https://vla.example.com/infer"},
		},
		{
			name:     "base64 frame",
			input:    `{"image":"` + strings.Repeat("iVBORw0KGgo", 40) + `"}`,
			disallow: []string{"iVBORw0KGgoiVBORw0KGgo"},
			require:  []string{"[BLOB 440 bytes]"},
		},
		{
			name:     "mixed token",
			input:    "Bearer abc secret=supersecret token=anotherone password=p4ss",
			disallow: []string{"abc", "supersecret", "anotherone", "p4ss"},
			require:  []string{"[REDACTED]"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := String(tc.input)
			for _, bad := range tc.disallow {
				if bad != "" && contains(out, bad) {
					t.Fatalf("output still contains %q: %s", bad, out)
				}
			}
			for _, want := range tc.require {
				if !contains(out, want) {
					t.Fatalf("output missing required substring %q: %s", want, out)
				}
			}
		})
	}
}

func TestStringLeavesPlainTextAlone(t *testing.T) {
	in := "workspace_bounds: x=0.6100 outside [-0.6000, 0.6000] by 0.0100 m"
	if out := String(in); out != in {
		t.Fatalf("expected unchanged output, got %q", out)
	}
}

func contains(s, sub string) bool {
	return s != "" && sub != "" && strings.Contains(s, sub)
}
