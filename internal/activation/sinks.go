package activation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/straja-ai/vlaguard/internal/config"
)

// NewSinks builds the sinks configured under activation.sinks.
func NewSinks(cfgs []config.ActivationSinkConfig) ([]Sink, error) {
	var sinks []Sink
	for i, sc := range cfgs {
		switch strings.ToLower(strings.TrimSpace(sc.Type)) {
		case "file_jsonl":
			s, err := NewFileSink(sc.Path)
			if err != nil {
				closeAll(sinks)
				return nil, fmt.Errorf("activation.sinks[%d]: %w", i, err)
			}
			sinks = append(sinks, s)
		case "webhook":
			s, err := NewWebhookSink(sc.URL, sc.Headers, time.Duration(sc.TimeoutMs)*time.Millisecond)
			if err != nil {
				closeAll(sinks)
				return nil, fmt.Errorf("activation.sinks[%d]: %w", i, err)
			}
			sinks = append(sinks, s)
		default:
			closeAll(sinks)
			return nil, fmt.Errorf("activation.sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return sinks, nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close(context.Background())
	}
}
