package activation

import (
	"context"
	"fmt"

	"github.com/straja-ai/vlaguard/internal/jsonl"
)

// FileSink appends decision log events to a JSONL file.
type FileSink struct {
	w *jsonl.Writer
}

func NewFileSink(path string) (*FileSink, error) {
	w, err := jsonl.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{w: w}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.w.Path() }

func (s *FileSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if err := s.w.Append(ev); err != nil {
		return fmt.Errorf("event %s: %w", ev.RequestID, err)
	}
	return nil
}

func (s *FileSink) Close(context.Context) error {
	return s.w.Close()
}
