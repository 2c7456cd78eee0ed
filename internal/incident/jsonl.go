package incident

import (
	"context"
	"time"

	"github.com/straja-ai/vlaguard/internal/jsonl"
)

// FileRecorder appends incidents to a JSONL file, one object per line.
type FileRecorder struct {
	w   *jsonl.Writer
	now func() time.Time
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	w, err := jsonl.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{w: w, now: time.Now}, nil
}

func (r *FileRecorder) Record(ctx context.Context, inc Incident) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "record", Err: err}
	}
	if err := inc.Prepare(r.now()); err != nil {
		return &StorageError{Op: "record", Err: err}
	}
	if err := r.w.Append(inc); err != nil {
		return &StorageError{Op: "record", Err: err}
	}
	return nil
}

func (r *FileRecorder) Close() error {
	return r.w.Close()
}
