// Package jsonl appends JSON values to a file, one per line.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer is safe for concurrent use. Each Append is flushed before it returns.
type Writer struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// Open creates parent directories as needed and opens path for appending.
func Open(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &Writer{path: path, file: f, writer: bufio.NewWriter(f)}, nil
}

func (w *Writer) Path() string { return w.path }

// Append encodes v and writes it as one line.
func (w *Writer) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("write %s: file closed", w.path)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes, syncs and closes the file. Further appends fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	_ = w.writer.Flush()
	_ = w.file.Sync()
	err := w.file.Close()
	w.file = nil
	return err
}
