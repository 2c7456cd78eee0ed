// Package session stores the last position released to each robot session so
// the velocity check can compare consecutive commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
)

// ErrEmptySessionID is returned for operations addressed to no session.
var ErrEmptySessionID = errors.New("session: empty session id")

// UpdateFunc receives the current command for a session (nil when absent)
// and returns the command to store, or nil to leave the session unchanged.
// It may be called more than once when a store retries on contention, so it
// must not have side effects.
type UpdateFunc func(prev *inference.PreviousCommand) (*inference.PreviousCommand, error)

// Store is the per-session key-value store.
type Store interface {
	Get(ctx context.Context, sessionID string) (*inference.PreviousCommand, error)
	Set(ctx context.Context, sessionID string, cmd inference.PreviousCommand) error
	// Update runs fn as an exclusive read-modify-write for sessionID.
	// Different sessions never contend.
	Update(ctx context.Context, sessionID string, fn UpdateFunc) error
	Close() error
}

// New builds the store selected by sessions.backend.
func New(cfg config.SessionConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}

// record is the stored form of a PreviousCommand.
type record struct {
	Position  [3]float64 `json:"position"`
	IssuedAt  time.Time  `json:"issued_at"`
	RequestID string     `json:"request_id,omitempty"`
}

func toRecord(cmd inference.PreviousCommand) record {
	return record{Position: cmd.Position, IssuedAt: cmd.IssuedAt, RequestID: cmd.RequestID}
}

func (r record) command() *inference.PreviousCommand {
	return &inference.PreviousCommand{Position: r.Position, IssuedAt: r.IssuedAt, RequestID: r.RequestID}
}
