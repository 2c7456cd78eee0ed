package session

import (
	"context"
	"sync"
	"time"

	"github.com/straja-ai/vlaguard/internal/inference"
)

// MemoryStore keeps session state in process. It is suitable for a single
// gateway instance; use RedisStore when several instances share sessions.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]*sessionLock
}

type memoryEntry struct {
	rec     record
	expires time.Time
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore creates an in-process store. ttl <= 0 keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]*sessionLock),
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*inference.PreviousCommand, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(sessionID), nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID string, cmd inference.PreviousCommand) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(sessionID, cmd)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	unlock := s.lock(sessionID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.getLocked(sessionID)
	s.mu.Unlock()

	next, err := fn(prev)
	if err != nil || next == nil {
		return err
	}

	s.mu.Lock()
	s.setLocked(sessionID, *next)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
			continue
		}
		n++
	}
	return n
}

func (s *MemoryStore) getLocked(sessionID string) *inference.PreviousCommand {
	e, ok := s.entries[sessionID]
	if !ok {
		return nil
	}
	if s.expired(e, s.now()) {
		delete(s.entries, sessionID)
		return nil
	}
	return e.rec.command()
}

func (s *MemoryStore) setLocked(sessionID string, cmd inference.PreviousCommand) {
	e := memoryEntry{rec: toRecord(cmd)}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.entries[sessionID] = e
}

func (s *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// lock takes the per-session mutex and returns its release func. Lock
// entries are reference counted and dropped once nobody holds or waits on them.
func (s *MemoryStore) lock(sessionID string) func() {
	s.mu.Lock()
	l := s.locks[sessionID]
	if l == nil {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
