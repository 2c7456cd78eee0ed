package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Nil(t, prev)

	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Set(ctx, "arm-1", inference.PreviousCommand{Position: inference.Position{0.1, 0.2, 0.3}, IssuedAt: issued, RequestID: "r1"}))

	prev, err = s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, inference.Position{0.1, 0.2, 0.3}, prev.Position)
	require.Equal(t, "r1", prev.RequestID)
	require.True(t, prev.IssuedAt.Equal(issued))

	_, err = s.Get(ctx, "")
	require.ErrorIs(t, err, ErrEmptySessionID)
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Second)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "arm-1", inference.PreviousCommand{}))
	require.Equal(t, 1, s.Len())

	now = now.Add(2 * time.Second)
	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Nil(t, prev)
	require.Zero(t, s.Len())
}

func TestMemoryStoreUpdateIsExclusivePerSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "arm-1", func(prev *inference.PreviousCommand) (*inference.PreviousCommand, error) {
				next := inference.PreviousCommand{}
				if prev != nil {
					next.Position = prev.Position
				}
				next.Position[0]++
				return &next, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, float64(workers), prev.Position[0])

	s.mu.Lock()
	require.Empty(t, s.locks)
	s.mu.Unlock()
}

func TestMemoryStoreUpdateKeepsStateOnNilOrError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.Set(ctx, "arm-1", inference.PreviousCommand{Position: inference.Position{1, 1, 1}}))

	require.NoError(t, s.Update(ctx, "arm-1", func(*inference.PreviousCommand) (*inference.PreviousCommand, error) {
		return nil, nil
	}))
	boom := errors.New("boom")
	err := s.Update(ctx, "arm-1", func(*inference.PreviousCommand) (*inference.PreviousCommand, error) {
		return &inference.PreviousCommand{}, boom
	})
	require.ErrorIs(t, err, boom)

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, inference.Position{1, 1, 1}, prev.Position)
}

func TestNewSelectsBackend(t *testing.T) {
	st, err := New(config.SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, st)

	_, err = New(config.SessionConfig{Backend: "redis"})
	require.ErrorContains(t, err, "redis_addr")

	_, err = New(config.SessionConfig{Backend: "etcd"})
	require.ErrorContains(t, err, "unknown backend")
}

func newMiniRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "vlaguard:test:", time.Minute)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreUpdateIsExclusivePerSession(t *testing.T) {
	s, _ := newMiniRedisStore(t)
	require.NoError(t, s.Ping(context.Background()))
	concurrentUpdates(t, s)
}

func TestRedisStoreGetSetAndTTL(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	ctx := context.Background()

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Nil(t, prev)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Set(ctx, "arm-1", inference.PreviousCommand{Position: inference.Position{0.1, 0.2, 0.3}, IssuedAt: issued, RequestID: "req-1"}))
	require.Equal(t, time.Minute, mr.TTL("vlaguard:test:arm-1"))

	prev, err = s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, inference.Position{0.1, 0.2, 0.3}, prev.Position)
	require.True(t, issued.Equal(prev.IssuedAt))
	require.Equal(t, "req-1", prev.RequestID)

	mr.FastForward(2 * time.Minute)
	prev, err = s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Nil(t, prev)

	require.ErrorIs(t, s.Set(ctx, "", inference.PreviousCommand{}), ErrEmptySessionID)
}

func TestRedisStoreUpdateRetriesOnConflict(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	ctx := context.Background()
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	calls := 0
	err := s.Update(ctx, "arm-1", func(prev *inference.PreviousCommand) (*inference.PreviousCommand, error) {
		calls++
		if calls == 1 {
			// Another instance writes the session between our read and EXEC.
			require.Nil(t, prev)
			require.NoError(t, other.Set(ctx, "vlaguard:test:arm-1", `{"position":[0.4,0,0]}`, 0).Err())
			return &inference.PreviousCommand{Position: inference.Position{9, 9, 9}}, nil
		}
		require.NotNil(t, prev)
		next := *prev
		next.Position[0] += 0.1
		return &next, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.InDelta(t, 0.5, prev.Position[0], 1e-12)
}

func TestRedisStoreUpdateGivesUpUnderContention(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	ctx := context.Background()
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	calls := 0
	err := s.Update(ctx, "arm-1", func(*inference.PreviousCommand) (*inference.PreviousCommand, error) {
		calls++
		require.NoError(t, other.Set(ctx, "vlaguard:test:arm-1", `{"position":[0,0,0]}`, 0).Err())
		return &inference.PreviousCommand{}, nil
	})
	require.ErrorContains(t, err, "too much contention")
	require.Equal(t, maxTxAttempts, calls)
}

func TestRedisStoreUpdateKeepsStateOnNilOrError(t *testing.T) {
	s, _ := newMiniRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "arm-1", inference.PreviousCommand{Position: inference.Position{1, 1, 1}}))

	require.NoError(t, s.Update(ctx, "arm-1", func(*inference.PreviousCommand) (*inference.PreviousCommand, error) {
		return nil, nil
	}))
	boom := errors.New("boom")
	require.ErrorIs(t, s.Update(ctx, "arm-1", func(*inference.PreviousCommand) (*inference.PreviousCommand, error) {
		return &inference.PreviousCommand{}, boom
	}), boom)

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, inference.Position{1, 1, 1}, prev.Position)
}

func TestRedisStoreDecodeError(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("vlaguard:test:arm-1", "not json"))

	_, err := s.Get(ctx, "arm-1")
	require.ErrorContains(t, err, "decode")

	called := false
	err = s.Update(ctx, "arm-1", func(*inference.PreviousCommand) (*inference.PreviousCommand, error) {
		called = true
		return nil, nil
	})
	require.ErrorContains(t, err, "decode")
	require.False(t, called)
}

func TestRedisStoreReportsUnreachableServer(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "arm-1")
	require.Error(t, err)
	require.Error(t, s.Update(context.Background(), "arm-1", func(p *inference.PreviousCommand) (*inference.PreviousCommand, error) {
		return p, nil
	}))
}

// TestRedisStoreUpdateLive runs against a real redis when VLAGUARD_TEST_REDIS_ADDR is set.
func TestRedisStoreUpdateLive(t *testing.T) {
	addr := os.Getenv("VLAGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VLAGUARD_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(config.SessionConfig{RedisAddr: addr, KeyPrefix: "vlaguard:test:" + t.Name() + ":", TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
	concurrentUpdates(t, s)
}

// concurrentUpdates increments one session from many goroutines and checks
// that no update was lost.
func concurrentUpdates(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, "arm-1", func(prev *inference.PreviousCommand) (*inference.PreviousCommand, error) {
				next := inference.PreviousCommand{}
				if prev != nil {
					next.Position = prev.Position
				}
				next.Position[2] += 0.5
				return &next, nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	prev, err := s.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, float64(workers)*0.5, prev.Position[2])
}
