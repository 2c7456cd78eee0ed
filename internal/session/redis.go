package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
)

// maxTxAttempts bounds optimistic-transaction retries on a contended session.
const maxTxAttempts = 16

// RedisStore keeps session state in redis so several gateway instances agree
// on each session's last released position.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore dials redis using the sessions config section.
func NewRedisStore(cfg config.SessionConfig) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("session: redis_addr is required")
	}
	opts := &redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}
	if cfg.PasswordEnv != "" {
		opts.Password = os.Getenv(cfg.PasswordEnv)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*inference.PreviousCommand, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	return readCommand(ctx, s.client, s.key(sessionID))
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, cmd inference.PreviousCommand) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	data, err := json.Marshal(toRecord(cmd))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: set %s: %w", sessionID, err)
	}
	return nil
}

// Update uses WATCH/MULTI so a concurrent writer on the same session forces a
// retry with the fresh value instead of a lost update.
func (s *RedisStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	key := s.key(sessionID)

	txf := func(tx *redis.Tx) error {
		prev, err := readCommand(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(prev)
		if err != nil || next == nil {
			return err
		}
		data, err := json.Marshal(toRecord(*next))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("session: update %s: too much contention", sessionID)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readCommand(ctx context.Context, c getter, key string) (*inference.PreviousCommand, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", key, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return rec.command(), nil
}
