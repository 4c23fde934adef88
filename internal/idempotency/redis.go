package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore records processed ids as keys with a TTL.
type RedisStore struct {
	cli    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(cli *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{cli: cli, ttl: ttl, prefix: "idempotency"}
}

func (s *RedisStore) key(group, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, group, id)
}

func (s *RedisStore) Seen(ctx context.Context, group, eventID string) (Outcome, bool, error) {
	raw, err := s.cli.Get(ctx, s.key(group, eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("redis get: %w", err)
	}
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		// a corrupt record still proves the id was processed
		return Outcome{Status: "processed"}, true, nil
	}
	return o, true, nil
}

// MarkSeen keeps the first recorded outcome when two workers race on one id.
func (s *RedisStore) MarkSeen(ctx context.Context, group, eventID string, o Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := s.cli.SetNX(ctx, s.key(group, eventID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}
