package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps registered naming conventions in a hash and one heartbeat
// key per convention that expires with its TTL.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) heartbeatKey(namingConvention string) string {
	return s.key + ":heartbeat:" + namingConvention
}

func (s *RedisStore) Save(ctx context.Context, e Entry, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key, e.NamingConvention, e.Schema)
		p.Set(ctx, s.heartbeatKey(e.NamingConvention), time.Now().UTC().Format(time.RFC3339), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis register: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, namingConvention string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.heartbeatKey(namingConvention), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("redis heartbeat: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namingConvention string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.key, namingConvention)
		p.Del(ctx, s.heartbeatKey(namingConvention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unregister: %w", err)
	}
	return nil
}

func (s *RedisStore) Expired(ctx context.Context) ([]Entry, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis list registrations: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)

	cmds := make([]*redis.IntCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, n := range names {
			cmds[i] = p.Exists(ctx, s.heartbeatKey(n))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis check heartbeats: %w", err)
	}

	var out []Entry
	for i, n := range names {
		if cmds[i].Val() == 0 {
			out = append(out, Entry{NamingConvention: n, Schema: all[n]})
		}
	}
	return out, nil
}
