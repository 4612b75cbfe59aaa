package session

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores client state in Redis under a per-installation namespace.
type RedisKV struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisKV wraps client. When owned is true Close also closes the client.
func NewRedisKV(client *redis.Client, namespace string, owned bool) *RedisKV {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisKV{client: client, prefix: "arena:client:" + namespace + ":", owned: owned}
}

func (r *RedisKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (r *RedisKV) Update(ctx context.Context, set map[string]string, remove []string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range remove {
			p.Del(ctx, r.prefix+k)
		}
		for k, v := range set {
			p.Set(ctx, r.prefix+k, v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis update: %w", err)
	}
	return nil
}

func (r *RedisKV) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
