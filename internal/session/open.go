package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/respawn-arena/arena_auth/internal/infra"
)

// OpenKV selects a KV backend from dsn:
//
//	memory:                   process lifetime only
//	redis://host:6379/0       go-redis
//	postgres://user@host/db   pgx pool
//	sqlite:///path/state.db   SQLite file (a bare path works too)
func OpenKV(ctx context.Context, dsn, namespace string) (KV, error) {
	switch {
	case dsn == "" || dsn == "memory:":
		return NewMemoryKV(), nil
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		client, err := infra.NewRedisClient(ctx, dsn, namespace)
		if err != nil {
			return nil, err
		}
		return NewRedisKV(client, namespace, true), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := infra.NewPostgresPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		kv, err := NewPostgresKV(ctx, pool, namespace)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return kv, nil
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		db, err := infra.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		kv, err := NewSQLiteKV(ctx, db, namespace)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open sqlite state: %w", err)
		}
		return kv, nil
	}
}
