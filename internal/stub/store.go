package stub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Challenge is the server side of an OTP: the code itself never leaves
// the backend except through the notifier.
type Challenge struct {
	Code      string
	ExpiresAt time.Time
	Attempts  int
}

// CodeStore keeps at most one live challenge per phone.
type CodeStore interface {
	// Put replaces any earlier challenge for phone.
	Put(ctx context.Context, phone string, c Challenge) error
	Get(ctx context.Context, phone string) (Challenge, bool, error)
	// Fail spends one attempt and returns how many are left.
	Fail(ctx context.Context, phone string) (int, error)
	Delete(ctx context.Context, phone string) error
}

// Revocations remembers logged-out token ids.
type Revocations interface {
	Revoke(ctx context.Context, id string, until time.Time) error
	Revoked(ctx context.Context, id string) (bool, error)
}

type memoryCodes struct {
	mu    sync.Mutex
	codes map[string]Challenge
}

func NewMemoryCodeStore() CodeStore {
	return &memoryCodes{codes: make(map[string]Challenge)}
}

func (m *memoryCodes) Put(_ context.Context, phone string, c Challenge) error {
	m.mu.Lock()
	m.codes[phone] = c
	m.mu.Unlock()
	return nil
}

func (m *memoryCodes) Get(_ context.Context, phone string) (Challenge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[phone]
	return c, ok, nil
}

func (m *memoryCodes) Fail(_ context.Context, phone string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[phone]
	if !ok {
		return 0, nil
	}
	c.Attempts--
	m.codes[phone] = c
	return c.Attempts, nil
}

func (m *memoryCodes) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	delete(m.codes, phone)
	m.mu.Unlock()
	return nil
}

type memoryRevocations struct {
	mu  sync.Mutex
	ids map[string]time.Time
	now func() time.Time
}

func NewMemoryRevocations() Revocations {
	return &memoryRevocations{ids: make(map[string]time.Time), now: time.Now}
}

func (m *memoryRevocations) Revoke(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.ids {
		if !exp.After(now) {
			delete(m.ids, k)
		}
	}
	m.ids[id] = until
	return nil
}

func (m *memoryRevocations) Revoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.ids[id]
	return ok && until.After(m.now()), nil
}

const (
	otpKeyPrefix     = "arena:stub:otp:"
	revokedKeyPrefix = "arena:stub:revoked:"
)

// RedisCodeStore shares challenges between stub replicas.
type RedisCodeStore struct {
	cache *redis.Client
}

func NewRedisCodeStore(cache *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{cache: cache}
}

func (r *RedisCodeStore) Put(ctx context.Context, phone string, c Challenge) error {
	key := otpKeyPrefix + phone
	_, err := r.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "code", c.Code, "expires_at", c.ExpiresAt.UnixMilli(), "attempts", c.Attempts)
		pipe.PExpireAt(ctx, key, c.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return nil
}

func (r *RedisCodeStore) Get(ctx context.Context, phone string) (Challenge, bool, error) {
	fields, err := r.cache.HGetAll(ctx, otpKeyPrefix+phone).Result()
	if err != nil {
		return Challenge{}, false, fmt.Errorf("load otp: %w", err)
	}
	if len(fields) == 0 {
		return Challenge{}, false, nil
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return Challenge{}, false, fmt.Errorf("otp expiry: %w", err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return Challenge{}, false, fmt.Errorf("otp attempts: %w", err)
	}
	return Challenge{Code: fields["code"], ExpiresAt: time.UnixMilli(expires), Attempts: attempts}, true, nil
}

func (r *RedisCodeStore) Fail(ctx context.Context, phone string) (int, error) {
	key := otpKeyPrefix + phone
	n, err := r.cache.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	left, err := r.cache.HIncrBy(ctx, key, "attempts", -1).Result()
	if err != nil {
		return 0, err
	}
	return int(left), nil
}

func (r *RedisCodeStore) Delete(ctx context.Context, phone string) error {
	return r.cache.Del(ctx, otpKeyPrefix+phone).Err()
}

// RedisRevocations stores revoked token ids with a TTL matching the token.
type RedisRevocations struct {
	cache *redis.Client
}

func NewRedisRevocations(cache *redis.Client) *RedisRevocations {
	return &RedisRevocations{cache: cache}
}

func (r *RedisRevocations) Revoke(ctx context.Context, id string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.cache.Set(ctx, revokedKeyPrefix+id, "1", ttl).Err()
}

func (r *RedisRevocations) Revoked(ctx context.Context, id string) (bool, error) {
	err := r.cache.Get(ctx, revokedKeyPrefix+id).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}
