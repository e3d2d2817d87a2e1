package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"powerfeed/internal/domain"
)

// Connect создаёт клиента Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// releaseScript удаляет ключ, только если он всё ещё хранит токен владельца.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock реализует domain.RunLock через SET NX с TTL.
type RedisLock struct {
	client redis.UniversalClient
}

// NewRedisLock создаёт блокировку поверх клиента.
func NewRedisLock(client redis.UniversalClient) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire захватывает ключ на ttl. Занятый ключ даёт domain.ErrLockHeld.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.ReleaseFunc, error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("захват блокировки %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("освобождение блокировки %s: %w", key, err)
		}
		return nil
	}, nil
}

func lockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("токен блокировки: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
