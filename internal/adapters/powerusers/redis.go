package powerusers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// DefaultKey: ключ множества power-пользователей.
const DefaultKey = "powerfeed:power_users"

const addChunk = 1000

// RedisSet хранит снимок power-пользователей в Redis set.
// Рядом лежит ключ <key>:fetched_at с моментом синхронизации в unix-секундах.
type RedisSet struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSet создаёт хранилище снимка.
func NewRedisSet(client redis.UniversalClient, key string) *RedisSet {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSet{client: client, key: key}
}

func (s *RedisSet) fetchedAtKey() string { return s.key + ":fetched_at" }
func (s *RedisSet) stagingKey() string   { return s.key + ":staging" }

// Snapshot читает текущий снимок. Отсутствие ключей даёт пустой снимок без ошибки.
func (s *RedisSet) Snapshot(ctx context.Context) (snapshot domain.PowerUserSnapshot, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "power_users_snapshot", s.key, start, err) }()

	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return domain.PowerUserSnapshot{}, fmt.Errorf("чтение power-пользователей: %w", err)
	}
	fids := make(map[int64]struct{}, len(members))
	for _, m := range members {
		fid, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil {
			continue
		}
		fids[fid] = struct{}{}
	}

	var fetchedAt time.Time
	unix, err := s.client.Get(ctx, s.fetchedAtKey()).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		err = nil
	case err != nil:
		return domain.PowerUserSnapshot{}, fmt.Errorf("чтение времени снимка: %w", err)
	default:
		fetchedAt = time.Unix(unix, 0).UTC()
	}
	return domain.PowerUserSnapshot{Fids: fids, FetchedAt: fetchedAt}, nil
}

// Replace атомарно заменяет снимок: набирает staging-ключ и переименовывает его в MULTI/EXEC.
func (s *RedisSet) Replace(ctx context.Context, fids []int64, fetchedAt time.Time) (err error) {
	if len(fids) == 0 {
		return errors.New("power users: refusing to replace snapshot with empty set")
	}
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "power_users_replace", s.key, start, err) }()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.stagingKey())
		for i := 0; i < len(fids); i += addChunk {
			end := min(i+addChunk, len(fids))
			members := make([]any, 0, end-i)
			for _, fid := range fids[i:end] {
				members = append(members, strconv.FormatInt(fid, 10))
			}
			pipe.SAdd(ctx, s.stagingKey(), members...)
		}
		pipe.Rename(ctx, s.stagingKey(), s.key)
		pipe.Set(ctx, s.fetchedAtKey(), fetchedAt.UTC().Unix(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("замена power-пользователей: %w", err)
	}
	return nil
}

var _ domain.PowerUserSet = (*RedisSet)(nil)
