package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps a period's hash around for one extra month of usage reporting
const counterTTL = 62 * 24 * time.Hour

// Each script runs atomically on the server, so check-and-increment cannot interleave.
var (
	reserveScript = redis.NewScript(`
local committed = tonumber(redis.call('HGET', KEYS[1], 'committed') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local limit = tonumber(ARGV[1])
if limit > 0 and committed + reserved >= limit then
	return {0, committed, reserved}
end
reserved = redis.call('HINCRBY', KEYS[1], 'reserved', 1)
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, committed, reserved}
`)

	commitScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if reserved <= 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'reserved', -1)
redis.call('HINCRBY', KEYS[1], 'committed', 1)
return 1
`)

	releaseScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if reserved <= 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'reserved', -1)
return 1
`)
)

// RedisStore keeps counters in one Redis hash per requester and period
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "quota:"}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.String()
}

func (s *RedisStore) Reserve(ctx context.Context, key Key, limit int) (Counters, error) {
	res, err := reserveScript.Run(ctx, s.client, []string{s.key(key)}, limit, int(counterTTL.Seconds())).Slice()
	if err != nil {
		return Counters{}, fmt.Errorf("reserve script: %w", err)
	}
	if len(res) != 3 {
		return Counters{}, fmt.Errorf("reserve script returned %d values", len(res))
	}

	counters := Counters{Committed: toInt(res[1]), Reserved: toInt(res[2])}
	if toInt(res[0]) == 0 {
		return counters, ErrQuotaExceeded
	}
	return counters, nil
}

func (s *RedisStore) Commit(ctx context.Context, key Key) error {
	return s.resolve(ctx, commitScript, key)
}

func (s *RedisStore) Release(ctx context.Context, key Key) error {
	return s.resolve(ctx, releaseScript, key)
}

func (s *RedisStore) resolve(ctx context.Context, script *redis.Script, key Key) error {
	n, err := script.Run(ctx, s.client, []string{s.key(key)}).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoOutstandingReservation
	}
	return nil
}

func (s *RedisStore) Counters(ctx context.Context, key Key) (Counters, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), "committed", "reserved").Result()
	if err != nil {
		return Counters{}, err
	}
	return Counters{Committed: toInt(vals[0]), Reserved: toInt(vals[1])}, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
