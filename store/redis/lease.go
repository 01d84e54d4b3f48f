package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conductkit/conduct/id"
)

// Throttle leases live in one Sorted Set per key: members are lease
// grant IDs, scores are expiry times in unix nanoseconds. Expired
// members are pruned before every count so a crashed holder frees its
// slot after the TTL.

// acquireScript prunes expired leases, counts the survivors, and adds a
// new grant only while the count is below the limit — one atomic step,
// so concurrent acquirers can never both slip under the limit.
//
// KEYS[1] = lease sorted set
// ARGV[1] = now (unix ns), ARGV[2] = limit, ARGV[3] = expiry score,
// ARGV[4] = grant ID
var acquireScript = goredis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
return 1
`)

// TryAcquire attempts to take one lease on key. It returns true when
// fewer than limit unexpired leases are held.
func (s *Store) TryAcquire(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	now := time.Now()
	granted, err := acquireScript.Run(ctx, s.client,
		[]string{leaseKey(key)},
		now.UnixNano(),
		limit,
		now.Add(ttl).UnixNano(),
		id.NewLeaseID().String(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("conduct/redis: lease acquire: %w", err)
	}
	return granted == 1, nil
}

// Release gives back one lease on key: the earliest-expiring grant is
// dropped. Returns false if no lease was held.
func (s *Store) Release(ctx context.Context, key string) (bool, error) {
	popped, err := s.client.ZPopMin(ctx, leaseKey(key), 1).Result()
	if err != nil {
		return false, fmt.Errorf("conduct/redis: lease release: %w", err)
	}
	return len(popped) > 0, nil
}

// Available reports whether Redis is reachable; throttles degrade to
// no-ops when it is not.
func (s *Store) Available(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
