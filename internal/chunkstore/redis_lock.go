package chunkstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// redisDistributedLock implements DistributedLock over Redis, adapted
// from the teacher's internal/cache/redis.DistributedLock: SETNX to
// acquire, a Lua script to release/extend only if the caller still
// holds the token. Used to serialize open_chunk_writer across more
// than one ndnd process sharing a chunk store.
type redisDistributedLock struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisDistributedLock wires a Redis client as the chunk store's
// cross-process writer lock.
func NewRedisDistributedLock(client *redis.Client, logger zerolog.Logger) DistributedLock {
	return &redisDistributedLock{client: client, prefix: "ndncore:chunkwriter:", logger: logger}
}

func (l *redisDistributedLock) Lock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lockKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return "", ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: redis lock", err)
	}
	if !ok {
		return "", ndnerr.Wrap(ndnerr.ErrConflict, "chunkstore: chunk writer already held elsewhere", nil)
	}

	l.logger.Debug().Str("key", key).Msg("distributed chunk writer lock acquired")
	return token, nil
}

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

func (l *redisDistributedLock) Unlock(ctx context.Context, key, token string) error {
	lockKey := l.prefix + key
	result, err := l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Int64()
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrIoError, "chunkstore: redis unlock", err)
	}
	if result == 0 {
		return ndnerr.Wrap(ndnerr.ErrConflict, "chunkstore: lock not owned", nil)
	}
	l.logger.Debug().Str("key", key).Msg("distributed chunk writer lock released")
	return nil
}

var _ DistributedLock = (*redisDistributedLock)(nil)
