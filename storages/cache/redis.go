package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mjytdlp/mjytdlp/utils"
)

const (
	Prefix = "mjytdlp:cache:"
)

type redisEntry struct {
	Value    []byte `msgpack:"v"`
	StoredAt int64  `msgpack:"t"`
}

type Redis struct {
	rdb *redis.Client
}

func NewRedisStorage(rdb *redis.Client) *Redis {
	return &Redis{
		rdb: rdb,
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, r.getKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read cache entry")
	}

	var e redisEntry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		// a corrupt entry is a miss; drop it so the next Set replaces it
		log.WithError(err).Warning("Failed to decode cache entry from redis")
		r.rdb.Del(ctx, r.getKey(key))
		return nil, false, nil
	}

	return e.Value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := msgpack.Marshal(&redisEntry{
		Value:    value,
		StoredAt: time.Now().Unix(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}

	if err := r.rdb.Set(ctx, r.getKey(key), raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to write cache entry")
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Wrap(r.rdb.Del(ctx, r.getKey(key)).Err(), "failed to delete cache entry")
}

func (r *Redis) getKey(key string) string {
	return Prefix + utils.SecureKey(key)
}
