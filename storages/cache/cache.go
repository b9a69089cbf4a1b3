package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/mjytdlp/mjytdlp/storages"
)

// Storage keeps opaque byte values for a limited time. A miss is reported
// with found=false and a nil error.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// New picks the backend named by storageType.
func New(storageType string, rdb *redis.Client, clock clockwork.Clock) (Storage, error) {
	switch storageType {
	case storages.InMemoryStorageType, "":
		return NewInMemory(clock), nil
	case storages.RedisStorageType:
		if rdb == nil {
			return nil, errors.New("redis cache requires a redis client")
		}
		return NewRedisStorage(rdb), nil
	case storages.NoneStorageType:
		return None{}, nil
	default:
		return nil, errors.Newf("unknown cache storage type %q", storageType)
	}
}

// None never stores anything.
type None struct{}

func (None) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (None) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (None) Delete(context.Context, string) error {
	return nil
}
