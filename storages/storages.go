package storages

const (
	InMemoryStorageType = "inmemory"
	RedisStorageType    = "redis"
	NoneStorageType     = "none"
)
