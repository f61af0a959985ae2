package config

import "github.com/spf13/viper"

const (
	storageDriverKey = "storage.driver"
	storagePathKey   = "storage.path"
	redisAddrKey     = "storage.redis.addr"
	redisPasswordKey = "storage.redis.password"
	redisDBKey       = "storage.redis.db"
	redisPrefixKey   = "storage.redis.prefix"
)

// Supported persistence drivers
const (
	StorageDriverFile   = "file"
	StorageDriverRedis  = "redis"
	StorageDriverMemory = "memory"
)

type StorageConfig interface {
	GetStorageDriver() string
	GetStoragePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Storage struct {
	v *viper.Viper
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageDriver() string {
	return s.v.GetString(storageDriverKey)
}

func (s Storage) GetStoragePath() string {
	return s.v.GetString(storagePathKey)
}

func (s Storage) GetRedisAddr() string {
	return s.v.GetString(redisAddrKey)
}

func (s Storage) GetRedisPassword() string {
	return s.v.GetString(redisPasswordKey)
}

func (s Storage) GetRedisDB() int {
	return s.v.GetInt(redisDBKey)
}

func (s Storage) GetRedisPrefix() string {
	return s.v.GetString(redisPrefixKey)
}
