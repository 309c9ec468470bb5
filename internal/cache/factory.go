package cache

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // "file", "sqlite" or "redis"
	Path    string // file or sqlite database path
	Prefix  string // redis key prefix
}

// NewPersister builds the persistence medium named by cfg.Backend.
func NewPersister(cfg Config, redisClient *redis.Client) (Persister, error) {
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis backend requires a client")
		}
		return NewRedisPersister(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	case "sqlite":
		return NewSQLitePersister(cfg.Path)
	case "file", "":
		return NewFilePersister(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
