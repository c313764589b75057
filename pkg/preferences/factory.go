package preferences

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StoreConfig contains configuration for creating a preferences store
type StoreConfig struct {
	// DataDir is required for file stores
	DataDir string
	// RedisAddr is required for redis stores
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// RedisPrefix is prepended to every key, e.g. "phone-login:<app id>:"
	RedisPrefix string
}

// NewStore creates a preferences store based on the persistence type
func NewStore(persistenceType string, config StoreConfig) (Store, error) {
	switch persistenceType {
	case "memory", "inmem":
		return NewMemoryStore(), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file store")
		}
		return NewFileStore(config.DataDir)
	case "redis":
		if config.RedisAddr == "" {
			return nil, fmt.Errorf("redis address required for redis store")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		return NewRedisStore(rdb, config.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: memory, file, redis)", persistenceType)
	}
}
