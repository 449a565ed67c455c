package config

import (
	"os"
	"strconv"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// GetRedisConfig resolves Redis settings, letting environment variables
// override the config file. An empty Addr disables snapshot publishing.
func GetRedisConfig() RedisConfig {
	cfg := RedisConfig{Stream: "zone_snapshots"}
	if instance != nil {
		cfg.Addr = instance.Redis.Addr
		cfg.Password = instance.Redis.Password
		cfg.DB = instance.Redis.DB
		if instance.Redis.Stream != "" {
			cfg.Stream = instance.Redis.Stream
		}
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsed, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = parsed
		}
	}
	if stream := os.Getenv("REDIS_STREAM"); stream != "" {
		cfg.Stream = stream
	}

	return cfg
}
