package redis_wrapper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	ConnectionURL       string `yaml:"connection_url"`
	PoolSize            int    `yaml:"pool_size"`
	DialTimeoutSeconds  int    `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
	// tick snapshots
	TickPrefix     string `yaml:"tick_prefix"`
	TickTTLSeconds int    `yaml:"tick_ttl_seconds"`
}

func (c *RedisConfig) TickTTL() time.Duration {
	return time.Duration(c.TickTTLSeconds) * time.Second
}

// InitRedis connects and pings. A zero timeout keeps the go-redis default.
func InitRedis(ctx context.Context, redisCfg *RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisCfg.ConnectionURL)
	if err != nil {
		zap.S().Debugf("parse redis url fail: %+v", err)
		return nil, err
	}

	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}
	setSeconds(&opts.DialTimeout, redisCfg.DialTimeoutSeconds)
	setSeconds(&opts.ReadTimeout, redisCfg.ReadTimeoutSeconds)
	setSeconds(&opts.WriteTimeout, redisCfg.WriteTimeoutSeconds)
	setSeconds(&opts.ConnMaxIdleTime, redisCfg.IdleTimeoutSeconds)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	zap.S().Debugf("connected to redis %s", opts.Addr)
	return client, nil
}

func setSeconds(d *time.Duration, seconds int) {
	if seconds > 0 {
		*d = time.Duration(seconds) * time.Second
	}
}
