package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
)

func NewRedisClient(ctx context.Context, addr, username, password string, pool config.RedisPool) (*redis.Client, error) {
	rdb := redis.NewClient(clientOptions(addr, username, password, pool))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return rdb, nil
}

// clientOptions leaves zero pool fields to the go-redis defaults.
func clientOptions(addr, username, password string, pool config.RedisPool) *redis.Options {
	return &redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		ReadTimeout:  pool.IOTimeout,
		WriteTimeout: pool.IOTimeout,
		PoolSize:     pool.PoolSize,
		MinIdleConns: pool.MinIdleConns,
	}
}
