package db

import (
	"context"
	"fmt"
	"time"

	"meuwsic/config"

	"github.com/go-redis/redis/v8"
)

// ConnectRedis 创建 Redis 客户端并 Ping 一次
func ConnectRedis(cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
