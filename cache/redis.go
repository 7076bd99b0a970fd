package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "meuwsic:session:"

// SessionStore 管理员会话登记表。JWT 本身无状态，登出/吊销依赖这里
type SessionStore interface {
	Save(ctx context.Context, id, email string, ttl time.Duration) error
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// RedisSessionStore 基于 Redis 的会话登记，key 随 TTL 过期
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore 创建会话登记表
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisSessionStore) Save(ctx context.Context, id, email string, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionKey(id), email, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get session: %w", err)
	}
	return true, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
