package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Limiter 按 key 限流
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// tokenBucketScript 原子地补充并消耗一个令牌
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local tokens_to_add = math.floor(((now - last_refill) / window) * refill_rate)
if tokens_to_add > 0 then
	tokens = math.min(capacity, tokens + tokens_to_add)
	last_refill = now
end

local allowed = 0
if tokens > 0 then
	tokens = tokens - 1
	allowed = 1
end
redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('EXPIRE', key, window * 2)
return allowed
`)

// TokenBucket Redis 令牌桶，多实例共享配额
type TokenBucket struct {
	client   *redis.Client
	capacity int64
	refill   int64 // 每个 window 补充的令牌数
	window   time.Duration
	now      func() time.Time
}

// NewTokenBucket 容量 capacity，每分钟补充 refillPerMinute 个
func NewTokenBucket(client *redis.Client, capacity, refillPerMinute int64) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerMinute,
		window:   time.Minute,
		now:      time.Now,
	}
}

func (tb *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	result, err := tokenBucketScript.Run(ctx, tb.client, []string{"meuwsic:rate_limit:" + key},
		tb.capacity, tb.refill, int64(tb.window.Seconds()), tb.now().Unix()).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type %T from rate limit script", result)
	}
	return allowed == 1, nil
}

// LocalLimiter 进程内限流，没有 Redis 时使用
type LocalLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localEntry
	limit     rate.Limit
	burst     int
	idle      time.Duration // 闲置超过该时长的 key 被清理
	lastSweep time.Time
	now       func() time.Time
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter 与 TokenBucket 参数含义相同
func NewLocalLimiter(capacity, refillPerMinute int) *LocalLimiter {
	limit := rate.Limit(float64(refillPerMinute) / 60)
	// 闲置到令牌补满后，清掉与新建一个限流器等价
	idle := time.Hour
	if limit > 0 {
		idle = max(time.Duration(float64(capacity)/float64(limit)*float64(time.Second)), time.Minute)
	}
	return &LocalLimiter{
		limiters: make(map[string]*localEntry),
		limit:    limit,
		burst:    capacity,
		idle:     idle,
		now:      time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &localEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1), nil
}

// Len 当前跟踪的 key 数
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *LocalLimiter) sweep(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) >= l.idle {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}
