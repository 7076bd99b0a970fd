package ingest

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"meuwsic/logger"
	"meuwsic/repository"

	"github.com/minio/minio-go/v7"
)

// RetryPolicy 指数退避重试
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy 3 次，500ms 起步，最长 5s
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// withRetry 每次尝试单独计时 timeout；retryable 返回 false 时立即放弃
func withRetry(ctx context.Context, p RetryPolicy, timeout time.Duration, op string,
	fn func(ctx context.Context) error, retryable func(error) bool) error {

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = runWithTimeout(ctx, timeout, fn)
		if lastErr == nil {
			return nil
		}
		// 调用方取消了就不再重试
		if ctx.Err() != nil || !retryable(lastErr) || attempt == attempts-1 {
			break
		}

		delay := backoff(p, attempt)
		logger.Warn("ingest step failed, retrying",
			logger.String("op", op),
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.ErrorField(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

// backoff 基础延迟翻倍，上限 MaxDelay，再加 ±25% 抖动
func backoff(p RetryPolicy, attempt int) time.Duration {
	delay := p.InitialDelay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(delay/2)+1)) - delay/4
	if delay+jitter < 0 {
		return delay
	}
	return delay + jitter
}

// storageRetryable 4xx（除 408/429）是请求本身的问题，重试没有意义
func storageRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// catalogRetryable 唯一键冲突重试也不会成功
func catalogRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, repository.ErrDuplicate)
}
