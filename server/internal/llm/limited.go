package llm

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// LimitedClient 在下游客户端外加令牌桶限速，并对 429/5xx 做有限次退避重试。
type LimitedClient struct {
	next       Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *log.Logger
}

// NewLimitedClient 创建限速客户端，rps 为每秒请求数。
func NewLimitedClient(next Client, rps float64, burst int) *LimitedClient {
	if burst < 1 {
		burst = 1
	}
	return &LimitedClient{
		next:       next,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
		logger:     log.Default(),
	}
}

// Complete 等待令牌后调用下游；可重试错误按指数退避重试。
func (c *LimitedClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		out, err := c.next.Complete(ctx, messages, schema)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.maxRetries {
			break
		}
		c.logger.Printf("[LLM] ⚠️ retryable error (attempt %d): %v, sleeping %v", attempt+1, err, delay)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.StatusCode()
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}
