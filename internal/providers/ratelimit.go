package providers

import (
	"context"
	"sync"
	"time"

	"github.com/jackzampolin/tabextract/internal/prompts"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	// Configuration
	perSecond float64
	burst     float64

	// Token bucket state
	tokens     float64
	lastUpdate time.Time

	// Statistics
	totalConsumed int64
	totalWaited   time.Duration
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	PerSecond       float64       `json:"per_second"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
}

// NewRateLimiter creates a limiter allowing perSecond requests with a burst
// of one second's worth of tokens.
func NewRateLimiter(perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := perSecond
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perSecond:  perSecond,
		burst:      burst,
		tokens:     burst,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		waitTime := time.Duration((1.0 - r.tokens) / r.perSecond * float64(time.Second))
		r.mu.Unlock()

		// Wait outside lock
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			r.mu.Lock()
			r.totalWaited += waitTime
			r.mu.Unlock()
		}
	}
}

// TryConsume attempts to consume a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1.0 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		PerSecond:       r.perSecond,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
	}
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * r.perSecond
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
}

// limitedClient throttles Invoke calls through a shared limiter.
type limitedClient struct {
	LLMClient
	limiter *RateLimiter
}

// WithRateLimit wraps client so calls are spaced to at most perSecond.
// A non-positive rate returns client unchanged.
func WithRateLimit(client LLMClient, perSecond float64) LLMClient {
	if perSecond <= 0 {
		return client
	}
	return &limitedClient{LLMClient: client, limiter: NewRateLimiter(perSecond)}
}

func (c *limitedClient) Invoke(ctx context.Context, req *prompts.Request) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(c.Name(), 0, err)
	}
	return c.LLMClient.Invoke(ctx, req)
}

// HealthCheck forwards to the wrapped client when it supports health checks.
func (c *limitedClient) HealthCheck(ctx context.Context) error {
	if hc, ok := c.LLMClient.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
