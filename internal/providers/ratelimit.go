package providers

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously at perMinute tokens
// per minute, holding at most perMinute tokens.
type RateLimiter struct {
	mu sync.Mutex

	perMinute  int
	tokens     float64
	lastUpdate time.Time

	consumed int64
	waited   time.Duration
}

// NewRateLimiter creates a limiter. perMinute <= 0 means 60.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perMinute:  perMinute,
		tokens:     float64(perMinute),
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		}
		wait := r.untilNext()
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += wait
			r.mu.Unlock()
		}
	}
}

// Drain empties the bucket, e.g. after the server answered 429.
func (r *RateLimiter) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	r.tokens = 0
}

// Stats reports tokens consumed and total time spent waiting.
func (r *RateLimiter) Stats() (consumed int64, waited time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed, r.waited
}

// untilNext must be called with the lock held.
func (r *RateLimiter) untilNext() time.Duration {
	perSecond := float64(r.perMinute) / 60.0
	d := time.Duration((1 - r.tokens) / perSecond * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// refill must be called with the lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * float64(r.perMinute) / 60.0
	if r.tokens > float64(r.perMinute) {
		r.tokens = float64(r.perMinute)
	}
}

// limitedLLM gates an LLMClient behind a RateLimiter.
type limitedLLM struct {
	LLMClient
	rl *RateLimiter
}

// LimitLLM wraps client so every Chat first takes a token from rl.
func LimitLLM(client LLMClient, rl *RateLimiter) LLMClient {
	if rl == nil {
		return client
	}
	return &limitedLLM{LLMClient: client, rl: rl}
}

// Close closes the wrapped client if it holds resources.
func (l *limitedLLM) Close() error {
	if c, ok := l.LLMClient.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *limitedLLM) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := l.rl.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := l.LLMClient.Chat(ctx, req)
	if isRateLimited(err) {
		l.rl.Drain()
	}
	return res, err
}

// limitedOCR gates an OCRProvider behind a RateLimiter.
type limitedOCR struct {
	OCRProvider
	rl *RateLimiter
}

// LimitOCR wraps provider so every Recognize first takes a token from rl.
func LimitOCR(provider OCRProvider, rl *RateLimiter) OCRProvider {
	if rl == nil {
		return provider
	}
	return &limitedOCR{OCRProvider: provider, rl: rl}
}

func (l *limitedOCR) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	if err := l.rl.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := l.OCRProvider.Recognize(ctx, image)
	if isRateLimited(err) {
		l.rl.Drain()
	}
	return res, err
}

func isRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
