package rpcclient

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/chain-master/internal/metrics"
)

var errCannotReserve = errors.New("rpcclient: cannot reserve rate limit token")

// RateLimitedClient wraps a Client with a token-bucket rate limiter at the
// RPC boundary and records outcome-classified call metrics.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
	chain   string
}

// NewRateLimitedClient wraps inner with a limiter that allows rps requests
// per second with a burst capacity of burst tokens.
func NewRateLimitedClient(inner Client, rps float64, burst int, chain string) *RateLimitedClient {
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		chain:   chain,
	}
}

// HeadBlock waits for the rate limiter before delegating to inner.
func (c *RateLimitedClient) HeadBlock(ctx context.Context, chain string) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	block, err := c.inner.HeadBlock(ctx, chain)
	metrics.RPCCallsTotal.WithLabelValues(chain, "HeadBlock", ClassifyRPCError(err)).Inc()
	return block, err
}

// wait blocks until the limiter allows one event, or ctx is done. It uses
// Reserve() rather than Wait() to guarantee exactly one token is consumed
// per call and to record a metric whenever a call actually had to wait.
func (c *RateLimitedClient) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return errCannotReserve
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	metrics.RPCRateLimitWaits.WithLabelValues(c.chain).Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// ClassifyRPCError classifies an RPC error into a coarse status bucket for
// the calls-total metric's label cardinality.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server error"):
		return "server_error"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
