package searchcluster

import (
	"context"
	"log/slog"

	"github.com/emperorhan/chain-master/internal/circuitbreaker"
)

// CircuitBreakerClient wraps a Client, tripping a breaker on repeated
// WriteMissedBlocksDoc failures so a cluster outage doesn't pile up
// goroutines retrying a write nobody reads synchronously.
type CircuitBreakerClient struct {
	inner  Client
	breaker *circuitbreaker.Breaker
	logger *slog.Logger
}

// NewCircuitBreakerClient wraps inner with a breaker configured by cfg.
func NewCircuitBreakerClient(inner Client, cfg circuitbreaker.Config, logger *slog.Logger) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		inner:   inner,
		breaker: circuitbreaker.New(cfg),
		logger:  logger.With("component", "searchcluster"),
	}
}

func (c *CircuitBreakerClient) LastIndexedBlock(ctx context.Context, chain string) (uint64, bool, error) {
	return c.inner.LastIndexedBlock(ctx, chain)
}

func (c *CircuitBreakerClient) LastIndexedABIBlock(ctx context.Context, chain string) (uint64, bool, error) {
	return c.inner.LastIndexedABIBlock(ctx, chain)
}

func (c *CircuitBreakerClient) ProbeIndexedBlock(ctx context.Context, chain string, lo, hi uint64) (uint64, bool, error) {
	return c.inner.ProbeIndexedBlock(ctx, chain, lo, hi)
}

func (c *CircuitBreakerClient) InstallUpdateByBlockScript(ctx context.Context) error {
	return c.inner.InstallUpdateByBlockScript(ctx)
}

// WriteMissedBlocksDoc is the only operation gated by the breaker: it is a
// fire-and-forget write whose failures are otherwise silently dropped, so a
// cluster that has gone away would otherwise be retried on every missed
// round forever.
func (c *CircuitBreakerClient) WriteMissedBlocksDoc(ctx context.Context, doc MissedBlocksDoc) error {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Debug("missed-blocks write skipped, breaker open", "chain", doc.Chain)
		return err
	}

	err := c.inner.WriteMissedBlocksDoc(ctx, doc)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}
