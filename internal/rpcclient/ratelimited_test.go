package rpcclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedClient_DelegatesToInner(t *testing.T) {
	fake := NewFakeClient(map[string]uint64{"ethereum": 1000})
	client := NewRateLimitedClient(fake, 1000, 10, "ethereum")

	block, err := client.HeadBlock(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), block)
	assert.Equal(t, 1, fake.Calls)
}

func TestRateLimitedClient_PropagatesInnerError(t *testing.T) {
	fake := NewFakeClient(nil)
	fake.Err = errors.New("connection refused")
	client := NewRateLimitedClient(fake, 1000, 10, "ethereum")

	_, err := client.HeadBlock(context.Background(), "ethereum")
	require.Error(t, err)
}

func TestRateLimitedClient_ContextCancellationDuringWait(t *testing.T) {
	fake := NewFakeClient(map[string]uint64{"ethereum": 1})
	// Burst of 1 and a very low rate forces the second call to wait.
	client := NewRateLimitedClient(fake, 0.001, 1, "ethereum")

	_, err := client.HeadBlock(context.Background(), "ethereum")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = client.HeadBlock(ctx, "ethereum")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "ok"},
		{"timeout", errors.New("context deadline exceeded"), "timeout"},
		{"rate limited", errors.New("429 too many requests"), "rate_limited"},
		{"server error", errors.New("502 bad gateway"), "server_error"},
		{"network error", errors.New("connection refused"), "network_error"},
		{"client error", errors.New("invalid request"), "client_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyRPCError(tt.err))
		})
	}
}
