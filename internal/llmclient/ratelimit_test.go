package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	response string
	err      error
	calls    int
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls++
	return c.response, c.err
}

func TestAdaptiveRateLimiterDelegatesToWrappedClient(t *testing.T) {
	stub := &stubClient{response: "ok"}
	limiter := NewAdaptiveRateLimiter(600000, 600000)
	wrapped := limiter.Wrap(stub)

	out, err := wrapped.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, stub.calls)
}

func TestAdaptiveRateLimiterBacksOffOnRateLimitError(t *testing.T) {
	stub := &stubClient{err: ErrRateLimited}
	limiter := NewAdaptiveRateLimiter(1000, 1000)
	wrapped := limiter.Wrap(stub)

	before := limiter.currentTPM
	_, err := wrapped.Complete(context.Background(), "hello")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Less(t, limiter.currentTPM, before)
}

func TestAdaptiveRateLimiterProbesUpOnSuccess(t *testing.T) {
	stub := &stubClient{response: "ok"}
	limiter := NewAdaptiveRateLimiter(1000, 2000)
	limiter.currentTPM = 1000
	wrapped := limiter.Wrap(stub)

	_, err := wrapped.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Greater(t, limiter.currentTPM, 1000.0)
}

func TestWrapNilClientReturnsNil(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(0, 0)
	assert.Nil(t, limiter.Wrap(nil))
}
