package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowBurst(t *testing.T) {
	l := New(map[string]Limit{"coingecko": {RPS: 0.001, Burst: 2}})

	assert.True(t, l.Allow("coingecko"))
	assert.True(t, l.Allow("coingecko"))
	assert.False(t, l.Allow("coingecko"))

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("unlimited"))
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(nil)
	l.Set("rpc", Limit{RPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "rpc"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "rpc"))
}
